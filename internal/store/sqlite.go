package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend is the representative physical backend: a single embedded
// database holding the event log, both counter collections, and the minimal
// experiment registry.
type SQLiteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    variants TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE TABLE IF NOT EXISTS events (
    key TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    nature TEXT NOT NULL,
    variant TEXT NOT NULL,
    transformation REAL NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(experiment_id);
CREATE INDEX IF NOT EXISTS idx_events_variant ON events(experiment_id, variant_id);

CREATE TABLE IF NOT EXISTS displayed_counters (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS won_counters (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
`

func Open(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection; concurrent increments queue in the pool
	// instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteBackend) DB() *sql.DB {
	return s.db
}

// counterKey composes the counter collection key, one entry per
// (experiment, variant) pair.
func counterKey(experimentID, variantID string) string {
	return experimentID + "." + variantID
}

func counterTable(nature Nature) string {
	if nature == NatureWon {
		return "won_counters"
	}
	return "displayed_counters"
}

func (s *SQLiteBackend) IncrementCounter(ctx context.Context, experimentID, variantID string, nature Nature) (int64, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES (?, 1)
		 ON CONFLICT(key) DO UPDATE SET value = value + 1
		 RETURNING value`, counterTable(nature))

	var lastErr error
	for attempt := 0; attempt < counterRetries; attempt++ {
		var value int64
		err := s.db.QueryRowContext(ctx, query, counterKey(experimentID, variantID)).Scan(&value)
		if err == nil {
			return value, nil
		}
		if !isRetryable(err) {
			return 0, fmt.Errorf("failed to increment %s counter: %w", nature, err)
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	return 0, fmt.Errorf("%w: increment %s counter: %v", ErrTooManyConflicts, nature, lastErr)
}

func (s *SQLiteBackend) ReadCounter(ctx context.Context, experimentID, variantID string, nature Nature) (int64, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, counterTable(nature))

	var value int64
	err := s.db.QueryRowContext(ctx, query, counterKey(experimentID, variantID)).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s counter: %w", nature, err)
	}
	return value, nil
}

func (s *SQLiteBackend) DeleteCounters(ctx context.Context, experimentID string) error {
	prefix := likeEscape(experimentID) + ".%"
	for _, table := range []string{"displayed_counters", "won_counters"} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE key LIKE ? ESCAPE '\'`, table)
		if _, err := s.db.ExecContext(ctx, query, prefix); err != nil {
			return fmt.Errorf("failed to delete counters: %w", err)
		}
	}
	return nil
}

// likeEscape neutralizes LIKE wildcards so an experiment id is matched
// literally; ids like "exp_1" must not also match "expX1".
func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *SQLiteBackend) AppendEvent(ctx context.Context, event Event) (Event, error) {
	variantJSON, err := json.Marshal(event.Variant)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal variant: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (key, experiment_id, variant_id, client_id, nature, variant, transformation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		     variant = excluded.variant,
		     transformation = excluded.transformation,
		     created_at = excluded.created_at`,
		event.Key.String(), event.ExperimentID, event.VariantID, event.ClientID,
		string(event.Key.Nature), string(variantJSON), event.Transformation, event.Timestamp.Unix(),
	)
	if err != nil {
		return Event{}, fmt.Errorf("failed to append event: %w", err)
	}
	return event, nil
}

func (s *SQLiteBackend) ScrollEvents(ctx context.Context, afterKey string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, experiment_id, variant_id, client_id, nature, variant, transformation, created_at
		 FROM events WHERE key > ? ORDER BY key LIMIT ?`,
		afterKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scroll events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLiteBackend) ScrollEventKeys(ctx context.Context, experimentID, variantID, afterKey string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM events
		 WHERE experiment_id = ? AND variant_id = ? AND key > ?
		 ORDER BY key LIMIT ?`,
		experimentID, variantID, afterKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scroll event keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan event key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteBackend) DeleteEvents(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(keys)-1) + "?"
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM events WHERE key IN (%s)`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}

func (s *SQLiteBackend) EventTimeBounds(ctx context.Context, experimentID string) (time.Time, time.Time, bool, error) {
	var minTS, maxTS sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at), MAX(created_at) FROM events WHERE experiment_id = ?`,
		experimentID,
	).Scan(&minTS, &maxTS)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to query time bounds: %w", err)
	}
	if !minTS.Valid || !maxTS.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return time.Unix(minTS.Int64, 0).UTC(), time.Unix(maxTS.Int64, 0).UTC(), true, nil
}

// bucketExprs truncate created_at (unix seconds) to the bucket start for each
// interval. Must agree with bucketStart.
var bucketExprs = map[Interval]string{
	IntervalSecond: `created_at`,
	IntervalMinute: `(created_at / 60) * 60`,
	IntervalHour:   `(created_at / 3600) * 3600`,
	IntervalDay:    `(created_at / 86400) * 86400`,
	IntervalWeek:   `(created_at / 604800) * 604800`,
	IntervalMonth:  `CAST(strftime('%s', date(created_at, 'unixepoch', 'start of month')) AS INTEGER)`,
}

func (s *SQLiteBackend) BucketAverages(ctx context.Context, experimentID, variantID string, interval Interval) ([]Bucket, error) {
	expr, okExpr := bucketExprs[interval]
	if !okExpr {
		return nil, fmt.Errorf("unknown interval %q", interval)
	}

	query := fmt.Sprintf(`
		SELECT %s AS bucket, nature, AVG(transformation)
		FROM events
		WHERE experiment_id = ? AND variant_id = ?
		GROUP BY bucket, nature
		ORDER BY bucket`, expr)

	rows, err := s.db.QueryContext(ctx, query, experimentID, variantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bucket averages: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var bucketTS int64
		var nature string
		var avg float64
		if err := rows.Scan(&bucketTS, &nature, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}

		ts := time.Unix(bucketTS, 0).UTC()
		if n := len(buckets); n > 0 && buckets[n-1].Timestamp.Equal(ts) {
			buckets[n-1].Averages[Nature(nature)] = avg
			continue
		}
		buckets = append(buckets, Bucket{
			Timestamp: ts,
			Averages:  map[Nature]float64{Nature(nature): avg},
		})
	}
	return buckets, rows.Err()
}

// CreateExperiment registers an experiment in the minimal registry backing
// the CLI and HTTP surfaces.
func (s *SQLiteBackend) CreateExperiment(ctx context.Context, exp Experiment) (Experiment, error) {
	variantsJSON, err := json.Marshal(exp.Variants)
	if err != nil {
		return Experiment{}, fmt.Errorf("failed to marshal variants: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, name, description, variants, created_at) VALUES (?, ?, ?, ?, ?)`,
		exp.ID, exp.Name, exp.Description, string(variantsJSON), now,
	)
	if err != nil {
		return Experiment{}, fmt.Errorf("failed to insert experiment: %w", err)
	}

	exp.CreatedAt = time.Unix(now, 0)
	return exp, nil
}

func (s *SQLiteBackend) GetExperiment(ctx context.Context, id string) (Experiment, error) {
	var exp Experiment
	var variantsJSON string
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, variants, created_at FROM experiments WHERE id = ?`, id,
	).Scan(&exp.ID, &exp.Name, &exp.Description, &variantsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Experiment{}, ErrNotFound
	}
	if err != nil {
		return Experiment{}, fmt.Errorf("failed to get experiment: %w", err)
	}

	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return Experiment{}, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	exp.CreatedAt = time.Unix(createdAt, 0)
	return exp, nil
}

func (s *SQLiteBackend) ListExperiments(ctx context.Context) ([]Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, variants, created_at FROM experiments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []Experiment
	for rows.Next() {
		var exp Experiment
		var variantsJSON string
		var createdAt int64
		if err := rows.Scan(&exp.ID, &exp.Name, &exp.Description, &variantsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
		}
		exp.CreatedAt = time.Unix(createdAt, 0)
		experiments = append(experiments, exp)
	}
	return experiments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var event Event
	var nature, variantJSON string
	var createdAt int64
	var key string

	err := row.Scan(&key, &event.ExperimentID, &event.VariantID, &event.ClientID,
		&nature, &variantJSON, &event.Transformation, &createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("failed to scan event: %w", err)
	}

	if err := json.Unmarshal([]byte(variantJSON), &event.Variant); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal variant: %w", err)
	}

	event.Key = parseEventKey(key, event, Nature(nature))
	event.Timestamp = time.Unix(createdAt, 0).UTC()
	return event, nil
}

// parseEventKey rebuilds the key struct from the stored composed form. The
// uuid is the final segment; the other fields come from their own columns.
func parseEventKey(composed string, event Event, nature Nature) EventKey {
	id := composed
	if i := strings.LastIndex(composed, ":"); i >= 0 {
		id = composed[i+1:]
	}
	return EventKey{
		ExperimentID: event.ExperimentID,
		VariantID:    event.VariantID,
		ClientID:     event.ClientID,
		Nature:       nature,
		ID:           id,
	}
}

// isRetryable reports whether a write failed on a transient lock or busy
// condition worth retrying.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
