package store

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/variantstore/variantstore/internal/bus"
)

const (
	// fanOutLimit caps concurrent per-variant work for reads and deletes.
	fanOutLimit = 4

	// deleteBatchSize is the number of keys per bulk delete.
	deleteBatchSize = 500

	// scrollPageSize is the page size for restartable scans.
	scrollPageSize = 500
)

// EventStore composes the backend, the publisher boundary, and a logger into
// the four public store operations.
type EventStore struct {
	backend   Backend
	publisher bus.Publisher
	log       *slog.Logger
}

// New builds an EventStore. publisher may be nil for callers that do not
// forward notifications.
func New(backend Backend, publisher bus.Publisher, log *slog.Logger) *EventStore {
	if log == nil {
		log = slog.Default()
	}
	return &EventStore{backend: backend, publisher: publisher, log: log}
}

// Create stamps the event with a best-effort conversion-rate snapshot and
// appends it: the counter for the event's own nature is incremented
// atomically, the counterpart counter is read fresh, and the transformation
// is computed from the pair. The counterpart read is deliberately not
// serialized with concurrent increments; two opposite-nature events arriving
// together may each stamp a rate the other's increment has not reached yet.
func (s *EventStore) Create(ctx context.Context, key EventKey, event Event) (Event, error) {
	var displayed, won int64
	var err error

	switch key.Nature {
	case NatureWon:
		won, err = s.backend.IncrementCounter(ctx, key.ExperimentID, key.VariantID, NatureWon)
		if err != nil {
			return Event{}, fmt.Errorf("create %s: %w", key, err)
		}
		displayed, err = s.backend.ReadCounter(ctx, key.ExperimentID, key.VariantID, NatureDisplayed)
	case NatureDisplayed:
		displayed, err = s.backend.IncrementCounter(ctx, key.ExperimentID, key.VariantID, NatureDisplayed)
		if err != nil {
			return Event{}, fmt.Errorf("create %s: %w", key, err)
		}
		won, err = s.backend.ReadCounter(ctx, key.ExperimentID, key.VariantID, NatureWon)
	default:
		return Event{}, fmt.Errorf("create %s: unknown event nature %q", key, key.Nature)
	}
	if err != nil {
		return Event{}, fmt.Errorf("create %s: %w", key, err)
	}

	event.Key = key
	event.ExperimentID = key.ExperimentID
	event.VariantID = key.VariantID
	event.ClientID = key.ClientID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Transformation = Transformation(displayed, won)

	stored, err := s.backend.AppendEvent(ctx, event)
	if err != nil {
		return Event{}, fmt.Errorf("create %s: %w", key, err)
	}

	// Commit-then-publish: the write is durable at this point, so a publish
	// failure is logged and swallowed.
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, bus.NewNotification(bus.TypeEventCreated, stored)); err != nil {
			s.log.Error("failed to publish created notification", "key", key.String(), "error", err)
		}
	}

	return stored, nil
}

// FindVariantResults computes one VariantResult per variant of the
// experiment, at most fanOutLimit concurrently. Result order follows the
// experiment's variant order.
func (s *EventStore) FindVariantResults(ctx context.Context, experiment Experiment) ([]VariantResult, error) {
	results := make([]VariantResult, len(experiment.Variants))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, variant := range experiment.Variants {
		g.Go(func() error {
			result, err := s.variantResult(ctx, experiment.ID, variant)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("find variant results for %s: %w", experiment.ID, err)
	}
	return results, nil
}

// variantResult runs the read path for one variant: pick the interval from
// the experiment-wide time bounds, fetch the bucketed averages, then read the
// live counters independently of the bucketed query.
func (s *EventStore) variantResult(ctx context.Context, experimentID string, variant Variant) (VariantResult, error) {
	min, max, ok, err := s.backend.EventTimeBounds(ctx, experimentID)
	if err != nil {
		return VariantResult{}, err
	}
	interval := SelectInterval(min, max, ok)

	buckets, err := s.backend.BucketAverages(ctx, experimentID, variant.ID, interval)
	if err != nil {
		return VariantResult{}, err
	}

	displayed, err := s.backend.ReadCounter(ctx, experimentID, variant.ID, NatureDisplayed)
	if err != nil {
		return VariantResult{}, err
	}
	won, err := s.backend.ReadCounter(ctx, experimentID, variant.ID, NatureWon)
	if err != nil {
		return VariantResult{}, err
	}

	return VariantResult{
		Variant:        variant,
		Displayed:      displayed,
		Won:            won,
		Transformation: Transformation(displayed, won),
		Events:         buckets,
	}, nil
}

// DeleteEventsForExperiment removes every event of the experiment: one
// scroll-and-batch-delete worker per variant, at most fanOutLimit at a time.
// Any failed scan or batch fails the whole call; batches already deleted stay
// deleted, which is safe to retry since absent keys delete as no-ops. The
// experiment's counters are cleared once the scrub succeeds.
func (s *EventStore) DeleteEventsForExperiment(ctx context.Context, experiment Experiment) error {
	var mu sync.Mutex
	var total int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, variant := range experiment.Variants {
		g.Go(func() error {
			removed, err := s.deleteVariantEvents(ctx, experiment.ID, variant.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			total += removed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("delete events for %s: %w", experiment.ID, err)
	}

	if err := s.backend.DeleteCounters(ctx, experiment.ID); err != nil {
		return fmt.Errorf("delete events for %s: %w", experiment.ID, err)
	}

	s.log.Info("deleted experiment events",
		"experiment", experiment.ID, "variants", len(experiment.Variants), "removed", total)
	return nil
}

func (s *EventStore) deleteVariantEvents(ctx context.Context, experimentID, variantID string) (int64, error) {
	var removed int64
	afterKey := ""
	for {
		keys, err := s.backend.ScrollEventKeys(ctx, experimentID, variantID, afterKey, scrollPageSize)
		if err != nil {
			return removed, err
		}
		if len(keys) == 0 {
			return removed, nil
		}

		for start := 0; start < len(keys); start += deleteBatchSize {
			end := min(start+deleteBatchSize, len(keys))
			n, err := s.backend.DeleteEvents(ctx, keys[start:end])
			if err != nil {
				return removed, err
			}
			removed += n
		}
		afterKey = keys[len(keys)-1]
	}
}

// ListAll streams every stored event whose composed key matches any of the
// glob patterns; no patterns means everything. The returned iterator pages
// through the backend lazily and is safe to abandon early.
func (s *EventStore) ListAll(ctx context.Context, patterns ...string) *EventIterator {
	it := &EventIterator{
		ctx:      ctx,
		backend:  s.backend,
		patterns: patterns,
	}
	// A malformed glob must surface through Err, not quietly match nothing.
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			it.err = fmt.Errorf("bad key pattern %q: %w", pattern, err)
			break
		}
	}
	return it
}

// EventIterator walks a keyset-paginated scan, sql.Rows style: Next, then
// Event, then Err once Next returns false. Each page is an independent query,
// so abandoning the iterator holds no backend cursor.
type EventIterator struct {
	ctx      context.Context
	backend  Backend
	patterns []string

	page     []Event
	pos      int
	afterKey string
	done     bool
	err      error
	current  Event
}

// Next advances to the next matching event.
func (it *EventIterator) Next() bool {
	for {
		for it.pos < len(it.page) {
			event := it.page[it.pos]
			it.pos++
			if matchesAny(event.Key.String(), it.patterns) {
				it.current = event
				return true
			}
		}

		if it.done || it.err != nil {
			return false
		}

		page, err := it.backend.ScrollEvents(it.ctx, it.afterKey, scrollPageSize)
		if err != nil {
			it.err = err
			return false
		}
		if len(page) == 0 {
			it.done = true
			return false
		}
		it.page = page
		it.pos = 0
		it.afterKey = page[len(page)-1].Key.String()
	}
}

// Event returns the event positioned by the last successful Next.
func (it *EventIterator) Event() Event { return it.current }

// Err reports the first backend failure encountered.
func (it *EventIterator) Err() error { return it.err }

// Close releases the iterator. Pages are self-contained queries, so this only
// stops further paging.
func (it *EventIterator) Close() error {
	it.done = true
	it.page = nil
	return nil
}

func matchesAny(key string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			return true
		}
	}
	return false
}
