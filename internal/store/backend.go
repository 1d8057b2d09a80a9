package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for lookups of absent records. Counter reads
	// never return it: a missing counter reads as 0.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a concurrent write collision on a counter. Backends
	// retry it internally; callers only ever see ErrTooManyConflicts.
	ErrConflict = errors.New("write conflict")

	// ErrTooManyConflicts is surfaced once a backend exhausts its internal
	// retry budget for a counter update.
	ErrTooManyConflicts = errors.New("write conflict: retries exhausted")
)

// counterRetries bounds the backend-internal retry loop on counter conflicts.
const counterRetries = 5

// Backend is the contract every physical store satisfies. Implementations
// guarantee per-key atomicity of IncrementCounter; no cross-key ordering is
// provided or assumed.
type Backend interface {
	// IncrementCounter atomically adds 1 to the counter of the given nature
	// for (experimentID, variantID), initializing an absent counter to 1, and
	// returns the new value. Conflicting concurrent updates are retried
	// internally up to counterRetries attempts.
	IncrementCounter(ctx context.Context, experimentID, variantID string, nature Nature) (int64, error)

	// ReadCounter returns the current value, 0 when the counter is absent.
	ReadCounter(ctx context.Context, experimentID, variantID string, nature Nature) (int64, error)

	// DeleteCounters removes both natures' counters for every variant of the
	// experiment. Absent counters are a no-op.
	DeleteCounters(ctx context.Context, experimentID string) error

	// AppendEvent persists the event, replacing any existing record with the
	// same key, and returns the stored event.
	AppendEvent(ctx context.Context, event Event) (Event, error)

	// ScrollEvents pages through all events ordered by key. Pass the last key
	// of the previous page as afterKey ("" starts over); an empty page ends
	// the scan. Restartable: every page is an independent query.
	ScrollEvents(ctx context.Context, afterKey string, limit int) ([]Event, error)

	// ScrollEventKeys pages through the keys of one (experiment, variant)
	// pair, ordered, with the same keyset protocol as ScrollEvents.
	ScrollEventKeys(ctx context.Context, experimentID, variantID, afterKey string, limit int) ([]string, error)

	// DeleteEvents removes the given keys in one batch and reports how many
	// existed. Deleting an absent key is a no-op.
	DeleteEvents(ctx context.Context, keys []string) (int64, error)

	// EventTimeBounds returns the min and max event timestamps across the
	// whole experiment. ok is false when the experiment has no events.
	EventTimeBounds(ctx context.Context, experimentID string) (min, max time.Time, ok bool, err error)

	// BucketAverages groups the variant's events into buckets of the given
	// interval and averages the stored transformation per nature within each
	// bucket. Ordered by bucket start; empty buckets are omitted.
	BucketAverages(ctx context.Context, experimentID, variantID string, interval Interval) ([]Bucket, error)

	Close() error
}
