package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// backends under test share one contract; every case below runs against both.
func testBackends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

func makeEvent(experimentID, variantID, clientID string, nature Nature, ts time.Time, transformation float64) Event {
	key := NewEventKey(experimentID, variantID, clientID, nature)
	return Event{
		Key:            key,
		ExperimentID:   experimentID,
		VariantID:      variantID,
		ClientID:       clientID,
		Variant:        Variant{ID: variantID, Name: variantID},
		Timestamp:      ts,
		Transformation: transformation,
	}
}

func TestBackend_CounterLifecycle(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Absent counter reads as 0, never an error.
			value, err := backend.ReadCounter(ctx, "exp-1", "A", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, 0, value)

			// First increment initializes to 1.
			value, err = backend.IncrementCounter(ctx, "exp-1", "A", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, 1, value)

			value, err = backend.IncrementCounter(ctx, "exp-1", "A", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, 2, value)

			// Natures and keys are independent.
			value, err = backend.IncrementCounter(ctx, "exp-1", "A", NatureWon)
			require.NoError(t, err)
			require.EqualValues(t, 1, value)

			value, err = backend.ReadCounter(ctx, "exp-1", "B", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, 0, value)

			value, err = backend.ReadCounter(ctx, "exp-1", "A", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, 2, value)
		})
	}
}

func TestBackend_ConcurrentIncrements(t *testing.T) {
	const workers = 50

	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := backend.IncrementCounter(ctx, "exp-c", "A", NatureDisplayed); err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			value, err := backend.ReadCounter(ctx, "exp-c", "A", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, workers, value)
		})
	}
}

func TestBackend_DeleteCounters(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := backend.IncrementCounter(ctx, "exp-1", "A", NatureDisplayed)
			require.NoError(t, err)
			_, err = backend.IncrementCounter(ctx, "exp-1", "B", NatureWon)
			require.NoError(t, err)
			_, err = backend.IncrementCounter(ctx, "exp-2", "A", NatureDisplayed)
			require.NoError(t, err)

			require.NoError(t, backend.DeleteCounters(ctx, "exp-1"))

			value, err := backend.ReadCounter(ctx, "exp-1", "A", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, 0, value)

			value, err = backend.ReadCounter(ctx, "exp-1", "B", NatureWon)
			require.NoError(t, err)
			require.EqualValues(t, 0, value)

			// Other experiments keep their counters.
			value, err = backend.ReadCounter(ctx, "exp-2", "A", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, 1, value)
		})
	}
}

func TestBackend_DeleteCountersMatchesIDLiterally(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// "_" and "%" in an experiment id must not act as wildcards.
			_, err := backend.IncrementCounter(ctx, "exp_1", "A", NatureDisplayed)
			require.NoError(t, err)
			_, err = backend.IncrementCounter(ctx, "expX1", "A", NatureDisplayed)
			require.NoError(t, err)
			_, err = backend.IncrementCounter(ctx, "exp%", "A", NatureWon)
			require.NoError(t, err)
			_, err = backend.IncrementCounter(ctx, "exp-other", "A", NatureWon)
			require.NoError(t, err)

			require.NoError(t, backend.DeleteCounters(ctx, "exp_1"))
			require.NoError(t, backend.DeleteCounters(ctx, "exp%"))

			value, err := backend.ReadCounter(ctx, "exp_1", "A", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, 0, value)

			value, err = backend.ReadCounter(ctx, "exp%", "A", NatureWon)
			require.NoError(t, err)
			require.EqualValues(t, 0, value)

			value, err = backend.ReadCounter(ctx, "expX1", "A", NatureDisplayed)
			require.NoError(t, err)
			require.EqualValues(t, 1, value)

			value, err = backend.ReadCounter(ctx, "exp-other", "A", NatureWon)
			require.NoError(t, err)
			require.EqualValues(t, 1, value)
		})
	}
}

func TestBackend_AppendIsIdempotentByKey(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			event := makeEvent("exp-1", "A", "client-1", NatureDisplayed, time.Now().UTC(), 0)

			_, err := backend.AppendEvent(ctx, event)
			require.NoError(t, err)

			// Rewriting the same key replaces, it does not duplicate.
			event.Transformation = 50
			_, err = backend.AppendEvent(ctx, event)
			require.NoError(t, err)

			events, err := backend.ScrollEvents(ctx, "", 100)
			require.NoError(t, err)
			require.Len(t, events, 1)
			require.Equal(t, event.Key.String(), events[0].Key.String())
			require.InDelta(t, 50, events[0].Transformation, 0.001)
		})
	}
}

func TestBackend_ScrollPagination(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.Now().UTC()

			for i := 0; i < 7; i++ {
				_, err := backend.AppendEvent(ctx, makeEvent("exp-1", "A", "client", NatureDisplayed, ts, 0))
				require.NoError(t, err)
			}

			var collected []Event
			afterKey := ""
			for {
				page, err := backend.ScrollEvents(ctx, afterKey, 3)
				require.NoError(t, err)
				if len(page) == 0 {
					break
				}
				require.LessOrEqual(t, len(page), 3)
				collected = append(collected, page...)
				afterKey = page[len(page)-1].Key.String()
			}
			require.Len(t, collected, 7)

			// Keys arrive ordered and unique across pages.
			seen := make(map[string]bool)
			prev := ""
			for _, event := range collected {
				key := event.Key.String()
				require.Greater(t, key, prev)
				require.False(t, seen[key])
				seen[key] = true
				prev = key
			}
		})
	}
}

func TestBackend_ScrollEventKeysFiltersVariant(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.Now().UTC()

			for i := 0; i < 3; i++ {
				_, err := backend.AppendEvent(ctx, makeEvent("exp-1", "A", "client", NatureDisplayed, ts, 0))
				require.NoError(t, err)
			}
			_, err := backend.AppendEvent(ctx, makeEvent("exp-1", "B", "client", NatureDisplayed, ts, 0))
			require.NoError(t, err)
			_, err = backend.AppendEvent(ctx, makeEvent("exp-2", "A", "client", NatureDisplayed, ts, 0))
			require.NoError(t, err)

			keys, err := backend.ScrollEventKeys(ctx, "exp-1", "A", "", 100)
			require.NoError(t, err)
			require.Len(t, keys, 3)
		})
	}
}

func TestBackend_DeleteEvents(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.Now().UTC()

			var keys []string
			for i := 0; i < 4; i++ {
				event := makeEvent("exp-1", "A", "client", NatureDisplayed, ts, 0)
				_, err := backend.AppendEvent(ctx, event)
				require.NoError(t, err)
				keys = append(keys, event.Key.String())
			}

			removed, err := backend.DeleteEvents(ctx, keys[:2])
			require.NoError(t, err)
			require.EqualValues(t, 2, removed)

			// Deleting an already-absent key is a no-op.
			removed, err = backend.DeleteEvents(ctx, keys[:2])
			require.NoError(t, err)
			require.EqualValues(t, 0, removed)

			removed, err = backend.DeleteEvents(ctx, nil)
			require.NoError(t, err)
			require.EqualValues(t, 0, removed)

			events, err := backend.ScrollEvents(ctx, "", 100)
			require.NoError(t, err)
			require.Len(t, events, 2)
		})
	}
}

func TestBackend_EventTimeBounds(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, _, ok, err := backend.EventTimeBounds(ctx, "exp-1")
			require.NoError(t, err)
			require.False(t, ok)

			early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			late := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

			_, err = backend.AppendEvent(ctx, makeEvent("exp-1", "A", "client", NatureDisplayed, late, 0))
			require.NoError(t, err)
			_, err = backend.AppendEvent(ctx, makeEvent("exp-1", "B", "client", NatureDisplayed, early, 0))
			require.NoError(t, err)

			// Bounds span the whole experiment, not a single variant.
			min, max, ok, err := backend.EventTimeBounds(ctx, "exp-1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, early.Unix(), min.Unix())
			require.Equal(t, late.Unix(), max.Unix())
		})
	}
}

func TestBackend_BucketAverages(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			january := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
			february := time.Date(2024, 2, 20, 9, 0, 0, 0, time.UTC)

			// Two displayed snapshots in January average to 15; one won
			// snapshot in January stays 40; February holds a single pair.
			for _, event := range []Event{
				makeEvent("exp-1", "A", "c1", NatureDisplayed, january, 10),
				makeEvent("exp-1", "A", "c2", NatureDisplayed, january.Add(time.Hour), 20),
				makeEvent("exp-1", "A", "c3", NatureWon, january, 40),
				makeEvent("exp-1", "A", "c4", NatureDisplayed, february, 30),
				makeEvent("exp-1", "B", "c5", NatureDisplayed, january, 99),
			} {
				_, err := backend.AppendEvent(ctx, event)
				require.NoError(t, err)
			}

			buckets, err := backend.BucketAverages(ctx, "exp-1", "A", IntervalMonth)
			require.NoError(t, err)
			require.Len(t, buckets, 2)

			require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), buckets[0].Timestamp)
			require.InDelta(t, 15, buckets[0].Averages[NatureDisplayed], 0.001)
			require.InDelta(t, 40, buckets[0].Averages[NatureWon], 0.001)

			require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), buckets[1].Timestamp)
			require.InDelta(t, 30, buckets[1].Averages[NatureDisplayed], 0.001)

			// No events for the variant means no buckets.
			buckets, err = backend.BucketAverages(ctx, "exp-1", "C", IntervalMonth)
			require.NoError(t, err)
			require.Empty(t, buckets)
		})
	}
}
