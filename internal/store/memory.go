package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend implements the backend contract in process, for tests and
// embedded use. Counter increments serialize under a mutex, which satisfies
// the per-key atomicity contract trivially; the bounded conflict-retry budget
// belongs to conditional-update backends like SQLiteBackend.
type MemoryBackend struct {
	mu     sync.RWMutex
	events map[string]Event

	counterMu sync.Mutex
	displayed map[string]int64
	won       map[string]int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		events:    make(map[string]Event),
		displayed: make(map[string]int64),
		won:       make(map[string]int64),
	}
}

func (m *MemoryBackend) Close() error { return nil }

// counters must be called with counterMu held.
func (m *MemoryBackend) counters(nature Nature) map[string]int64 {
	if nature == NatureWon {
		return m.won
	}
	return m.displayed
}

func (m *MemoryBackend) IncrementCounter(ctx context.Context, experimentID, variantID string, nature Nature) (int64, error) {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	counters := m.counters(nature)
	key := counterKey(experimentID, variantID)
	counters[key]++
	return counters[key], nil
}

func (m *MemoryBackend) ReadCounter(ctx context.Context, experimentID, variantID string, nature Nature) (int64, error) {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()
	return m.counters(nature)[counterKey(experimentID, variantID)], nil
}

func (m *MemoryBackend) DeleteCounters(ctx context.Context, experimentID string) error {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	prefix := experimentID + "."
	for _, counters := range []map[string]int64{m.displayed, m.won} {
		for key := range counters {
			if strings.HasPrefix(key, prefix) {
				delete(counters, key)
			}
		}
	}
	return nil
}

func (m *MemoryBackend) AppendEvent(ctx context.Context, event Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.Key.String()] = event
	return event, nil
}

func (m *MemoryBackend) ScrollEvents(ctx context.Context, afterKey string, limit int) ([]Event, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.events))
	for k := range m.events {
		if k > afterKey {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]Event, 0, len(keys))
	for _, k := range keys {
		if event, ok := m.events[k]; ok {
			events = append(events, event)
		}
	}
	return events, nil
}

func (m *MemoryBackend) ScrollEventKeys(ctx context.Context, experimentID, variantID, afterKey string, limit int) ([]string, error) {
	m.mu.RLock()
	var keys []string
	for k, event := range m.events {
		if event.ExperimentID == experimentID && event.VariantID == variantID && k > afterKey {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *MemoryBackend) DeleteEvents(ctx context.Context, keys []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for _, k := range keys {
		if _, ok := m.events[k]; ok {
			delete(m.events, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) EventTimeBounds(ctx context.Context, experimentID string) (time.Time, time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var min, max time.Time
	found := false
	for _, event := range m.events {
		if event.ExperimentID != experimentID {
			continue
		}
		if !found || event.Timestamp.Before(min) {
			min = event.Timestamp
		}
		if !found || event.Timestamp.After(max) {
			max = event.Timestamp
		}
		found = true
	}
	return min, max, found, nil
}

func (m *MemoryBackend) BucketAverages(ctx context.Context, experimentID, variantID string, interval Interval) ([]Bucket, error) {
	type accumulator struct {
		sum   float64
		count int
	}

	m.mu.RLock()
	sums := make(map[time.Time]map[Nature]*accumulator)
	for _, event := range m.events {
		if event.ExperimentID != experimentID || event.VariantID != variantID {
			continue
		}
		ts := bucketStart(event.Timestamp, interval)
		byNature, ok := sums[ts]
		if !ok {
			byNature = make(map[Nature]*accumulator)
			sums[ts] = byNature
		}
		acc, ok := byNature[event.Key.Nature]
		if !ok {
			acc = &accumulator{}
			byNature[event.Key.Nature] = acc
		}
		acc.sum += event.Transformation
		acc.count++
	}
	m.mu.RUnlock()

	buckets := make([]Bucket, 0, len(sums))
	for ts, byNature := range sums {
		averages := make(map[Nature]float64, len(byNature))
		for nature, acc := range byNature {
			averages[nature] = acc.sum / float64(acc.count)
		}
		buckets = append(buckets, Bucket{Timestamp: ts, Averages: averages})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Timestamp.Before(buckets[j].Timestamp) })
	return buckets, nil
}
