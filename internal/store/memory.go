package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory warehouse, used for dry runs and
// tests. Records are kept per city in append order.
type MemoryStore struct {
	mu sync.RWMutex

	// key: lowercased city, value: records in append order
	data map[string][]weather.Record
	rows int

	// maxHistory caps the records kept per city; <= 0 means unlimited.
	maxHistory int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string][]weather.Record),
		maxHistory: maxHistory,
	}
}

func cityKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// EnsureSchema is a no-op; the in-memory layout cannot drift.
func (s *MemoryStore) EnsureSchema(context.Context) error {
	return nil
}

// Append stores a copy of every record.
func (s *MemoryStore) Append(ctx context.Context, records []weather.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		key := cityKey(rec.City)
		if rec.Temperature != nil {
			rec.Temperature = weather.Float(*rec.Temperature)
		}
		history := append(s.data[key], rec)

		// Enforce retention by count.
		if s.maxHistory > 0 && len(history) > s.maxHistory {
			history = history[len(history)-s.maxHistory:]
		}
		s.data[key] = history
		s.rows++
	}
	return len(records), nil
}

// Latest returns the record with the newest ObservedAt per city.
func (s *MemoryStore) Latest(_ context.Context, city string) ([]weather.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []weather.Record
	for key, history := range s.data {
		if city != "" && key != cityKey(city) {
			continue
		}
		if len(history) == 0 {
			continue
		}
		latest := history[0]
		for _, rec := range history[1:] {
			if !rec.ObservedAt.Before(latest.ObservedAt) {
				latest = rec
			}
		}
		out = append(out, latest)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].City < out[j].City })
	return out, nil
}

// History returns the retained records observed at or after since, newest
// first. An empty city means all cities.
func (s *MemoryStore) History(_ context.Context, city string, since time.Time) ([]weather.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.window(city, since)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	return out, nil
}

// Stats aggregates the retained records History would return.
func (s *MemoryStore) Stats(_ context.Context, city string, since time.Time) (weather.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := weather.AggregateRecords(s.window(city, since), since.UTC(), time.Now().UTC())
	stats.City = strings.TrimSpace(city)
	return stats, nil
}

// window collects records for city (all when empty) observed at or after
// since. Callers hold s.mu.
func (s *MemoryStore) window(city string, since time.Time) []weather.Record {
	want := cityKey(city)
	var out []weather.Record
	for key, history := range s.data {
		if want != "" && key != want {
			continue
		}
		for _, rec := range history {
			if !rec.ObservedAt.Before(since) {
				out = append(out, rec)
			}
		}
	}
	return out
}

// Rows is the total number of records ever appended, including any evicted by
// retention.
func (s *MemoryStore) Rows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ weather.Store = (*MemoryStore)(nil)
