package engine

import (
	"context"
	"sync"
	"time"

	"github.com/karmaloop/automation-server-go/internal/config"
	"github.com/karmaloop/automation-server-go/internal/model"
)

// QuotaStore is the daily admission counter behind the scheduler. Counters
// are keyed on (account, action, day); the day is part of the key so a day
// rollover needs no coordinated reset.
type QuotaStore interface {
	// TryReserve atomically grants one unit when the counter is below max
	// and reports how much remains. Denials consume nothing; grants are
	// never refunded, even when the reserved action later fails.
	TryReserve(ctx context.Context, key model.ActionKey, day string, max int) (granted bool, remaining int, err error)
	// Usage returns the number of grants so far for the key and day.
	Usage(ctx context.Context, key model.ActionKey, day string) (int, error)
	// ResetDay drops counters that belong to any day other than day.
	ResetDay(ctx context.Context, day string) error
}

// DayKey buckets t into the UTC day quota counters are keyed on.
func DayKey(t time.Time) string {
	return t.UTC().Format(config.QuotaDayFormat)
}

type quotaKey struct {
	key model.ActionKey
	day string
}

type quotaCounter struct {
	mu    sync.Mutex
	count int
}

// memoryQuota keeps counters in process memory with one lock per counter,
// so contention on one key never serializes admissions for another.
type memoryQuota struct {
	mu       sync.RWMutex
	counters map[quotaKey]*quotaCounter
}

func NewMemoryQuota() QuotaStore {
	return &memoryQuota{counters: make(map[quotaKey]*quotaCounter)}
}

func (s *memoryQuota) counterFor(k quotaKey) *quotaCounter {
	s.mu.RLock()
	c := s.counters[k]
	s.mu.RUnlock()
	if c != nil {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.counters[k]; c != nil {
		return c
	}
	c = &quotaCounter{}
	s.counters[k] = c
	return c
}

func (s *memoryQuota) TryReserve(ctx context.Context, key model.ActionKey, day string, max int) (bool, int, error) {
	if max <= 0 {
		return false, 0, nil
	}

	c := s.counterFor(quotaKey{key: key, day: day})
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count >= max {
		return false, 0, nil
	}
	c.count++
	return true, max - c.count, nil
}

func (s *memoryQuota) Usage(ctx context.Context, key model.ActionKey, day string) (int, error) {
	s.mu.RLock()
	c := s.counters[quotaKey{key: key, day: day}]
	s.mu.RUnlock()
	if c == nil {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, nil
}

func (s *memoryQuota) ResetDay(ctx context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counters {
		if k.day != day {
			delete(s.counters, k)
		}
	}
	return nil
}
