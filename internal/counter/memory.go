package counter

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
)

// Memory is the in-process Store, a map guarded by a mutex. Expiry is
// driven by the injected clock so tests can cross TTL boundaries without
// sleeping. Single-node deployments run on this store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	clock clock.Clock
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemory returns an empty in-process store using c for expiry checks.
func NewMemory(c clock.Clock) *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
		clock: c,
	}
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.live(key)
	if !ok {
		return nil, nil
	}
	return bytes.Clone(item.value), nil
}

func (s *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, bytes.Clone(value), ttl)
	return nil
}

func (s *Memory) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	item, ok := s.live(key)
	if ok {
		n, err := strconv.ParseInt(string(item.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: key %q holds %q", ErrNotInteger, key, item.value)
		}
		current = n
		// Key already lives; keep its deadline.
		item.value = []byte(strconv.FormatInt(current+delta, 10))
		s.items[key] = item
		return current + delta, nil
	}

	// Fresh key: ttl starts counting from this first increment.
	s.put(key, []byte(strconv.FormatInt(delta, 10)), ttl)
	return delta, nil
}

func (s *Memory) CompareAndSwap(_ context.Context, key string, prev, next []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.live(key)
	switch {
	case len(prev) == 0:
		if ok {
			return false, nil
		}
	case !ok:
		return false, nil
	case !bytes.Equal(item.value, prev):
		return false, nil
	}

	s.put(key, bytes.Clone(next), ttl)
	return true, nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// Close satisfies Store; the map is garbage for the collector.
func (s *Memory) Close() error {
	return nil
}

// Cleanup drops every expired entry. Increment and CompareAndSwap already
// treat expired entries as absent, so this only reclaims memory.
func (s *Memory) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, item := range s.items {
		if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
			delete(s.items, key)
		}
	}
}

// StartJanitor runs Cleanup every interval until ctx is cancelled.
func (s *Memory) StartJanitor(ctx context.Context, every time.Duration) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(every):
				s.Cleanup()
			}
		}
	}()
}

// Len reports the number of entries, expired ones included.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// live returns the entry for key if it exists and has not expired.
// Caller holds at least a read lock.
func (s *Memory) live(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !s.clock.Now().Before(item.expiresAt) {
		return memoryItem{}, false
	}
	return item, true
}

// put stores value under key with a fresh deadline. Caller holds the
// write lock.
func (s *Memory) put(key string, value []byte, ttl time.Duration) {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = s.clock.Now().Add(ttl)
	}
	s.items[key] = item
}
