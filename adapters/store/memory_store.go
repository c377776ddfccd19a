package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-memory implementation of the Store interface.
// It does not scale past a single relay process.
type MemoryStore struct {
	data map[string]memoryEntry
	mu   sync.Mutex
}

// NewMemoryStore creates a new in-memory store whose expired keys are swept
// until ctx is done
func NewMemoryStore(ctx context.Context) ports.Store {
	s := &MemoryStore{
		data: make(map[string]memoryEntry),
	}

	go s.cleanupThread(ctx)

	return s
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = memoryEntry{value: value, expiresAt: expiryFrom(time.Now(), ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrNotFound, key)
	}

	return e.value, nil
}

func (s *MemoryStore) Consume(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); !ok {
		return false, nil
	}

	delete(s.data, key)
	return true, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.lookup(key)

	var current int64
	if e.value != "" {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer: %w", key, err)
		}
		current = v
	}

	current++
	s.data[key] = memoryEntry{value: strconv.FormatInt(current, 10), expiresAt: keepOrSetExpiry(e, ttl)}

	return current, nil
}

func (s *MemoryStore) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.lookup(key)

	var current float64
	if e.value != "" {
		v, err := strconv.ParseFloat(e.value, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not a float: %w", key, err)
		}
		current = v
	}

	current += delta
	s.data[key] = memoryEntry{value: strconv.FormatFloat(current, 'f', -1, 64), expiresAt: keepOrSetExpiry(e, ttl)}

	return current, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Clear removes all data from the store
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]memoryEntry)
}

// lookup returns the live entry for key, dropping it when expired.
// Callers hold s.mu.
func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}

	if e.expired(time.Now()) {
		delete(s.data, key)
		return memoryEntry{}, false
	}

	return e, true
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
		}
	}
}

func (s *MemoryStore) cleanupThread(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.cleanup()
		}
	}
}

func expiryFrom(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// keepOrSetExpiry mirrors EXPIRE NX: an existing expiry wins.
func keepOrSetExpiry(e memoryEntry, ttl time.Duration) time.Time {
	if !e.expiresAt.IsZero() {
		return e.expiresAt
	}
	return expiryFrom(time.Now(), ttl)
}
