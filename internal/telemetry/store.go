// Package telemetry holds the in-memory window of recent drone telemetry.
package telemetry

import (
	"sync"

	"drone-command-gateway/internal/models"
)

// DefaultCapacity is the number of samples retained when no capacity is configured
const DefaultCapacity = 100

// Store is a fixed-capacity ring buffer of telemetry samples.
// Once full, each append overwrites the oldest sample.
type Store struct {
	mu      sync.RWMutex
	buf     []models.TelemetrySample
	head    int // index of the oldest sample
	count   int
	current *models.TelemetrySample
}

// Snapshot is a consistent copy of the store contents
type Snapshot struct {
	Current *models.TelemetrySample  `json:"current"`
	History []models.TelemetrySample `json:"history"`
	Count   int                      `json:"count"`
}

// NewStore creates a store holding at most capacity samples
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{buf: make([]models.TelemetrySample, capacity)}
}

// Capacity returns the maximum number of retained samples
func (s *Store) Capacity() int {
	return len(s.buf)
}

// Append adds a sample and makes it the current one
func (s *Store) Append(sample models.TelemetrySample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(sample)
}

func (s *Store) appendLocked(sample models.TelemetrySample) {
	if s.count < len(s.buf) {
		s.buf[(s.head+s.count)%len(s.buf)] = sample
		s.count++
	} else {
		s.buf[s.head] = sample
		s.head = (s.head + 1) % len(s.buf)
	}

	latest := sample
	s.current = &latest
}

// Restore appends samples in order, e.g. to reseed the window after a restart
func (s *Store) Restore(samples []models.TelemetrySample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range samples {
		s.appendLocked(sample)
	}
}

// Snapshot returns the current sample and the retained history in insertion order
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]models.TelemetrySample, 0, s.count)
	for i := 0; i < s.count; i++ {
		history = append(history, s.buf[(s.head+i)%len(s.buf)])
	}

	var current *models.TelemetrySample
	if s.current != nil {
		latest := *s.current
		current = &latest
	}

	return Snapshot{Current: current, History: history, Count: len(history)}
}
