package voice

import (
	"sync"
)

// BufferStore accumulates decoded PCM samples per stream id. Appends come
// from the tick path, drains from flush dispatch; both are cheap in-memory
// operations guarded by one mutex. Absence of a key is a valid, silent state:
// no operation fails.
type BufferStore struct {
	mu      sync.Mutex
	buffers map[uint32][]int16
}

// NewBufferStore creates an empty store.
func NewBufferStore() *BufferStore {
	return &BufferStore{buffers: make(map[uint32][]int16)}
}

// Append adds samples to the buffer for ssrc, creating it if absent.
func (s *BufferStore) Append(ssrc uint32, samples []int16) {
	if len(samples) == 0 {
		return
	}
	s.mu.Lock()
	s.buffers[ssrc] = append(s.buffers[ssrc], samples...)
	s.mu.Unlock()
}

// Ensure creates an empty buffer for ssrc if none exists yet.
func (s *BufferStore) Ensure(ssrc uint32) {
	s.mu.Lock()
	if _, ok := s.buffers[ssrc]; !ok {
		s.buffers[ssrc] = nil
	}
	s.mu.Unlock()
}

// Drain atomically removes and returns all buffered samples for ssrc,
// resetting the buffer to empty. Samples appended after Drain returns belong
// to the next turn. Returns nil if the key is absent or empty.
func (s *BufferStore) Drain(ssrc uint32) []int16 {
	s.mu.Lock()
	samples := s.buffers[ssrc]
	if samples != nil {
		s.buffers[ssrc] = nil
	}
	s.mu.Unlock()
	return samples
}

// NonEmpty returns the stream ids that currently hold buffered samples.
func (s *BufferStore) NonEmpty() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint32
	for ssrc, buf := range s.buffers {
		if len(buf) > 0 {
			out = append(out, ssrc)
		}
	}
	return out
}

// Len returns the number of buffered samples for ssrc.
func (s *BufferStore) Len(ssrc uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers[ssrc])
}
