package voice

import (
	"sync"
)

// IdentityMap resolves ephemeral stream ids to durable user ids. Mappings
// arrive via speaking updates with no ordering guarantee from the transport;
// the last writer wins. Observing a stream id also ensures its buffer exists
// in the store, so identity and buffer creation stay coupled.
type IdentityMap struct {
	mu    sync.Mutex
	users map[uint32]string
	store *BufferStore
}

// NewIdentityMap creates an identity map bound to the session's buffer store.
func NewIdentityMap(store *BufferStore) *IdentityMap {
	return &IdentityMap{users: make(map[uint32]string), store: store}
}

// Observe records or overwrites the ssrc -> userID mapping.
func (m *IdentityMap) Observe(ssrc uint32, userID string) {
	m.mu.Lock()
	m.users[ssrc] = userID
	m.mu.Unlock()
	m.store.Ensure(ssrc)
}

// Resolve returns the user id for ssrc, or false if it was never observed.
// Samples for an unresolved stream are still buffered and flushed normally.
func (m *IdentityMap) Resolve(ssrc uint32) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.users[ssrc]
	return uid, ok
}
