package voice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/discord-companion/internal/config"
	"github.com/discord-companion/internal/logging"
	"github.com/discord-companion/internal/metrics"
)

// ErrSessionExists is returned by Join when the room already has a live
// session. Joining is reject-on-conflict: the caller must Leave first.
var ErrSessionExists = errors.New("voice session already active")

// Registry owns at most one voice session per guild and is the only creator
// and destroyer of sessions. It also implements Player: playback requests for
// rooms without a live session are dropped with a log line, never an error.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]struct{}

	pipeline *TurnPipeline
	metrics  *metrics.Metrics
}

// NewRegistry builds the registry and the shared turn pipeline. The inference
// handle is injected here so the conversation-context serialization boundary
// is explicit rather than ambient process state.
func NewRegistry(inference Inference, cfg *config.Config, m *metrics.Metrics) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		pending:  make(map[string]struct{}),
		metrics:  m,
	}
	r.pipeline = NewTurnPipeline(inference, r, &cfg.Audio, cfg.Pipeline.DataDir, cfg.OpenAI.Timeout(), m)
	return r
}

// Join establishes the session for guildID. The guild is reserved before
// connect runs, so concurrent joins never each dial the voice backend: the
// loser is rejected without ever touching the shared connection. connect runs
// outside the registry lock; by the time the session is observable it is
// fully initialized and running.
func (r *Registry) Join(guildID string, connect func() (Transport, error)) error {
	r.mu.Lock()
	if _, ok := r.sessions[guildID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: guild %s", ErrSessionExists, guildID)
	}
	if _, ok := r.pending[guildID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: guild %s", ErrSessionExists, guildID)
	}
	r.pending[guildID] = struct{}{}
	r.mu.Unlock()

	transport, err := connect()

	r.mu.Lock()
	delete(r.pending, guildID)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("voice connect failed for guild %s: %w", guildID, err)
	}
	r.sessions[guildID] = newSession(guildID, transport, r.pipeline, r, r.metrics)
	if r.metrics != nil {
		r.metrics.SessionsCreated.Inc()
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()
	logging.Infow("voice session created", "guild", guildID)
	return nil
}

// Leave tears down the session for guildID. Turn pipelines already in flight
// keep running; only their playback becomes a no-op.
func (r *Registry) Leave(guildID string) error {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	if ok {
		delete(r.sessions, guildID)
		if r.metrics != nil {
			r.metrics.SessionsClosed.Inc()
			r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active voice session for guild %s", guildID)
	}
	s.close()
	return nil
}

// Active reports whether guildID has a live session.
func (r *Registry) Active(guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[guildID]
	return ok
}

// Play enqueues a synthesized asset on the room's live transport. If the room
// was left while inference was in flight this is a logged no-op.
func (r *Registry) Play(guildID string, assetPath string) {
	r.mu.Lock()
	s := r.sessions[guildID]
	r.mu.Unlock()
	if s == nil {
		if r.metrics != nil {
			r.metrics.PlaybackDropped.Inc()
		}
		logging.Infow("playback dropped; no live session", "guild", guildID, "asset", assetPath)
		return
	}
	if s.enqueuePlayback(assetPath) {
		if r.metrics != nil {
			r.metrics.PlaybackEnqueued.Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.PlaybackDropped.Inc()
	}
	logging.Warnw("playback dropped; queue unavailable", "guild", guildID, "asset", assetPath)
}

// CloseAll tears down every session, for process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(0)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// removeIfCurrent removes s from the registry only if it is still the live
// session for guildID. Used by a session tearing itself down after a
// transport failure, so it cannot race a concurrent Leave+Join pair.
func (r *Registry) removeIfCurrent(guildID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[guildID]; ok && cur == s {
		delete(r.sessions, guildID)
		if r.metrics != nil {
			r.metrics.SessionsClosed.Inc()
			r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
		}
		return true
	}
	return false
}
