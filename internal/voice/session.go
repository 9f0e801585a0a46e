package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/discord-companion/internal/logging"
	"github.com/discord-companion/internal/metrics"
)

// Transport is a room's live connection to the voice backend. Events delivers
// the closed event union until the connection dies or Close is called, then
// the channel is closed. Play blocks while an asset is being streamed out.
type Transport interface {
	Events() <-chan Event
	Play(ctx context.Context, wavPath string) error
	Close() error
}

// Session owns all per-room voice state: the sample buffers, the identity
// map, the silence detector and the playback queue. It is created and torn
// down only by the Registry.
type Session struct {
	guildID    string
	transport  Transport
	buffers    *BufferStore
	identities *IdentityMap
	silence    SilenceDetector
	pipeline   *TurnPipeline
	registry   *Registry
	metrics    *metrics.Metrics

	playCh    chan string
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSession(guildID string, transport Transport, pipeline *TurnPipeline, registry *Registry, m *metrics.Metrics) *Session {
	buffers := NewBufferStore()
	s := &Session{
		guildID:    guildID,
		transport:  transport,
		buffers:    buffers,
		identities: NewIdentityMap(buffers),
		pipeline:   pipeline,
		registry:   registry,
		metrics:    m,
		playCh:     make(chan string, 16),
		done:       make(chan struct{}),
	}
	s.wg.Add(2)
	go s.run()
	go s.playLoop()
	return s
}

// run is the tick-delivery path. It must never wait on a network call: ticks
// gate the next tick's timeliness, so everything here is in-memory work and
// turn pipelines are dispatched as detached goroutines.
func (s *Session) run() {
	defer s.wg.Done()
	for ev := range s.transport.Events() {
		switch e := ev.(type) {
		case Tick:
			s.handleTick(e)
		case SpeakingUpdate:
			if e.UserID != "" {
				s.identities.Observe(e.SSRC, e.UserID)
			}
			logging.Debugw("speaking update", "guild", s.guildID, "ssrc", e.SSRC,
				"user_id", e.UserID, "speaking", e.Speaking)
		case Disconnect:
			// No flush: the participant's buffered samples stay until the
			// next silence edge.
			logging.Infow("participant disconnected", "guild", s.guildID, "user_id", e.UserID)
		case TrackError:
			logging.Warnw("track error", "guild", s.guildID, "ssrc", e.SSRC, "err", e.Err)
		case TransportDiagnostic:
			logging.Debugw("transport diagnostic", "guild", s.guildID, "kind", e.Kind, "detail", e.Detail)
		}
	}
	// The event stream ended. If the registry still knows this session the
	// transport died underneath us, which is session-fatal.
	if s.registry.removeIfCurrent(s.guildID, s) {
		logging.Errorw("voice transport failed; tearing down session", "guild", s.guildID)
		go s.close()
	}
}

func (s *Session) handleTick(t Tick) {
	if s.metrics != nil {
		s.metrics.TicksProcessed.Inc()
	}
	for ssrc, frame := range t.Speaking {
		s.buffers.Append(ssrc, frame)
	}
	if !s.silence.Observe(len(t.Speaking)) {
		return
	}
	if s.metrics != nil {
		s.metrics.FlushSignals.Inc()
	}
	for _, ssrc := range s.buffers.NonEmpty() {
		// The drain is the atomic turn boundary: samples appended after this
		// instant belong to the speaker's next turn.
		samples := s.buffers.Drain(ssrc)
		if len(samples) == 0 {
			continue
		}
		uid, ok := s.identities.Resolve(ssrc)
		if !ok {
			uid = fmt.Sprintf("ssrc-%d", ssrc)
		}
		if s.metrics != nil {
			s.metrics.TurnsStarted.Inc()
		}
		go s.pipeline.Run(s.guildID, Speaker{SSRC: ssrc, UserID: uid}, samples)
	}
}

// enqueuePlayback queues an asset for the playback loop. It never blocks:
// a torn-down session or a full queue drops the asset.
func (s *Session) enqueuePlayback(asset string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.playCh <- asset:
		return true
	default:
		return false
	}
}

func (s *Session) playLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case asset := <-s.playCh:
			if err := s.transport.Play(context.Background(), asset); err != nil {
				logging.Warnw("playback failed", "guild", s.guildID, "asset", asset, "err", err)
			}
		}
	}
}

// close tears the session down. In-flight turn pipelines are not cancelled;
// their eventual Play call will find no session and drop the asset.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.transport.Close(); err != nil {
			logging.Warnw("transport close error", "guild", s.guildID, "err", err)
		}
		s.wg.Wait()
		logging.Infow("voice session closed", "guild", s.guildID)
	})
}
