package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-companion/internal/config"
	"github.com/discord-companion/internal/logging"
	"github.com/discord-companion/internal/metrics"
	"github.com/discord-companion/internal/voice"
)

// VoiceTransport adapts a discordgo voice connection to the event stream the
// session loop consumes. A receive goroutine decodes incoming Opus packets
// into per-SSRC frame staging, and a ticker goroutine drains the staging into
// one Tick per frame period, so the session sees a uniform clock even when
// the UDP side is bursty.
type VoiceTransport struct {
	vc      *discordgo.VoiceConnection
	audio   *config.AudioConfig
	metrics *metrics.Metrics
	events  chan voice.Event

	mu       sync.Mutex
	decoders map[uint32]*opus.Decoder
	pending  map[uint32][]int16
	known    map[uint32]struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewVoiceTransport wraps an established voice connection. The speaking
// handler must be registered on the connection itself; session-level
// registration never fires for these updates.
func NewVoiceTransport(vc *discordgo.VoiceConnection, audio *config.AudioConfig, m *metrics.Metrics) *VoiceTransport {
	t := &VoiceTransport{
		vc:       vc,
		audio:    audio,
		metrics:  m,
		events:   make(chan voice.Event, 64),
		decoders: make(map[uint32]*opus.Decoder),
		pending:  make(map[uint32][]int16),
		known:    make(map[uint32]struct{}),
		done:     make(chan struct{}),
	}

	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		t.emit(voice.SpeakingUpdate{
			SSRC:     uint32(su.SSRC),
			UserID:   su.UserID,
			Speaking: su.Speaking,
		})
	})

	t.wg.Add(2)
	go t.receiveLoop()
	go t.tickLoop()
	return t
}

// Events returns the event stream. It is closed exactly once, by Close.
func (t *VoiceTransport) Events() <-chan voice.Event {
	return t.events
}

func (t *VoiceTransport) receiveLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case pkt, ok := <-t.vc.OpusRecv:
			if !ok {
				t.emit(voice.TransportDiagnostic{Kind: "opus_recv_closed", Detail: "voice receive channel closed"})
				go t.Close()
				return
			}
			t.decodePacket(pkt)
		}
	}
}

func (t *VoiceTransport) decodePacket(pkt *discordgo.Packet) {
	t.mu.Lock()
	dec, ok := t.decoders[pkt.SSRC]
	if !ok {
		d, err := opus.NewDecoder(t.audio.SampleRate, t.audio.Channels)
		if err != nil {
			t.mu.Unlock()
			t.emit(voice.TrackError{SSRC: pkt.SSRC, Err: fmt.Errorf("decoder init: %w", err)})
			return
		}
		dec = d
		t.decoders[pkt.SSRC] = dec
	}
	t.mu.Unlock()

	pcm := make([]int16, t.audio.FrameSamples()*t.audio.Channels)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		t.emit(voice.TrackError{SSRC: pkt.SSRC, Err: err})
		return
	}

	t.mu.Lock()
	t.pending[pkt.SSRC] = append(t.pending[pkt.SSRC], pcm[:n*t.audio.Channels]...)
	t.known[pkt.SSRC] = struct{}{}
	t.mu.Unlock()
}

func (t *VoiceTransport) tickLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.audio.FrameDuration())
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.emitTick()
		}
	}
}

func (t *VoiceTransport) emitTick() {
	t.mu.Lock()
	speaking := t.pending
	t.pending = make(map[uint32][]int16)
	var silent []uint32
	for ssrc := range t.known {
		if _, ok := speaking[ssrc]; !ok {
			silent = append(silent, ssrc)
		}
	}
	t.mu.Unlock()

	t.emit(voice.Tick{Speaking: speaking, Silent: silent})
}

// emit delivers an event without blocking the voice read path. Dropping a
// tick under backpressure loses at most one frame period of audio.
func (t *VoiceTransport) emit(ev voice.Event) {
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.events <- ev:
	default:
		if _, isTick := ev.(voice.Tick); isTick && t.metrics != nil {
			t.metrics.TicksDropped.Inc()
		}
		logging.Warnw("voice event dropped; queue full", "event", fmt.Sprintf("%T", ev))
	}
}

// NotifyDisconnect injects a participant departure observed on the gateway
// websocket, which never reaches the voice connection's own event stream.
func (t *VoiceTransport) NotifyDisconnect(userID string) {
	t.emit(voice.Disconnect{UserID: userID})
}

// Play encodes the WAV asset at wavPath back to Opus frames and streams them
// over the connection. It blocks until the asset has been fully sent, the
// context expires, or the transport closes.
func (t *VoiceTransport) Play(ctx context.Context, wavPath string) error {
	samples, format, err := voice.DecodeWAV(wavPath)
	if err != nil {
		return fmt.Errorf("failed to load playback asset: %w", err)
	}
	samples, err = ConformPCM(samples, format.NumChannels, format.SampleRate, t.audio.Channels, t.audio.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to conform playback asset: %w", err)
	}

	enc, err := opus.NewEncoder(t.audio.SampleRate, t.audio.Channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("encoder init: %w", err)
	}

	if err := t.vc.Speaking(true); err != nil {
		return fmt.Errorf("failed to signal speaking: %w", err)
	}
	defer func() {
		if err := t.vc.Speaking(false); err != nil {
			logging.Warnw("failed to clear speaking state", "error", err)
		}
	}()

	frame := t.audio.FrameSamples() * t.audio.Channels
	buf := make([]byte, 1400)
	for off := 0; off < len(samples); off += frame {
		chunk := samples[off:min(off+frame, len(samples))]
		if len(chunk) < frame {
			padded := make([]int16, frame)
			copy(padded, chunk)
			chunk = padded
		}
		n, err := enc.Encode(chunk, buf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return fmt.Errorf("transport closed during playback")
		case t.vc.OpusSend <- packet:
		}
	}
	return nil
}

// Close disconnects the voice connection, stops both loops and closes the
// event stream. Safe to call more than once.
func (t *VoiceTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.vc.Disconnect()
		t.wg.Wait()
		close(t.events)
	})
	return err
}
