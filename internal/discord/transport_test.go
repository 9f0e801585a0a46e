package discord

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/discord-companion/internal/config"
	"github.com/discord-companion/internal/metrics"
	"github.com/discord-companion/internal/voice"
)

func TestEmitCountsDroppedTicks(t *testing.T) {
	m := &metrics.Metrics{
		TicksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_ticks_dropped_test_total",
		}),
	}
	tr := &VoiceTransport{
		audio:   &config.AudioConfig{SampleRate: 48000, Channels: 2, BitDepth: 16, FrameMs: 20},
		metrics: m,
		events:  make(chan voice.Event, 1),
		done:    make(chan struct{}),
	}

	tr.emit(voice.Tick{})                  // fills the queue
	tr.emit(voice.SpeakingUpdate{SSRC: 1}) // dropped, but not a tick
	tr.emit(voice.Tick{})                  // dropped tick

	if got := testutil.ToFloat64(m.TicksDropped); got != 1 {
		t.Fatalf("dropped ticks = %v, want 1", got)
	}
}
