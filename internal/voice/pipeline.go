package voice

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/discord-companion/internal/config"
	"github.com/discord-companion/internal/logging"
	"github.com/discord-companion/internal/metrics"
)

// Inference is the boundary to the external speech and language services.
// Each call is a single blocking network round-trip with no retry. ChatTurn
// serializes access to the shared conversation context internally: the
// read-then-append of one turn is atomic with respect to concurrent turns.
type Inference interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
	ChatTurn(ctx context.Context, transcript string) (string, error)
	Synthesize(ctx context.Context, text string) (string, error)
}

// Player hands a synthesized asset to a room's live transport. Implemented by
// Registry; a missing room is a logged no-op.
type Player interface {
	Play(guildID string, assetPath string)
}

// Speaker identifies whose buffer a turn came from. UserID falls back to a
// placeholder derived from the stream id when no speaking update was ever
// observed for it.
type Speaker struct {
	SSRC   uint32
	UserID string
}

// TurnPipeline runs the inference chain for one flushed buffer: encode the
// samples into a WAV container, transcribe it, generate a reply over the
// shared conversation context, synthesize speech, and hand the result to the
// player. It runs off the tick path; a failure at any stage aborts only that
// speaker's turn.
type TurnPipeline struct {
	inference Inference
	player    Player
	audio     *config.AudioConfig
	dataDir   string
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// NewTurnPipeline builds a pipeline shared by all sessions. timeout bounds
// each external call individually.
func NewTurnPipeline(inference Inference, player Player, audio *config.AudioConfig, dataDir string, timeout time.Duration, m *metrics.Metrics) *TurnPipeline {
	return &TurnPipeline{
		inference: inference,
		player:    player,
		audio:     audio,
		dataDir:   dataDir,
		timeout:   timeout,
		metrics:   m,
	}
}

// Run executes one turn for one speaker. Steps run in fixed order and no step
// is retried. The samples were drained before Run was dispatched, so anything
// the speaker says from here on belongs to their next turn. Run is detached
// from the session lifetime on purpose: leaving the room mid-turn only makes
// the final Play a no-op.
func (p *TurnPipeline) Run(guildID string, speaker Speaker, samples []int16) {
	cid := uuid.NewString()
	start := time.Now()
	logging.Infow("turn started", "guild", guildID, "ssrc", speaker.SSRC, "user_id", speaker.UserID,
		"samples", len(samples), "correlation_id", cid)

	if len(samples) == 0 {
		logging.Debugw("turn skipped; empty buffer", "ssrc", speaker.SSRC, "correlation_id", cid)
		return
	}

	wavPath, err := p.timed("encode", func(context.Context) (string, error) {
		return EncodeTurnWAV(p.dataDir, cid, samples, p.audio)
	})
	if err != nil {
		p.fail("encode", cid, speaker, err)
		return
	}

	transcript, err := p.timed("transcribe", func(ctx context.Context) (string, error) {
		return p.inference.Transcribe(ctx, wavPath)
	})
	if err != nil {
		p.fail("transcribe", cid, speaker, err)
		return
	}
	if transcript == "" {
		logging.Debugw("turn skipped; empty transcript", "ssrc", speaker.SSRC, "correlation_id", cid)
		return
	}
	logging.Infow("turn transcribed", "user_id", speaker.UserID, "transcript", transcript, "correlation_id", cid)

	reply, err := p.timed("generate", func(ctx context.Context) (string, error) {
		return p.inference.ChatTurn(ctx, transcript)
	})
	if err != nil {
		p.fail("generate", cid, speaker, err)
		return
	}

	asset, err := p.timed("synthesize", func(ctx context.Context) (string, error) {
		return p.inference.Synthesize(ctx, reply)
	})
	if err != nil {
		p.fail("synthesize", cid, speaker, err)
		return
	}

	p.player.Play(guildID, asset)
	if p.metrics != nil {
		p.metrics.TurnsCompleted.Inc()
		p.metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}
	logging.Infow("turn completed", "guild", guildID, "user_id", speaker.UserID,
		"duration_ms", time.Since(start).Milliseconds(), "correlation_id", cid)
}

// timed runs one stage under the per-call timeout and records its duration.
func (p *TurnPipeline) timed(stage string, fn func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	start := time.Now()
	out, err := fn(ctx)
	if p.metrics != nil {
		p.metrics.ObserveStage(stage, time.Since(start).Seconds())
	}
	return out, err
}

func (p *TurnPipeline) fail(stage, cid string, speaker Speaker, err error) {
	if p.metrics != nil {
		p.metrics.RecordTurnFailed(stage)
	}
	logging.Warnw("turn aborted", "stage", stage, "ssrc", speaker.SSRC, "user_id", speaker.UserID,
		"err", err, "correlation_id", cid)
}
