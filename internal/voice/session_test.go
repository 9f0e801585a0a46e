package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/discord-companion/internal/config"
)

type fakeTransport struct {
	events    chan Event
	played    chan string
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan Event, 32),
		played: make(chan string, 8),
	}
}

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) Play(ctx context.Context, wavPath string) error {
	select {
	case f.played <- wavPath:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func connectTo(ft *fakeTransport) func() (Transport, error) {
	return func() (Transport, error) { return ft, nil }
}

func newTestRegistry(t *testing.T, fi *fakeInference) *Registry {
	t.Helper()
	cfg := &config.Config{
		Audio:    config.AudioConfig{SampleRate: 48000, Channels: 2, BitDepth: 16, FrameMs: 20},
		OpenAI:   config.OpenAIConfig{TimeoutSeconds: 5},
		Pipeline: config.PipelineConfig{DataDir: t.TempDir()},
	}
	return NewRegistry(fi, cfg, nil)
}

func waitPlayed(t *testing.T, ft *fakeTransport) string {
	t.Helper()
	select {
	case asset := <-ft.played:
		return asset
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback")
		return ""
	}
}

func assertNoPlayback(t *testing.T, ft *fakeTransport, within time.Duration) {
	t.Helper()
	select {
	case asset := <-ft.played:
		t.Fatalf("unexpected playback of %s", asset)
	case <-time.After(within):
	}
}

func TestSessionFlushOnSilenceEdge(t *testing.T) {
	fi := &fakeInference{transcript: "hello", reply: "hi", asset: "speech.wav"}
	reg := newTestRegistry(t, fi)
	ft := newFakeTransport()
	if err := reg.Join("g1", connectTo(ft)); err != nil {
		t.Fatal(err)
	}
	defer reg.CloseAll()

	ft.events <- SpeakingUpdate{SSRC: 42, UserID: "user-a", Speaking: true}
	ft.events <- Tick{Speaking: map[uint32][]int16{42: {1, 2, 3, 4}}}
	ft.events <- Tick{Speaking: map[uint32][]int16{42: {5, 6}}}
	ft.events <- Tick{} // silence edge

	if asset := waitPlayed(t, ft); asset != "speech.wav" {
		t.Fatalf("played %s", asset)
	}

	// Further silent ticks must not replay the drained buffer.
	ft.events <- Tick{}
	ft.events <- Tick{}
	assertNoPlayback(t, ft, 200*time.Millisecond)

	transcribes, _, _ := fi.snapshot()
	if transcribes != 1 {
		t.Fatalf("expected one turn, transcribed %d", transcribes)
	}
}

func TestSessionConcurrentSpeakersFlushIndependently(t *testing.T) {
	fi := &fakeInference{transcript: "words", reply: "ok", asset: "speech.wav"}
	reg := newTestRegistry(t, fi)
	ft := newFakeTransport()
	if err := reg.Join("g1", connectTo(ft)); err != nil {
		t.Fatal(err)
	}
	defer reg.CloseAll()

	ft.events <- Tick{Speaking: map[uint32][]int16{1: {10, 10}, 2: {20, 20}}}
	ft.events <- Tick{} // both fall silent together

	waitPlayed(t, ft)
	waitPlayed(t, ft)

	transcribes, _, _ := fi.snapshot()
	if transcribes != 2 {
		t.Fatalf("expected two independent turns, transcribed %d", transcribes)
	}
}

func TestSessionTurnFailureLeavesOtherSpeakerIntact(t *testing.T) {
	// One speaker's transcription fails; the concurrently flushed speaker's
	// turn must still reach playback, exactly once.
	fi := &fakeInference{transcript: "words", reply: "ok", asset: "speech.wav", transcribeFailures: 1}
	reg := newTestRegistry(t, fi)
	ft := newFakeTransport()
	if err := reg.Join("g1", connectTo(ft)); err != nil {
		t.Fatal(err)
	}
	defer reg.CloseAll()

	ft.events <- Tick{Speaking: map[uint32][]int16{1: {10, 10}, 2: {20, 20}}}
	ft.events <- Tick{}

	waitPlayed(t, ft)
	assertNoPlayback(t, ft, 200*time.Millisecond)

	transcribes, _, _ := fi.snapshot()
	if transcribes != 2 {
		t.Fatalf("expected both turns to attempt transcription, got %d", transcribes)
	}
}

func TestSessionDisconnectDoesNotFlush(t *testing.T) {
	fi := &fakeInference{transcript: "words", reply: "ok", asset: "speech.wav"}
	reg := newTestRegistry(t, fi)
	ft := newFakeTransport()
	if err := reg.Join("g1", connectTo(ft)); err != nil {
		t.Fatal(err)
	}
	defer reg.CloseAll()

	ft.events <- Tick{Speaking: map[uint32][]int16{42: {1, 2}}}
	ft.events <- Disconnect{UserID: "user-a"}
	assertNoPlayback(t, ft, 200*time.Millisecond)

	// The buffer survived the disconnect; the next silence edge flushes it.
	ft.events <- Tick{}
	waitPlayed(t, ft)
}

func TestSessionJoinRejectsDuplicate(t *testing.T) {
	fi := &fakeInference{}
	reg := newTestRegistry(t, fi)
	ft := newFakeTransport()
	if err := reg.Join("g1", connectTo(ft)); err != nil {
		t.Fatal(err)
	}
	defer reg.CloseAll()

	dialed := false
	err := reg.Join("g1", func() (Transport, error) {
		dialed = true
		return newFakeTransport(), nil
	})
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
	if dialed {
		t.Fatal("losing join still dialed the voice backend")
	}
}

func TestSessionConcurrentJoinsDialOnce(t *testing.T) {
	fi := &fakeInference{}
	reg := newTestRegistry(t, fi)

	var dials, successes, rejects int32
	var wg sync.WaitGroup
	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.Join("g1", func() (Transport, error) {
				atomic.AddInt32(&dials, 1)
				return newFakeTransport(), nil
			})
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, ErrSessionExists):
				atomic.AddInt32(&rejects, 1)
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}()
	}
	wg.Wait()

	if dials != 1 || successes != 1 || rejects != 3 {
		t.Fatalf("dials=%d successes=%d rejects=%d, want 1/1/3", dials, successes, rejects)
	}
	if !reg.Active("g1") {
		t.Fatal("winning session not registered")
	}
	reg.CloseAll()
}

func TestSessionPlaybackAfterLeaveDropped(t *testing.T) {
	fi := &fakeInference{}
	reg := newTestRegistry(t, fi)
	ft := newFakeTransport()
	if err := reg.Join("g1", connectTo(ft)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Leave("g1"); err != nil {
		t.Fatal(err)
	}

	// A pipeline finishing after the room was left finds no session.
	reg.Play("g1", "late.wav")
	assertNoPlayback(t, ft, 200*time.Millisecond)

	if err := reg.Leave("g1"); err == nil {
		t.Fatal("expected error leaving twice")
	}
}

func TestSessionTransportFailureTearsDown(t *testing.T) {
	fi := &fakeInference{}
	reg := newTestRegistry(t, fi)
	ft := newFakeTransport()
	if err := reg.Join("g1", connectTo(ft)); err != nil {
		t.Fatal(err)
	}

	// Simulate the transport dying underneath the session.
	_ = ft.Close()

	deadline := time.Now().Add(2 * time.Second)
	for reg.Active("g1") {
		if time.Now().After(deadline) {
			t.Fatal("session still registered after transport failure")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The guild can be joined again afterwards.
	if err := reg.Join("g1", connectTo(newFakeTransport())); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	reg.CloseAll()
}

func TestSessionUnresolvedSpeakerStillFlushes(t *testing.T) {
	fi := &fakeInference{transcript: "words", reply: "ok", asset: "speech.wav"}
	reg := newTestRegistry(t, fi)
	ft := newFakeTransport()
	if err := reg.Join("g1", connectTo(ft)); err != nil {
		t.Fatal(err)
	}
	defer reg.CloseAll()

	// No SpeakingUpdate was ever observed for this stream.
	ft.events <- Tick{Speaking: map[uint32][]int16{99: {1, 2, 3}}}
	ft.events <- Tick{}
	waitPlayed(t, ft)
}
