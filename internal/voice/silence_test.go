package voice

import "testing"

func TestSilenceEdgeFiresOnce(t *testing.T) {
	var d SilenceDetector
	ticks := []struct {
		speaking int
		flush    bool
	}{
		{1, false}, // activity
		{2, false},
		{0, true},  // falling edge
		{0, false}, // still silent, no re-fire
		{0, false},
		{1, false}, // activity resumes
		{0, true},  // next episode fires again
	}
	for i, tk := range ticks {
		if got := d.Observe(tk.speaking); got != tk.flush {
			t.Fatalf("tick %d: speaking=%d got flush=%v want %v", i, tk.speaking, got, tk.flush)
		}
	}
}

func TestSilenceInitialEmptyRoom(t *testing.T) {
	// A room that starts silent produces one harmless flush signal, then
	// stays quiet.
	var d SilenceDetector
	if !d.Observe(0) {
		t.Fatal("expected initial falling edge")
	}
	for i := 0; i < 5; i++ {
		if d.Observe(0) {
			t.Fatalf("re-fired on silent tick %d", i)
		}
	}
}

func TestSilenceOnePersonPausing(t *testing.T) {
	var d SilenceDetector
	// speak, pause, speak, pause: two flushes total
	flushes := 0
	for _, n := range []int{1, 1, 0, 0, 1, 0} {
		if d.Observe(n) {
			flushes++
		}
	}
	if flushes != 2 {
		t.Fatalf("expected 2 flushes, got %d", flushes)
	}
}
