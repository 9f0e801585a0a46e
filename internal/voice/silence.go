package voice

// SilenceDetector turns the per-tick speaking set into flush-all signals.
// It is edge-triggered: the transition from activity to silence fires exactly
// once per silence episode, no matter how many silent ticks follow. A single
// boolean is the entire state. Not safe for concurrent use; each session owns
// one and drives it from its event loop.
type SilenceDetector struct {
	lastTickEmpty bool
}

// Observe consumes one tick's speaking-set size and reports whether this tick
// is the falling edge into silence. A tick with zero participants overall is
// indistinguishable from silence here and is harmless: any flush it triggers
// finds only empty buffers.
func (d *SilenceDetector) Observe(speakingCount int) bool {
	if speakingCount > 0 {
		d.lastTickEmpty = false
		return false
	}
	if d.lastTickEmpty {
		return false
	}
	d.lastTickEmpty = true
	return true
}
