package voice

// Event is a transport event delivered to a voice session. The set of kinds
// is closed: Tick, SpeakingUpdate, Disconnect, TrackError and
// TransportDiagnostic. Session loops match exhaustively on it.
type Event interface {
	isEvent()
}

// Tick is the periodic capture report from the voice transport. Speaking
// carries one decoded PCM frame per currently-speaking stream; Silent lists
// the streams that are connected but produced no audio this period.
type Tick struct {
	Speaking map[uint32][]int16
	Silent   []uint32
}

// SpeakingUpdate maps an ephemeral stream id (SSRC) to a durable user id.
// Delivered by the transport whenever a participant starts or stops speaking.
type SpeakingUpdate struct {
	SSRC     uint32
	UserID   string
	Speaking bool
}

// Disconnect reports that a participant left the transport. It carries no
// buffer semantics: buffered samples stay until the next silence edge.
type Disconnect struct {
	UserID string
}

// TrackError reports a per-stream decode or receive failure.
type TrackError struct {
	SSRC uint32
	Err  error
}

// TransportDiagnostic is a packet-level control event, logged only.
type TransportDiagnostic struct {
	Kind   string
	Detail string
}

func (Tick) isEvent()                {}
func (SpeakingUpdate) isEvent()      {}
func (Disconnect) isEvent()          {}
func (TrackError) isEvent()          {}
func (TransportDiagnostic) isEvent() {}
