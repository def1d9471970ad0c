package turn

import "fmt"

// State is the controller's position in the turn cycle.
type State int

const (
	Idle State = iota
	Listening
	Finalizing
	Transcribing
	Exchanging
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Finalizing:
		return "finalizing"
	case Transcribing:
		return "transcribing"
	case Exchanging:
		return "exchanging"
	case Speaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode is the conversation's voice policy. VoiceModeEnabled survives across
// turns once the user opts in; MicAllowed is the single authority for whether
// the controller may listen right now.
type Mode struct {
	VoiceModeEnabled bool
	MicAllowed       bool
}

// Speaker identifies who said a transcript entry.
type Speaker string

const (
	User      Speaker = "user"
	Assistant Speaker = "assistant"
)

// Entry is one line of the visible transcript.
type Entry struct {
	Speaker Speaker
	Text    string
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	State      State
	Mode       Mode
	Recording  bool
	Playing    bool
	Transcript []Entry
}

// Event is delivered on Controller.Events.
type Event interface{ event() }

// TranscriptEvent announces a new transcript entry.
type TranscriptEvent struct{ Entry Entry }

// RecordingEvent mirrors the recording flag for UI feedback.
type RecordingEvent struct{ Recording bool }

// StateEvent reports a state transition.
type StateEvent struct {
	From, To State
	Mode     Mode
}

// ErrorEvent surfaces errors the user must act on, such as a denied microphone.
type ErrorEvent struct{ Err error }

// EndEvent is emitted when the dialogue engine closes the conversation.
type EndEvent struct{}

func (TranscriptEvent) event() {}
func (RecordingEvent) event()  {}
func (StateEvent) event()      {}
func (ErrorEvent) event()      {}
func (EndEvent) event()        {}
