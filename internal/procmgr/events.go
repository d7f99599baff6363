package procmgr

// EventType enumerates everything the manager can report. The contract is
// closed: consumers switch over these four kinds and nothing else.
type EventType int

const (
	// EventMessage carries exactly one complete stdout line (protocol data).
	EventMessage EventType = iota
	// EventStderr carries one line of diagnostic text, never protocol data.
	EventStderr
	// EventExit reports process exit, expected or not.
	EventExit
	// EventError reports a stream-level read failure.
	EventError
)

// Event is the typed lifecycle notification dispatched over Events().
type Event struct {
	Type       EventType
	Line       string // EventMessage
	Text       string // EventStderr
	Code       int    // EventExit
	Signal     string // EventExit
	Unexpected bool   // EventExit: true when not triggered by Stop
	Err        error  // EventError
}
