package session

// CloseStatus records why a session reached End. It is written to the
// audit log and used as the metrics label for terminal transitions.
type CloseStatus string

const (
	// StatusStarted — the session entered Start; logged so the audit trail
	// pairs every terminal line with an opening one.
	StatusStarted CloseStatus = "START"
	// StatusValidated — the guest accepted the picture.
	StatusValidated CloseStatus = "VALIDATED"
	// StatusUnvalidated — the guest rejected the picture.
	StatusUnvalidated CloseStatus = "UNVALIDATED"
	// StatusTimeout — no client action arrived before the armed deadline.
	StatusTimeout CloseStatus = "TIMEOUT"
	// StatusKilled — administrative hard stop.
	StatusKilled CloseStatus = "KILLED"
	// StatusAborted — no display client was listening at start or counter.
	StatusAborted CloseStatus = "ABORTED"
)

// Broadcast event names, fanned out to display clients by the transport.
const (
	EventStartSession = "startSession"
	EventCounter      = "counter"
	EventEndSession   = "endSession"
	EventNewPicture   = "newPicture"
)
