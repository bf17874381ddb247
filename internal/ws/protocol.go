package ws

// Message is the envelope fanned out to display clients. Type carries the
// session event name (startSession, counter, endSession, newPicture); the
// payload is a session snapshot or a {tag, pics} pair.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
