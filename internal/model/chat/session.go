package chat

import "time"

// Session captures an anonymous conversation known to the answering service.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is a consistent read of a transcript taken between mutations.
type Snapshot struct {
	SessionID string    `json:"sessionId,omitempty"`
	Log       []Message `json:"log"`
	Busy      bool      `json:"busy"`
}

// Last returns the newest message of the snapshot, if any.
func (s Snapshot) Last() (Message, bool) {
	if len(s.Log) == 0 {
		return Message{}, false
	}
	return s.Log[len(s.Log)-1], true
}
