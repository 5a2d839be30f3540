package conversation

import "time"

// Kind records how the user produced a turn's input.
type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
)

// Turn is one user/AI exchange unit. ID is the client-assigned reconciliation
// key; RemoteID is the backend row id once the turn has been confirmed.
type Turn struct {
	ID          string    `json:"id"`
	RemoteID    int64     `json:"remote_id,omitempty"`
	UserMessage string    `json:"user_message"`
	AIResponse  string    `json:"ai_response"`
	Kind        Kind      `json:"kind"`
	Pending     bool      `json:"pending"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsOpening reports whether the turn is the system-authored greeting that
// begins an empty session.
func (t Turn) IsOpening() bool {
	return t.UserMessage == "" && t.AIResponse != ""
}
