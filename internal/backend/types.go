package backend

import "time"

// Session is one guided interview session as the backend reports it.
type Session struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	SessionNumber     int       `json:"session_number"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	IsCompleted       bool      `json:"is_completed"`
	ConversationCount int       `json:"conversation_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type SessionList struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
}

// ConversationRecord is one stored exchange row.
type ConversationRecord struct {
	ID               int64     `json:"id"`
	SessionID        int64     `json:"session_id"`
	ConversationType string    `json:"conversation_type"`
	UserMessage      string    `json:"user_message"`
	AIResponse       string    `json:"ai_response"`
	AudioURL         string    `json:"audio_url,omitempty"`
	Duration         int       `json:"duration,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type ConversationList struct {
	Conversations []ConversationRecord `json:"conversations"`
	Total         int                  `json:"total"`
}

type interviewRequest struct {
	SessionID        int64  `json:"session_id"`
	ConversationType string `json:"conversation_type"`
	Message          string `json:"message"`
}

// InterviewResult is the AI interviewer's reply to one dispatched turn.
type InterviewResult struct {
	ConversationID int64  `json:"conversation_id"`
	AIResponse     string `json:"ai_response"`
	AudioURL       string `json:"audio_url,omitempty"`
}

// FlowInit is the result of initializing a session's conversation flow.
type FlowInit struct {
	SessionID      int64  `json:"session_id"`
	OpeningMessage string `json:"opening_message"`
}

type SessionProgress struct {
	SessionID         int64   `json:"session_id"`
	ConversationCount int     `json:"conversation_count"`
	TotalDuration     int     `json:"total_duration"`
	Progress          float64 `json:"progress"`
	IsCompleted       bool    `json:"is_completed"`
}

type FlowStatus struct {
	SessionID            int64    `json:"session_id"`
	SessionNumber        int      `json:"session_number"`
	SessionTitle         string   `json:"session_title"`
	SessionObjective     string   `json:"session_objective"`
	TotalQuestions       int      `json:"total_questions"`
	CurrentQuestionIndex int      `json:"current_question_index"`
	NextQuestion         string   `json:"next_question"`
	RemainingQuestions   int      `json:"remaining_questions"`
	FlowProgressPercent  float64  `json:"flow_progress_percent"`
	ConversationCount    int      `json:"conversation_count"`
	IsFlowCompleted      bool     `json:"is_flow_completed"`
	AllQuestions         []string `json:"all_questions"`
}

type AutobiographyStatus struct {
	TotalConversations int     `json:"total_conversations"`
	CompletedSessions  int     `json:"completed_sessions"`
	ReadyToGenerate    bool    `json:"ready_to_generate"`
	Progress           float64 `json:"progress"`
}

type Autobiography struct {
	Content     string    `json:"content"`
	Format      string    `json:"format"`
	GeneratedAt time.Time `json:"generated_at"`
}
