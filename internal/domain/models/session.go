package models

// Session statuses. Transitions are one-way: active -> finalizing -> complete.
const (
	SessionActive     = "active"
	SessionFinalizing = "finalizing"
	SessionComplete   = "complete"
)

// Session completion reasons, recorded when the connection handler moves a
// session out of active.
const (
	CompletionUserStopped         = "user_stopped"
	CompletionWebsocketDisconnect = "websocket_disconnect"
	CompletionInactivityTimeout   = "inactivity_timeout"
	CompletionMaxDuration         = "max_duration"
)

// Session tracks the lifetime of one duplex audio connection. The connection
// handler is the single writer on Status; the conversation controller updates
// the conversation pointer and count.
type Session struct {
	SessionID             string `json:"session_id"`
	ClientID              string `json:"client_id"`
	UserID                string `json:"user_id"`
	Status                string `json:"status"`
	CompletionReason      string `json:"completion_reason,omitempty"`
	CurrentConversationID string `json:"current_conversation_id,omitempty"`
	ConversationCount     int64  `json:"conversation_count"`
}

// Terminal reports whether the session has left the active state.
func (s *Session) Terminal() bool {
	return s.Status == SessionFinalizing || s.Status == SessionComplete
}
