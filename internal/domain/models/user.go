package models

// PrimarySpeaker is an enrolled speaker the user cares about. When a user has
// primary speakers configured, memory extraction is skipped for conversations
// where none of them were identified.
type PrimarySpeaker struct {
	Name      string `json:"name"`
	SpeakerID string `json:"speaker_id,omitempty"`
}

// User carries the fields the core needs for access checks and memory
// attribution. Everything else about a principal is out of scope.
type User struct {
	UserID          string           `json:"user_id"`
	Email           string           `json:"email"`
	IsSuperuser     bool             `json:"is_superuser"`
	PrimarySpeakers []PrimarySpeaker `json:"primary_speakers,omitempty"`
}

// CanAccess reports whether the user may read or delete a conversation.
func (u *User) CanAccess(conversationUserID string) bool {
	return u.IsSuperuser || u.UserID == conversationUserID
}
