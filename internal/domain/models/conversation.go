package models

import (
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain"
)

// Conversation end reasons. A healthy conversation always ends with one of
// these; soft-deleted conversations carry a DeletionReason instead.
const (
	EndReasonUserStopped         = "user_stopped"
	EndReasonInactivityTimeout   = "inactivity_timeout"
	EndReasonWebsocketDisconnect = "websocket_disconnect"
	EndReasonMaxDuration         = "max_duration"
	EndReasonUnknown             = "unknown"
)

// Deletion reasons for soft-deleted conversations.
const (
	DeletionNoMeaningfulSpeech = "no_meaningful_speech"
	DeletionAudioFileNotReady  = "audio_file_not_ready"
	DeletionUserRequested      = "user_requested"
)

// TranscriptVersion is an immutable record of one transcription run.
type TranscriptVersion struct {
	VersionID             string           `json:"version_id"`
	Transcript            string           `json:"transcript"`
	Segments              []SpeakerSegment `json:"segments"`
	Provider              string           `json:"provider"`
	Model                 string           `json:"model,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	ProcessingTimeSeconds float64          `json:"processing_time_seconds,omitempty"`
	Metadata              map[string]any   `json:"metadata,omitempty"`
}

// MemoryVersion is an immutable record of one memory extraction run. It
// references the transcript version it was computed from.
type MemoryVersion struct {
	VersionID             string         `json:"version_id"`
	MemoryCount           int            `json:"memory_count"`
	TranscriptVersionID   string         `json:"transcript_version_id"`
	Provider              string         `json:"provider"`
	Model                 string         `json:"model,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// Conversation is a bounded stretch of meaningful speech within a session.
// AudioUUID equals the session_id of the session that produced it; one
// session may produce many conversations.
type Conversation struct {
	ConversationID string `json:"conversation_id"`
	AudioUUID      string `json:"audio_uuid"`
	UserID         string `json:"user_id"`
	ClientID       string `json:"client_id"`

	AudioPath        string `json:"audio_path,omitempty"`
	CroppedAudioPath string `json:"cropped_audio_path,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Deleted        bool       `json:"deleted"`
	DeletionReason string     `json:"deletion_reason,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`

	Title           string `json:"title,omitempty"`
	Summary         string `json:"summary,omitempty"`
	DetailedSummary string `json:"detailed_summary,omitempty"`
	EndReason       string `json:"end_reason,omitempty"`

	TranscriptVersions []TranscriptVersion `json:"transcript_versions"`
	MemoryVersions     []MemoryVersion     `json:"memory_versions"`

	ActiveTranscriptVersion string `json:"active_transcript_version,omitempty"`
	ActiveMemoryVersion     string `json:"active_memory_version,omitempty"`
}

// NewConversation creates a conversation with placeholder title/summary, the
// way the conversation controller opens one before any processing has run.
func NewConversation(conversationID, audioUUID, userID, clientID, title, summary string) *Conversation {
	return &Conversation{
		ConversationID:     conversationID,
		AudioUUID:          audioUUID,
		UserID:             userID,
		ClientID:           clientID,
		CreatedAt:          time.Now().UTC(),
		Title:              title,
		Summary:            summary,
		TranscriptVersions: []TranscriptVersion{},
		MemoryVersions:     []MemoryVersion{},
	}
}

// ActiveTranscript returns the currently active transcript version, or nil.
func (c *Conversation) ActiveTranscript() *TranscriptVersion {
	if c.ActiveTranscriptVersion == "" {
		return nil
	}
	for i := range c.TranscriptVersions {
		if c.TranscriptVersions[i].VersionID == c.ActiveTranscriptVersion {
			return &c.TranscriptVersions[i]
		}
	}
	return nil
}

// ActiveMemory returns the currently active memory version, or nil.
func (c *Conversation) ActiveMemory() *MemoryVersion {
	if c.ActiveMemoryVersion == "" {
		return nil
	}
	for i := range c.MemoryVersions {
		if c.MemoryVersions[i].VersionID == c.ActiveMemoryVersion {
			return &c.MemoryVersions[i]
		}
	}
	return nil
}

// Transcript returns the transcript text of the active transcript version.
func (c *Conversation) Transcript() string {
	if v := c.ActiveTranscript(); v != nil {
		return v.Transcript
	}
	return ""
}

// Segments returns the segments of the active transcript version.
func (c *Conversation) Segments() []SpeakerSegment {
	if v := c.ActiveTranscript(); v != nil {
		return v.Segments
	}
	return nil
}

func (c *Conversation) SegmentCount() int {
	return len(c.Segments())
}

// MemoryCount returns the memory count of the active memory version.
func (c *Conversation) MemoryCount() int {
	if v := c.ActiveMemory(); v != nil {
		return v.MemoryCount
	}
	return 0
}

func (c *Conversation) HasMemory() bool {
	return len(c.MemoryVersions) > 0
}

func (c *Conversation) TranscriptVersionCount() int {
	return len(c.TranscriptVersions)
}

func (c *Conversation) MemoryVersionCount() int {
	return len(c.MemoryVersions)
}

// AddTranscriptVersion appends a new transcript version and optionally flips
// the active pointer to it. Deleted conversations reject further writes.
func (c *Conversation) AddTranscriptVersion(v TranscriptVersion, setActive bool) error {
	if c.Deleted {
		return domain.ErrCannotModifyDeletedConv
	}
	if v.VersionID == "" {
		return domain.ErrInvalidInput
	}
	if v.Metadata == nil {
		v.Metadata = map[string]any{}
	}
	c.TranscriptVersions = append(c.TranscriptVersions, v)
	if setActive {
		c.ActiveTranscriptVersion = v.VersionID
	}
	return nil
}

// AddMemoryVersion appends a new memory version. The referenced transcript
// version must exist.
func (c *Conversation) AddMemoryVersion(v MemoryVersion, setActive bool) error {
	if c.Deleted {
		return domain.ErrCannotModifyDeletedConv
	}
	if v.VersionID == "" || v.TranscriptVersionID == "" {
		return domain.ErrInvalidInput
	}
	if !c.hasTranscriptVersion(v.TranscriptVersionID) {
		return domain.ErrVersionNotFound
	}
	if v.Metadata == nil {
		v.Metadata = map[string]any{}
	}
	c.MemoryVersions = append(c.MemoryVersions, v)
	if setActive {
		c.ActiveMemoryVersion = v.VersionID
	}
	return nil
}

// SetActiveTranscriptVersion flips the active pointer to an existing version.
func (c *Conversation) SetActiveTranscriptVersion(versionID string) error {
	if c.Deleted {
		return domain.ErrCannotModifyDeletedConv
	}
	if !c.hasTranscriptVersion(versionID) {
		return domain.ErrVersionNotFound
	}
	c.ActiveTranscriptVersion = versionID
	return nil
}

// SetActiveMemoryVersion flips the active memory pointer to an existing version.
func (c *Conversation) SetActiveMemoryVersion(versionID string) error {
	if c.Deleted {
		return domain.ErrCannotModifyDeletedConv
	}
	for i := range c.MemoryVersions {
		if c.MemoryVersions[i].VersionID == versionID {
			c.ActiveMemoryVersion = versionID
			return nil
		}
	}
	return domain.ErrVersionNotFound
}

// SoftDelete marks the conversation deleted with a reason. Further mutations
// are rejected; the document remains queryable as a tombstone.
func (c *Conversation) SoftDelete(reason string) error {
	if c.Deleted {
		return domain.ErrConversationDeleted
	}
	now := time.Now().UTC()
	c.Deleted = true
	c.DeletionReason = reason
	c.DeletedAt = &now
	return nil
}

// Complete stamps the end reason and completion time.
func (c *Conversation) Complete(endReason string) {
	now := time.Now().UTC()
	c.EndReason = endReason
	c.CompletedAt = &now
}

func (c *Conversation) hasTranscriptVersion(versionID string) bool {
	for i := range c.TranscriptVersions {
		if c.TranscriptVersions[i].VersionID == versionID {
			return true
		}
	}
	return false
}
