package dto

import (
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// ConversationResponse represents a conversation in API responses. Version
// lists are summarized; full version content lives under /versions.
type ConversationResponse struct {
	ConversationID   string     `json:"conversation_id"`
	AudioUUID        string     `json:"audio_uuid"`
	UserID           string     `json:"user_id"`
	ClientID         string     `json:"client_id"`
	Title            string     `json:"title,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	DetailedSummary  string     `json:"detailed_summary,omitempty"`
	Transcript       string     `json:"transcript,omitempty"`
	EndReason        string     `json:"end_reason,omitempty"`
	AudioPath        string     `json:"audio_path,omitempty"`
	CroppedAudioPath string     `json:"cropped_audio_path,omitempty"`
	Deleted          bool       `json:"deleted"`
	DeletionReason   string     `json:"deletion_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	TranscriptVersionCount  int    `json:"transcript_version_count"`
	MemoryVersionCount      int    `json:"memory_version_count"`
	ActiveTranscriptVersion string `json:"active_transcript_version,omitempty"`
	ActiveMemoryVersion     string `json:"active_memory_version,omitempty"`
}

// ConversationListResponse represents a page of conversations
type ConversationListResponse struct {
	Conversations []*ConversationResponse `json:"conversations"`
	Limit         int                     `json:"limit"`
	Offset        int                     `json:"offset"`
}

// VersionsResponse carries the full version history and active pointers
type VersionsResponse struct {
	ConversationID          string                     `json:"conversation_id"`
	TranscriptVersions      []models.TranscriptVersion `json:"transcript_versions"`
	MemoryVersions          []models.MemoryVersion     `json:"memory_versions"`
	ActiveTranscriptVersion string                     `json:"active_transcript_version,omitempty"`
	ActiveMemoryVersion     string                     `json:"active_memory_version,omitempty"`
}

// ReprocessResponse returns the ids of the re-enqueued jobs
type ReprocessResponse struct {
	ConversationID string   `json:"conversation_id"`
	JobIDs         []string `json:"job_ids"`
}

// UploadFileResult is the per-file outcome of a batch upload
type UploadFileResult struct {
	Filename        string  `json:"filename"`
	ConversationID  string  `json:"conversation_id,omitempty"`
	TranscriptJobID string  `json:"transcript_job_id,omitempty"`
	SpeakerJobID    string  `json:"speaker_job_id,omitempty"`
	MemoryJobID     string  `json:"memory_job_id,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Status          string  `json:"status"`
	Error           string  `json:"error,omitempty"`
}

// UploadResponse represents a batch upload outcome
type UploadResponse struct {
	Files []*UploadFileResult `json:"files"`
}

// FromModel converts a domain model to a response DTO
func (r *ConversationResponse) FromModel(c *models.Conversation) *ConversationResponse {
	return &ConversationResponse{
		ConversationID:          c.ConversationID,
		AudioUUID:               c.AudioUUID,
		UserID:                  c.UserID,
		ClientID:                c.ClientID,
		Title:                   c.Title,
		Summary:                 c.Summary,
		DetailedSummary:         c.DetailedSummary,
		Transcript:              c.Transcript(),
		EndReason:               c.EndReason,
		AudioPath:               c.AudioPath,
		CroppedAudioPath:        c.CroppedAudioPath,
		Deleted:                 c.Deleted,
		DeletionReason:          c.DeletionReason,
		CreatedAt:               c.CreatedAt,
		CompletedAt:             c.CompletedAt,
		TranscriptVersionCount:  c.TranscriptVersionCount(),
		MemoryVersionCount:      c.MemoryVersionCount(),
		ActiveTranscriptVersion: c.ActiveTranscriptVersion,
		ActiveMemoryVersion:     c.ActiveMemoryVersion,
	}
}

// FromConversationModelList converts a list of domain models to response DTOs
func FromConversationModelList(conversations []*models.Conversation) []*ConversationResponse {
	responses := make([]*ConversationResponse, len(conversations))
	for i, c := range conversations {
		responses[i] = (&ConversationResponse{}).FromModel(c)
	}
	return responses
}
