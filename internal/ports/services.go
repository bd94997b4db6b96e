package ports

import (
	"context"

	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// BatchResult is the output of batch transcription over a finished file.
type BatchResult struct {
	Text     string                  `json:"text"`
	Words    []models.Word           `json:"words,omitempty"`
	Segments []models.SpeakerSegment `json:"segments,omitempty"`
	Model    string                  `json:"model,omitempty"`
}

// BatchTranscriptionProvider transcribes complete audio in one call.
type BatchTranscriptionProvider interface {
	Transcribe(ctx context.Context, audio []byte, sampleRate int, diarize bool) (*BatchResult, error)
	Name() string
}

// StreamingTranscriptionProvider consumes audio incrementally per client and
// emits interim and final results. Finals must never be dropped under
// backpressure; interims may be, per provider policy.
type StreamingTranscriptionProvider interface {
	StartStream(ctx context.Context, clientID string, sampleRate int, diarize bool) error
	ProcessAudioChunk(ctx context.Context, clientID string, chunk []byte) (*models.TranscriptionResult, error)
	EndStream(ctx context.Context, clientID string) (*models.TranscriptionResult, error)
	Name() string
}

// DiarizationProvider segments audio by speaker. Optional; providers with
// native diarization don't need it.
type DiarizationProvider interface {
	Diarize(ctx context.Context, audio []byte, sampleRate int) ([]models.SpeakerSegment, error)
}

// MemoryProvider extracts and stores memories from a conversation
// transcript. AddMemory returns the ids of the memories it created.
type MemoryProvider interface {
	AddMemory(ctx context.Context, transcript, clientID, sourceID, userID, userEmail string, allowUpdate bool) (bool, []string, error)

	// IngestText embeds one prepared chunk of text and stores it verbatim,
	// bypassing LLM extraction. Bulk note ingestion calls it per chunk.
	IngestText(ctx context.Context, text, clientID, sourceID, userID string) (string, error)
	Search(ctx context.Context, userID, query string, limit int) ([]*models.MemorySearchResult, error)
	GetAll(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error)
	Count(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, memoryID string) error
	DeleteAllUserMemories(ctx context.Context, userID string) (int, error)
	Name() string
	Model() string
}

// LLMService generates text from a prompt. Generate must be safe to call
// from multiple goroutines.
type LLMService interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// EnrolledSpeaker is a speaker known to the recognition service for a user.
type EnrolledSpeaker struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpeakerRecognitionService identifies enrolled speakers in conversation
// audio. Implementations are optional; callers treat unavailability as a
// no-op success.
type SpeakerRecognitionService interface {
	EnrolledSpeakers(ctx context.Context, userID string) ([]EnrolledSpeaker, error)
	Identify(ctx context.Context, audio []byte, sampleRate int, segments []models.SpeakerSegment, userID string) ([]models.SpeakerSegment, error)
	Available(ctx context.Context) bool
}

// EmbeddingService turns text into vectors for memory search.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// IDGenerator mints the ids used across the system.
type IDGenerator interface {
	SessionID() string
	ConversationID() string
	VersionID() string
	JobID(prefix string) string
	MemoryID() string
}
