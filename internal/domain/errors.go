package domain

import "errors"

// Common domain errors
var (
	// Conversation errors
	ErrConversationNotFound    = errors.New("conversation not found")
	ErrConversationDeleted     = errors.New("conversation is deleted")
	ErrCannotModifyDeletedConv = errors.New("cannot modify a deleted conversation")
	ErrVersionNotFound         = errors.New("version not found")

	// Session errors
	ErrSessionNotFound         = errors.New("session not found")
	ErrInvalidStatusTransition = errors.New("invalid session status transition")

	// Audio errors
	ErrAudioNotFound          = errors.New("audio not found")
	ErrAudioFormatUnsupported = errors.New("audio format not supported")
	ErrAudioFileNotReady      = errors.New("audio file not ready")
	ErrTranscriptionFailed    = errors.New("transcription failed")

	// Memory errors
	ErrMemoryNotFound   = errors.New("memory not found")
	ErrEmbeddingsFailed = errors.New("failed to generate embeddings")

	// Job errors
	ErrJobNotFound      = errors.New("job not found")
	ErrJobCancelled     = errors.New("job cancelled")
	ErrDependencyFailed = errors.New("job dependency failed")

	// Provider errors
	ErrLLMUnavailable     = errors.New("LLM service unavailable")
	ErrASRUnavailable     = errors.New("ASR service unavailable")
	ErrSpeakerUnavailable = errors.New("speaker recognition service unavailable")

	// Validation errors
	ErrInvalidID    = errors.New("invalid ID format")
	ErrInvalidInput = errors.New("invalid input")
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("resource not found")
)
