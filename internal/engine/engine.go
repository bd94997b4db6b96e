package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronicleaudio/chronicle/internal/adapters/metrics"
	"github.com/chronicleaudio/chronicle/internal/config"
	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// Job function names handled by the engine controllers.
const (
	FuncDetectSpeech     = "detect_speech"
	FuncOpenConversation = "open_conversation"
)

// Lifecycle TTLs for session-scoped keys.
const (
	sessionTTL             = time.Hour
	currentConversationTTL = 24 * time.Hour
	audioFileTTL           = 24 * time.Hour
	speechJobTTL           = 24 * time.Hour
)

// Engine wires the per-session components to their backing services. One
// Engine serves all sessions; per-session state lives in Redis and on disk.
type Engine struct {
	Bus           ports.StreamBus
	Registry      ports.SessionRegistry
	Scheduler     ports.Scheduler
	Conversations ports.ConversationRepository
	IDs           ports.IDGenerator
	Streaming     ports.StreamingTranscriptionProvider
	Cfg           *config.Config
	Logger        *slog.Logger

	// Chain is set after construction; the jobs package needs the engine's
	// scheduler but the engine only needs this one entry point back.
	Chain ChainEnqueuer
}

func New(bus ports.StreamBus, registry ports.SessionRegistry, scheduler ports.Scheduler, conversations ports.ConversationRepository, ids ports.IDGenerator, streaming ports.StreamingTranscriptionProvider, cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Bus:           bus,
		Registry:      registry,
		Scheduler:     scheduler,
		Conversations: conversations,
		IDs:           ids,
		Streaming:     streaming,
		Cfg:           cfg,
		Logger:        logger,
	}
}

// StartSession registers a new session and enqueues the first speech
// detection listener. The caller runs the persistence and transcription
// workers for the connection's lifetime.
func (e *Engine) StartSession(ctx context.Context, clientID, userID string) (*models.Session, error) {
	session := &models.Session{
		SessionID: e.IDs.SessionID(),
		ClientID:  clientID,
		UserID:    userID,
		Status:    models.SessionActive,
	}

	if err := e.Registry.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := e.enqueueSpeechDetection(ctx, session.SessionID, userID, clientID); err != nil {
		return nil, err
	}

	metrics.SessionsActive.Inc()
	e.Logger.Info("session started",
		"session_id", session.SessionID,
		"client_id", clientID,
		"user_id", userID)

	return session, nil
}

// FinalizeSession moves the session out of active exactly once. Later calls
// and races lose the CAS and are no-ops.
func (e *Engine) FinalizeSession(ctx context.Context, sessionID, completionReason string) error {
	won, err := e.Registry.TransitionStatus(ctx, sessionID, models.SessionActive, models.SessionFinalizing, completionReason)
	if err != nil {
		return err
	}
	if won {
		e.Logger.Info("session finalizing",
			"session_id", sessionID,
			"completion_reason", completionReason)
	}
	return nil
}

// CompleteSession marks the session terminal and sets cleanup TTLs.
func (e *Engine) CompleteSession(ctx context.Context, sessionID string) error {
	won, err := e.Registry.TransitionStatus(ctx, sessionID, models.SessionFinalizing, models.SessionComplete, "")
	if err != nil {
		return err
	}
	if won {
		metrics.SessionsActive.Dec()
	}
	if err := e.Registry.ExpireSession(ctx, sessionID, sessionTTL); err != nil {
		return err
	}
	// The byte stream is no longer needed once both workers have drained.
	return e.Bus.Delete(ctx, domain.AudioStream(sessionID))
}

// AppendAudio publishes one raw PCM chunk onto the session's byte stream,
// where both the persistence and transcription groups pick it up.
func (e *Engine) AppendAudio(ctx context.Context, sessionID string, chunk []byte) error {
	_, err := e.Bus.Append(ctx, domain.AudioStream(sessionID), map[string]string{
		domain.FieldAudio: string(chunk),
	})
	if err == nil {
		metrics.AudioChunksTotal.Inc()
		metrics.AudioBytesTotal.Add(float64(len(chunk)))
	}
	return err
}

// enqueueSpeechDetection schedules a fresh speech detection listener and
// records its job id so a disconnect can cancel it.
func (e *Engine) enqueueSpeechDetection(ctx context.Context, sessionID, userID, clientID string) error {
	jobID := e.IDs.JobID("speech")
	_, err := e.Scheduler.Enqueue(ctx, ports.EnqueueRequest{
		Function: FuncDetectSpeech,
		Args: SpeechDetectionArgs{
			SessionID: sessionID,
			UserID:    userID,
			ClientID:  clientID,
		},
		Queue:       models.QueueDefault,
		Priority:    models.PriorityHigh,
		Timeout:     time.Hour,
		ResultTTL:   e.Cfg.Jobs.ResultTTL,
		JobID:       jobID,
		Retries:     e.Cfg.Jobs.MaxRetries,
		Description: fmt.Sprintf("speech detection for session %s", sessionID),
		Meta: models.JobMeta{
			AudioUUID:    sessionID,
			ClientID:     clientID,
			SessionLevel: true,
		},
	})
	if err != nil {
		return fmt.Errorf("enqueue speech detection: %w", err)
	}
	return e.Registry.SetSpeechDetectionJob(ctx, clientID, jobID, speechJobTTL)
}

// CancelSpeechDetection cancels the session's pending speech listener, if
// any. Called on disconnect so no listener outlives its connection.
func (e *Engine) CancelSpeechDetection(ctx context.Context, clientID string) {
	jobID, err := e.Registry.SpeechDetectionJob(ctx, clientID)
	if err != nil || jobID == "" {
		return
	}
	if err := e.Scheduler.Cancel(ctx, jobID); err != nil && err != domain.ErrJobNotFound {
		e.Logger.Warn("cancel speech detection failed",
			"client_id", clientID,
			"job_id", jobID,
			"error", err)
	}
}
