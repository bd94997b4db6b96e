package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chronicleaudio/chronicle/internal/adapters/metrics"
	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// speechPollInterval is how often the listener re-reads the result stream.
// Variable so tests can tighten the loop.
var speechPollInterval = time.Second

// SpeechDetectionArgs are the arguments of a detect_speech job.
type SpeechDetectionArgs struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ClientID  string `json:"client_id"`
}

// SpeechDetectionOutput is the result payload of a detect_speech job.
type SpeechDetectionOutput struct {
	SpeechDetected bool    `json:"speech_detected"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Reason         string  `json:"reason"`
	WordCount      int     `json:"word_count"`
	Duration       float64 `json:"duration_seconds"`
}

// DetectSpeech is the speech detection listener. It polls the session's
// aggregated results until meaningful speech qualifies, then opens a
// conversation and hands off to the conversation controller. One listener
// runs per session at a time; the controller re-enqueues a fresh one when a
// conversation closes on a still-active session.
func (e *Engine) DetectSpeech(ctx context.Context, job *models.Job) (any, error) {
	var args SpeechDetectionArgs
	if err := decodeArgs(job, &args); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(speechPollInterval)
	defer ticker.Stop()

	for {
		// Cancelled listeners must not open conversations.
		alive, err := e.Scheduler.Alive(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if !alive {
			return nil, domain.ErrJobCancelled
		}

		session, err := e.Registry.GetSession(ctx, args.SessionID)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				return &SpeechDetectionOutput{Reason: "session_gone"}, nil
			}
			return nil, err
		}
		if session.Terminal() {
			return &SpeechDetectionOutput{Reason: "session_" + session.Status}, nil
		}

		agg, err := Aggregate(ctx, e.Bus, args.SessionID)
		if err != nil {
			return nil, err
		}
		analysis := AnalyzeSpeech(agg, e.Cfg.Speech)
		if analysis.HasSpeech {
			conversationID, err := e.openConversation(ctx, &args, job.ID)
			if err != nil {
				return nil, err
			}
			return &SpeechDetectionOutput{
				SpeechDetected: true,
				ConversationID: conversationID,
				Reason:         analysis.Reason,
				WordCount:      analysis.WordCount,
				Duration:       analysis.Duration,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// openConversation creates the conversation record, stamps it as current for
// the session, and enqueues the conversation controller.
func (e *Engine) openConversation(ctx context.Context, args *SpeechDetectionArgs, speechJobID string) (string, error) {
	conversation := models.NewConversation(
		e.IDs.ConversationID(),
		args.SessionID,
		args.UserID,
		args.ClientID,
		"Conversation in progress",
		"Processing...",
	)
	if err := e.Conversations.Insert(ctx, conversation); err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}

	// The pointer flip is what rotates the persistence worker onto a new
	// file, so it must land before the controller starts.
	if err := e.Registry.SetCurrentConversation(ctx, args.SessionID, conversation.ConversationID, currentConversationTTL); err != nil {
		return "", fmt.Errorf("set current conversation: %w", err)
	}

	_, err := e.Scheduler.Enqueue(ctx, ports.EnqueueRequest{
		Function: FuncOpenConversation,
		Args: ConversationArgs{
			SessionID:        args.SessionID,
			UserID:           args.UserID,
			ClientID:         args.ClientID,
			ConversationID:   conversation.ConversationID,
			SpeechDetectedAt: time.Now().UTC(),
			SpeechJobID:      speechJobID,
		},
		Queue:       models.QueueDefault,
		Priority:    models.PriorityHigh,
		Timeout:     4 * time.Hour,
		ResultTTL:   e.Cfg.Jobs.ResultTTL,
		JobID:       e.IDs.JobID("conv"),
		Retries:     e.Cfg.Jobs.MaxRetries,
		Description: fmt.Sprintf("conversation %s lifecycle", conversation.ConversationID),
		Meta: models.JobMeta{
			AudioUUID:      args.SessionID,
			ConversationID: conversation.ConversationID,
			ClientID:       args.ClientID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("enqueue conversation controller: %w", err)
	}

	metrics.ConversationsOpened.Inc()
	e.Logger.Info("conversation opened",
		"conversation_id", conversation.ConversationID,
		"session_id", args.SessionID,
		"user_id", args.UserID)

	return conversation.ConversationID, nil
}

func decodeArgs(job *models.Job, out any) error {
	if len(job.Args) == 0 {
		return fmt.Errorf("%w: job %s has no arguments", domain.ErrInvalidInput, job.ID)
	}
	if err := json.Unmarshal(job.Args, out); err != nil {
		return fmt.Errorf("%w: job %s arguments: %v", domain.ErrInvalidInput, job.ID, err)
	}
	return nil
}
