package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chronicleaudio/chronicle/internal/adapters/metrics"
	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// Loop ticks, variable so tests can tighten them.
var (
	conversationPollInterval = time.Second
	audioFilePollInterval    = 500 * time.Millisecond
)

// ChainEnqueuer schedules the post-processing chain for a closed
// conversation. Implemented by the jobs package.
type ChainEnqueuer interface {
	EnqueueProcessing(ctx context.Context, c *models.Conversation) ([]string, error)
}

// ConversationArgs are the arguments of an open_conversation job.
type ConversationArgs struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	ClientID         string    `json:"client_id"`
	ConversationID   string    `json:"conversation_id"`
	SpeechDetectedAt time.Time `json:"speech_detected_at"`
	SpeechJobID      string    `json:"speech_job_id,omitempty"`
}

// ConversationOutput is the result payload of an open_conversation job.
type ConversationOutput struct {
	ConversationID    string   `json:"conversation_id"`
	Deleted           bool     `json:"deleted"`
	DeletionReason    string   `json:"deletion_reason,omitempty"`
	EndReason         string   `json:"end_reason,omitempty"`
	ConversationCount int64    `json:"conversation_count"`
	RuntimeSeconds    float64  `json:"runtime_seconds"`
	FinalResultCount  int      `json:"final_result_count"`
	ProcessingJobIDs  []string `json:"processing_job_ids,omitempty"`
}

// RunConversation is the conversation controller. It watches the live
// aggregate until the conversation ends (inactivity, session close, max
// runtime), then either soft-deletes the conversation or hands it to the
// post-processing chain. Cleanup runs on every path except cancellation.
func (e *Engine) RunConversation(ctx context.Context, job *models.Job) (any, error) {
	var args ConversationArgs
	if err := decodeArgs(job, &args); err != nil {
		return nil, err
	}

	started := time.Now()
	lastSpeech := started
	lastWordCount := 0
	endReason := models.EndReasonUnknown

	ticker := time.NewTicker(conversationPollInterval)
	defer ticker.Stop()

loop:
	for {
		// A cancelled controller exits without cleanup so a reprocess or
		// operator action can take over the conversation.
		alive, err := e.Scheduler.Alive(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if !alive {
			return nil, domain.ErrJobCancelled
		}

		session, err := e.Registry.GetSession(ctx, args.SessionID)
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			endReason = models.EndReasonWebsocketDisconnect
			break loop
		case err != nil:
			return nil, err
		case session.Status != models.SessionActive:
			if session.CompletionReason == models.CompletionWebsocketDisconnect {
				endReason = models.EndReasonWebsocketDisconnect
			} else {
				endReason = models.EndReasonUserStopped
			}
			break loop
		}

		if time.Since(started).Seconds() >= e.Cfg.Speech.MaxConversationSecs {
			endReason = models.EndReasonMaxDuration
			break loop
		}

		agg, err := Aggregate(ctx, e.Bus, args.SessionID)
		if err != nil {
			return nil, err
		}
		if count := agg.WordCount(); count > lastWordCount {
			lastWordCount = count
			lastSpeech = time.Now()
		}

		e.saveProgress(ctx, job, agg, started, lastSpeech)

		if time.Since(lastSpeech).Seconds() >= e.Cfg.Speech.InactivityThreshold {
			if e.Cfg.Speech.WaitForQueueDrain && e.audioPending(ctx, args.SessionID) {
				// Tests feed audio faster than real time; hold the timeout
				// until the transcriber has caught up.
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-ticker.C:
				}
				continue
			}
			endReason = models.EndReasonInactivityTimeout
			break loop
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	output := &ConversationOutput{
		ConversationID: args.ConversationID,
		EndReason:      endReason,
		RuntimeSeconds: time.Since(started).Seconds(),
	}

	if err := e.closeConversation(ctx, &args, endReason, output); err != nil {
		e.cleanup(ctx, &args, output)
		return nil, err
	}
	e.cleanup(ctx, &args, output)
	return output, nil
}

// closeConversation runs the post-loop decisions: discard conversations
// without meaningful speech or without an audio file, otherwise persist the
// final state and enqueue the processing chain.
func (e *Engine) closeConversation(ctx context.Context, args *ConversationArgs, endReason string, output *ConversationOutput) error {
	agg, err := Aggregate(ctx, e.Bus, args.SessionID)
	if err != nil {
		return err
	}
	output.FinalResultCount = agg.ChunkCount

	analysis := AnalyzeSpeech(agg, e.Cfg.Speech)
	if !analysis.HasSpeech {
		return e.discard(ctx, args.ConversationID, models.DeletionNoMeaningfulSpeech, output)
	}

	audioPath, err := e.waitForAudioFile(ctx, args.ConversationID)
	if err != nil {
		if errors.Is(err, domain.ErrAudioFileNotReady) {
			return e.discard(ctx, args.ConversationID, models.DeletionAudioFileNotReady, output)
		}
		return err
	}

	conversation, err := e.Conversations.GetByID(ctx, args.ConversationID)
	if err != nil {
		return err
	}
	conversation.AudioPath = filepath.Base(audioPath)
	conversation.Complete(endReason)
	if err := e.Conversations.Save(ctx, conversation); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	if e.Chain != nil {
		jobIDs, err := e.Chain.EnqueueProcessing(ctx, conversation)
		if err != nil {
			return fmt.Errorf("enqueue processing chain: %w", err)
		}
		output.ProcessingJobIDs = jobIDs
	}
	return nil
}

func (e *Engine) discard(ctx context.Context, conversationID, reason string, output *ConversationOutput) error {
	if err := e.Conversations.SoftDelete(ctx, conversationID, reason); err != nil {
		return fmt.Errorf("soft delete conversation: %w", err)
	}
	output.Deleted = true
	output.DeletionReason = reason
	metrics.ConversationsDiscarded.WithLabelValues(reason).Inc()
	e.Logger.Info("conversation discarded",
		"conversation_id", conversationID,
		"reason", reason)
	return nil
}

// waitForAudioFile polls for the persistence worker's published file path.
// The worker closes and publishes the file when the conversation pointer
// clears or the session finalizes, so this normally returns quickly.
func (e *Engine) waitForAudioFile(ctx context.Context, conversationID string) (string, error) {
	deadline := time.Now().Add(time.Duration(e.Cfg.Speech.AudioFileWaitSecs * float64(time.Second)))
	for {
		path, err := e.Registry.AudioFile(ctx, conversationID)
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
		if time.Now().After(deadline) {
			return "", domain.ErrAudioFileNotReady
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(audioFilePollInterval):
		}
	}
}

// cleanup releases the per-conversation coordination state. It runs on every
// exit path after the loop, including errors, so a failed close never wedges
// the session.
func (e *Engine) cleanup(ctx context.Context, args *ConversationArgs, output *ConversationOutput) {
	if err := e.Bus.Delete(ctx, domain.ResultStream(args.SessionID)); err != nil {
		e.Logger.Warn("delete result stream failed", "session_id", args.SessionID, "error", err)
	}
	if err := e.Registry.ClearCurrentConversation(ctx, args.SessionID); err != nil {
		e.Logger.Warn("clear conversation pointer failed", "session_id", args.SessionID, "error", err)
	}
	if err := e.Registry.ExpireSession(ctx, args.SessionID, sessionTTL); err != nil {
		e.Logger.Warn("expire session failed", "session_id", args.SessionID, "error", err)
	}

	count, err := e.Registry.IncrementConversationCount(ctx, args.SessionID, sessionTTL)
	if err != nil {
		e.Logger.Warn("increment conversation count failed", "session_id", args.SessionID, "error", err)
	}
	output.ConversationCount = count

	// A still-active session gets a fresh listener so the next stretch of
	// speech opens a new conversation.
	session, err := e.Registry.GetSession(ctx, args.SessionID)
	if err == nil && session.Status == models.SessionActive {
		if err := e.enqueueSpeechDetection(ctx, args.SessionID, args.UserID, args.ClientID); err != nil {
			e.Logger.Error("re-enqueue speech detection failed", "session_id", args.SessionID, "error", err)
		}
	}

	e.Logger.Info("conversation closed",
		"conversation_id", args.ConversationID,
		"session_id", args.SessionID,
		"end_reason", output.EndReason,
		"deleted", output.Deleted,
		"conversation_count", count)
}

// saveProgress writes live progress into the job's metadata for observers.
func (e *Engine) saveProgress(ctx context.Context, job *models.Job, agg *models.Aggregate, started, lastSpeech time.Time) {
	analysis := AnalyzeSpeech(agg, e.Cfg.Speech)

	meta := job.Meta
	meta.Extra = nil // fresh bag each tick; observers hold the last snapshot
	meta.Set("transcript_preview", transcriptPreview(agg.Text, 500))
	meta.Set("transcript_length", len(agg.Text))
	meta.Set("speakers", speakerLabels(agg.Segments))
	meta.Set("word_count", agg.WordCount())
	meta.Set("duration_seconds", time.Since(started).Seconds())
	meta.Set("has_speech", analysis.HasSpeech)
	meta.Set("chunks_processed", agg.ChunkCount)
	meta.Set("inactivity_seconds", time.Since(lastSpeech).Seconds())
	meta.Set("last_update", time.Now().UTC().Format(time.RFC3339))

	if err := e.Scheduler.SaveMeta(ctx, job.ID, meta); err != nil {
		e.Logger.Warn("save progress failed", "job_id", job.ID, "error", err)
	}
	job.Meta = meta
}

// audioPending reports whether unconsumed audio remains on the session's
// byte stream.
func (e *Engine) audioPending(ctx context.Context, sessionID string) bool {
	n, err := e.Bus.Len(ctx, domain.AudioStream(sessionID))
	return err == nil && n > 0
}
