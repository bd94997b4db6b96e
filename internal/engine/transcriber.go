package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

const (
	transcribeReadBatch = 16
	transcribeReadBlock = time.Second
)

// RunTranscription feeds the session's audio stream through the streaming
// transcription provider and appends every final result to the session's
// result stream. Chunks are acked only after any result they produced is on
// the result stream, so a crash re-feeds the unacked tail.
func (e *Engine) RunTranscription(ctx context.Context, sessionID string) error {
	stream := domain.AudioStream(sessionID)
	consumer := "transcribe-" + sessionID

	if err := e.Streaming.StartStream(ctx, sessionID, e.Cfg.Audio.SampleRate, e.Cfg.ASR.Diarize); err != nil {
		return fmt.Errorf("start transcription stream: %w", err)
	}
	defer e.endStream(context.WithoutCancel(ctx), sessionID)

	lastClaim := time.Now()
	for {
		msgs, err := e.Bus.ReadGroup(ctx, stream, domain.GroupTranscription, consumer, transcribeReadBatch, transcribeReadBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read audio stream: %w", err)
		}

		if time.Since(lastClaim) >= claimIdleAfter {
			lastClaim = time.Now()
			claimed, err := e.Bus.ClaimIdle(ctx, stream, domain.GroupTranscription, consumer, claimIdleAfter)
			if err == nil {
				msgs = append(claimed, msgs...)
			}
			if dropped, err := e.Bus.ReapDead(ctx, stream, domain.GroupTranscription, fatalReapAfter); err == nil && dropped > 0 {
				e.Logger.Warn("dropped dead audio chunks",
					"session_id", sessionID,
					"count", dropped)
			}
		}

		if len(msgs) == 0 {
			session, err := e.Registry.GetSession(ctx, sessionID)
			if errors.Is(err, domain.ErrSessionNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if session.Status != models.SessionActive {
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			chunk, ok := msg.Values[domain.FieldAudio]
			if ok {
				result, err := e.Streaming.ProcessAudioChunk(ctx, sessionID, []byte(chunk))
				if err != nil {
					// Transcription hiccups must not wedge the stream; the
					// chunk's audio is preserved by the persistence worker
					// and batch transcription covers the gap.
					e.Logger.Warn("transcribe chunk failed",
						"session_id", sessionID,
						"error", err)
				} else if result != nil {
					if err := appendResult(ctx, e.Bus, sessionID, result); err != nil {
						return fmt.Errorf("append result: %w", err)
					}
				}
			}
			if err := e.Bus.Ack(ctx, stream, domain.GroupTranscription, msg.ID); err != nil {
				return fmt.Errorf("ack audio chunk: %w", err)
			}
		}
	}
}

// endStream flushes the provider's buffered remainder. The final result
// still lands on the result stream so the controller's last aggregate sees
// every word.
func (e *Engine) endStream(ctx context.Context, sessionID string) {
	result, err := e.Streaming.EndStream(ctx, sessionID)
	if err != nil {
		e.Logger.Warn("end transcription stream failed", "session_id", sessionID, "error", err)
		return
	}
	if result == nil {
		return
	}
	if err := appendResult(ctx, e.Bus, sessionID, result); err != nil {
		e.Logger.Warn("append final result failed", "session_id", sessionID, "error", err)
	}
}
