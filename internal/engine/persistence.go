package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

const (
	persistReadBatch = 64
	persistReadBlock = time.Second
)

// Stream maintenance cadence. Messages pending longer than claimIdleAfter
// are reclaimed by the live consumer; messages still pending after
// fatalReapAfter are acked unprocessed so they cannot wedge the group.
// Vars so tests can shorten them.
var (
	claimIdleAfter = 30 * time.Second
	fatalReapAfter = 30 * time.Minute
)

// persistenceWorker drains the session's audio byte stream into per
// conversation WAV files. It keeps a bounded scratch buffer of recent chunks
// so the seconds of audio that triggered speech detection land in the file
// opened for the resulting conversation. Chunks are acked only after they are
// on disk; a crash replays the unacked tail into the same group.
type persistenceWorker struct {
	engine    *Engine
	sessionID string
	consumer  string

	writer  *wav.FileWriter
	current string // conversation id the writer belongs to

	scratch   [][]byte
	lastClaim time.Time
}

// RunPersistence consumes the session's audio stream until the session ends
// and the stream is drained. The caller runs it in its own goroutine for the
// connection's lifetime.
func (e *Engine) RunPersistence(ctx context.Context, sessionID string) error {
	w := &persistenceWorker{
		engine:    e,
		sessionID: sessionID,
		consumer:  "persist-" + sessionID,
		lastClaim: time.Now(),
	}
	defer w.closeFile(context.WithoutCancel(ctx))
	return w.run(ctx)
}

func (w *persistenceWorker) run(ctx context.Context) error {
	e := w.engine
	stream := domain.AudioStream(w.sessionID)

	for {
		msgs, err := e.Bus.ReadGroup(ctx, stream, domain.GroupPersistence, w.consumer, persistReadBatch, persistReadBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read audio stream: %w", err)
		}

		if time.Since(w.lastClaim) >= claimIdleAfter {
			w.lastClaim = time.Now()
			claimed, err := e.Bus.ClaimIdle(ctx, stream, domain.GroupPersistence, w.consumer, claimIdleAfter)
			if err == nil {
				msgs = append(claimed, msgs...)
			}
			if dropped, err := e.Bus.ReapDead(ctx, stream, domain.GroupPersistence, fatalReapAfter); err == nil && dropped > 0 {
				e.Logger.Warn("dropped dead audio chunks",
					"session_id", w.sessionID,
					"count", dropped)
			}
		}

		if len(msgs) == 0 {
			done, err := w.sessionDone(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}

		if err := w.rotate(ctx); err != nil {
			return err
		}

		var acks []string
		for _, msg := range msgs {
			chunk, ok := msg.Values[domain.FieldAudio]
			if !ok {
				acks = append(acks, msg.ID)
				continue
			}
			if err := w.write(ctx, []byte(chunk)); err != nil {
				return err
			}
			acks = append(acks, msg.ID)
		}
		if err := e.Bus.Ack(ctx, stream, domain.GroupPersistence, acks...); err != nil {
			return fmt.Errorf("ack audio chunks: %w", err)
		}
	}
}

// rotate tracks the conversation pointer: closing and publishing the old file
// when the pointer clears or changes, and opening a new file (seeded with the
// scratch buffer) when a conversation becomes current.
func (w *persistenceWorker) rotate(ctx context.Context) error {
	e := w.engine
	conversationID, err := e.Registry.CurrentConversation(ctx, w.sessionID)
	if err != nil {
		return err
	}
	if conversationID == w.current {
		return nil
	}

	w.closeFile(ctx)
	w.current = conversationID
	if conversationID == "" {
		return nil
	}

	path := filepath.Join(e.Cfg.Audio.ChunkDir, conversationID+".wav")
	writer, err := wav.NewFileWriter(path, e.Cfg.Audio.SampleRate, 1)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	w.writer = writer

	for _, chunk := range w.scratch {
		if err := writer.Write(chunk); err != nil {
			return fmt.Errorf("flush scratch buffer: %w", err)
		}
	}
	w.scratch = nil

	e.Logger.Info("audio file opened",
		"conversation_id", conversationID,
		"session_id", w.sessionID,
		"path", path)
	return nil
}

func (w *persistenceWorker) write(ctx context.Context, chunk []byte) error {
	if w.writer != nil {
		return w.writer.Write(chunk)
	}

	// No conversation yet; remember the most recent chunks so the start of
	// the next conversation is not lost.
	w.scratch = append(w.scratch, chunk)
	if max := w.engine.Cfg.Speech.PreConversationBuffer; max > 0 && len(w.scratch) > max {
		w.scratch = w.scratch[len(w.scratch)-max:]
	}
	return nil
}

// closeFile finalizes the current WAV file and publishes its path for the
// conversation controller, which blocks on it before enqueueing processing.
func (w *persistenceWorker) closeFile(ctx context.Context) {
	if w.writer == nil {
		return
	}
	e := w.engine
	writer, conversationID := w.writer, w.current
	w.writer = nil

	if err := writer.Close(); err != nil {
		e.Logger.Error("close audio file failed",
			"conversation_id", conversationID,
			"error", err)
		return
	}
	if err := e.Registry.PublishAudioFile(ctx, conversationID, writer.Path(), audioFileTTL); err != nil {
		e.Logger.Error("publish audio file failed",
			"conversation_id", conversationID,
			"error", err)
		return
	}
	e.Logger.Info("audio file closed",
		"conversation_id", conversationID,
		"path", writer.Path(),
		"duration_seconds", writer.Duration())
}

// sessionDone reports whether the worker can stop: the session has left the
// active state and nothing new will arrive. The blocking read already
// returned empty, so the stream is drained.
func (w *persistenceWorker) sessionDone(ctx context.Context) (bool, error) {
	session, err := w.engine.Registry.GetSession(ctx, w.sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return session.Status != models.SessionActive, nil
}
