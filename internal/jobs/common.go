package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

func decodeArgs(job *models.Job) (Args, error) {
	var args Args
	if len(job.Args) == 0 {
		return args, fmt.Errorf("%w: job %s has no arguments", domain.ErrInvalidInput, job.ID)
	}
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return args, fmt.Errorf("%w: job %s arguments: %v", domain.ErrInvalidInput, job.ID, err)
	}
	if args.ConversationID == "" {
		return args, fmt.Errorf("%w: job %s missing conversation_id", domain.ErrInvalidInput, job.ID)
	}
	return args, nil
}

// loadConversation fetches the conversation and rejects tombstones; a
// deleted conversation must never be processed further.
func (p *Processor) loadConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	c, err := p.Conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c.Deleted {
		return nil, fmt.Errorf("%w: %s", domain.ErrConversationDeleted, conversationID)
	}
	return c, nil
}

// readAudio loads and decodes the conversation's WAV file from the chunk
// directory. Paths are stored as basenames so the directory can move between
// deployments.
func (p *Processor) readAudio(c *models.Conversation) ([]byte, models.AudioFormat, error) {
	if c.AudioPath == "" {
		return nil, models.AudioFormat{}, fmt.Errorf("%w: conversation %s has no audio file", domain.ErrAudioNotFound, c.ConversationID)
	}
	path := filepath.Join(p.Cfg.Audio.ChunkDir, filepath.Base(c.AudioPath))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.AudioFormat{}, fmt.Errorf("read audio file: %w", err)
	}
	pcm, format, err := wav.Decode(data)
	if err != nil {
		return nil, models.AudioFormat{}, fmt.Errorf("decode audio file: %w", err)
	}
	return pcm, format, nil
}

// speakerOf returns the display label of a segment, preferring an identified
// name over the raw diarization label.
func speakerOf(seg *models.SpeakerSegment) string {
	if seg.IdentifiedAs != "" {
		return seg.IdentifiedAs
	}
	if seg.Speaker != "" {
		return seg.Speaker
	}
	return "Speaker"
}

// formatTranscript renders segments as speaker-attributed lines for LLM
// prompts.
func formatTranscript(segments []models.SpeakerSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", speakerOf(&seg), text)
	}
	return strings.TrimSpace(b.String())
}

// success builds the standard result payload for a finished handler.
func success(conversationID string, startedAt time.Time, details map[string]any) *models.JobResult {
	return &models.JobResult{
		Success:               true,
		ConversationID:        conversationID,
		ProcessingTimeSeconds: time.Since(startedAt).Seconds(),
		Details:               details,
	}
}

// skipped builds a successful no-op result with the reason it was skipped.
func skipped(conversationID, reason string, startedAt time.Time) *models.JobResult {
	return &models.JobResult{
		Success:               true,
		Skipped:               true,
		SkipReason:            reason,
		ConversationID:        conversationID,
		ProcessingTimeSeconds: time.Since(startedAt).Seconds(),
	}
}
