package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// Transcribe runs batch transcription over the conversation's full audio
// file and records the output as a new active transcript version. It is the
// root of the processing chain; every later step reads its version.
func (p *Processor) Transcribe(ctx context.Context, job *models.Job) (any, error) {
	args, err := decodeArgs(job)
	if err != nil {
		return nil, err
	}
	startedAt := time.Now()

	conversation, err := p.loadConversation(ctx, args.ConversationID)
	if err != nil {
		return nil, err
	}
	pcm, format, err := p.readAudio(conversation)
	if err != nil {
		return nil, err
	}

	result, err := p.Batch.Transcribe(ctx, pcm, format.SampleRate, p.Cfg.ASR.Diarize)
	if err != nil {
		return nil, fmt.Errorf("batch transcription: %w", err)
	}

	version := models.TranscriptVersion{
		VersionID:             p.IDs.VersionID(),
		Transcript:            result.Text,
		Segments:              result.Segments,
		Provider:              p.Batch.Name(),
		Model:                 result.Model,
		CreatedAt:             time.Now().UTC(),
		ProcessingTimeSeconds: time.Since(startedAt).Seconds(),
		Metadata: map[string]any{
			"word_count":    len(result.Words),
			"segment_count": len(result.Segments),
			"diarize":       p.Cfg.ASR.Diarize,
		},
	}
	if err := conversation.AddTranscriptVersion(version, true); err != nil {
		return nil, err
	}
	if err := p.Conversations.Save(ctx, conversation); err != nil {
		return nil, fmt.Errorf("save transcript version: %w", err)
	}

	p.Logger.Info("conversation transcribed",
		"conversation_id", conversation.ConversationID,
		"version_id", version.VersionID,
		"segments", len(result.Segments),
		"chars", len(result.Text))

	return success(conversation.ConversationID, startedAt, map[string]any{
		"version_id":        version.VersionID,
		"transcript_length": len(result.Text),
		"segment_count":     len(result.Segments),
	}), nil
}
