package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// RecognizeSpeakers relabels the active transcript's segments with enrolled
// speaker names. An absent or unreachable recognition service is a no-op
// success so the rest of the chain still runs with diarization labels.
func (p *Processor) RecognizeSpeakers(ctx context.Context, job *models.Job) (any, error) {
	args, err := decodeArgs(job)
	if err != nil {
		return nil, err
	}
	startedAt := time.Now()

	if p.Speakers == nil || !p.Speakers.Available(ctx) {
		return skipped(args.ConversationID, "speaker service unavailable", startedAt), nil
	}

	conversation, err := p.loadConversation(ctx, args.ConversationID)
	if err != nil {
		return nil, err
	}
	active := conversation.ActiveTranscript()
	if active == nil || len(active.Segments) == 0 {
		return skipped(args.ConversationID, "no transcript segments", startedAt), nil
	}

	enrolled, err := p.Speakers.EnrolledSpeakers(ctx, conversation.UserID)
	if err != nil {
		return nil, fmt.Errorf("list enrolled speakers: %w", err)
	}
	if len(enrolled) == 0 {
		return skipped(args.ConversationID, "no enrolled speakers", startedAt), nil
	}

	pcm, format, err := p.readAudio(conversation)
	if err != nil {
		return nil, err
	}

	identified, err := p.Speakers.Identify(ctx, pcm, format.SampleRate, active.Segments, conversation.UserID)
	if err != nil {
		return nil, fmt.Errorf("identify speakers: %w", err)
	}

	count := 0
	for i := range identified {
		if identified[i].IdentifiedAs != "" {
			count++
		}
	}
	active.Segments = identified
	if err := p.Conversations.Save(ctx, conversation); err != nil {
		return nil, fmt.Errorf("save identified segments: %w", err)
	}

	p.Logger.Info("speakers recognized",
		"conversation_id", conversation.ConversationID,
		"identified_segments", count,
		"total_segments", len(identified))

	return success(conversation.ConversationID, startedAt, map[string]any{
		"identified_segments": count,
		"total_segments":      len(identified),
		"enrolled_speakers":   len(enrolled),
	}), nil
}
