package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

// CropAudio cuts the conversation's audio down to the stretches that contain
// speech, keeping a little context around each segment. The cropped file
// sits next to the original; the original is never modified.
func (p *Processor) CropAudio(ctx context.Context, job *models.Job) (any, error) {
	args, err := decodeArgs(job)
	if err != nil {
		return nil, err
	}
	startedAt := time.Now()

	conversation, err := p.loadConversation(ctx, args.ConversationID)
	if err != nil {
		return nil, err
	}
	segments := conversation.Segments()
	if len(segments) == 0 {
		return skipped(args.ConversationID, "no transcript segments", startedAt), nil
	}

	pcm, format, err := p.readAudio(conversation)
	if err != nil {
		return nil, err
	}
	total := wav.Duration(pcm, format.SampleRate, format.Channels)

	// Every segment is kept; pauses shorter than MinSegmentDuration are
	// absorbed into the surrounding speech instead of being cut out.
	spans := make([]wav.Span, 0, len(segments))
	for _, seg := range segments {
		spans = append(spans, wav.Span{Start: seg.Start, End: seg.End})
	}
	merged := wav.MergeSpans(spans, p.Cfg.Speech.ContextPaddingSecs, p.Cfg.Speech.MinSegmentDuration, total)
	if len(merged) == 0 {
		return skipped(args.ConversationID, "no croppable spans", startedAt), nil
	}

	cropped, croppedDuration := wav.Crop(pcm, format.SampleRate, merged)
	name := conversation.ConversationID + ".cropped.wav"
	path := filepath.Join(p.Cfg.Audio.ChunkDir, name)
	if err := os.WriteFile(path, wav.Encode(cropped, format.SampleRate, format.Channels), 0o644); err != nil {
		return nil, fmt.Errorf("write cropped audio: %w", err)
	}

	conversation.CroppedAudioPath = name
	if err := p.Conversations.Save(ctx, conversation); err != nil {
		return nil, fmt.Errorf("save cropped audio path: %w", err)
	}

	p.Logger.Info("audio cropped",
		"conversation_id", conversation.ConversationID,
		"original_seconds", total,
		"cropped_seconds", croppedDuration,
		"spans", len(merged))

	return success(conversation.ConversationID, startedAt, map[string]any{
		"original_seconds": total,
		"cropped_seconds":  croppedDuration,
		"span_count":       len(merged),
	}), nil
}
