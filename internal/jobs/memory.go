package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// ExtractMemories runs memory extraction over the active transcript and
// records the outcome as a new memory version. Users with primary speakers
// configured only get memories from conversations where one of them was
// identified.
func (p *Processor) ExtractMemories(ctx context.Context, job *models.Job) (any, error) {
	args, err := decodeArgs(job)
	if err != nil {
		return nil, err
	}
	startedAt := time.Now()

	if p.Memory == nil {
		return skipped(args.ConversationID, "memory provider not configured", startedAt), nil
	}

	conversation, err := p.loadConversation(ctx, args.ConversationID)
	if err != nil {
		return nil, err
	}
	active := conversation.ActiveTranscript()
	if active == nil {
		return skipped(args.ConversationID, "no transcript", startedAt), nil
	}

	transcript := formatTranscript(active.Segments)
	if transcript == "" {
		transcript = active.Transcript
	}
	if len(transcript) < p.Cfg.Memory.MinTranscriptChars {
		return skipped(args.ConversationID, "transcript too short", startedAt), nil
	}

	user, err := p.Users.GetByID(ctx, conversation.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}

	var email string
	if user != nil {
		email = user.Email
		if p.Cfg.Memory.FilterPrimarySpeaker && len(user.PrimarySpeakers) > 0 &&
			!hasPrimarySpeaker(active.Segments, user.PrimarySpeakers) {
			return skipped(args.ConversationID, "no primary speaker identified", startedAt), nil
		}
	}

	stored, memoryIDs, err := p.Memory.AddMemory(ctx, transcript, conversation.ClientID, conversation.ConversationID, conversation.UserID, email, true)
	if err != nil {
		return nil, fmt.Errorf("extract memories: %w", err)
	}
	if !stored {
		return skipped(args.ConversationID, "no memories extracted", startedAt), nil
	}

	version := models.MemoryVersion{
		VersionID:             p.IDs.VersionID(),
		MemoryCount:           len(memoryIDs),
		TranscriptVersionID:   active.VersionID,
		Provider:              p.Memory.Name(),
		Model:                 p.Memory.Model(),
		CreatedAt:             time.Now().UTC(),
		ProcessingTimeSeconds: time.Since(startedAt).Seconds(),
		Metadata: map[string]any{
			"memory_ids": memoryIDs,
		},
	}
	if err := conversation.AddMemoryVersion(version, true); err != nil {
		return nil, err
	}
	if err := p.Conversations.Save(ctx, conversation); err != nil {
		return nil, fmt.Errorf("save memory version: %w", err)
	}

	p.Logger.Info("memories extracted",
		"conversation_id", conversation.ConversationID,
		"version_id", version.VersionID,
		"count", len(memoryIDs))

	return success(conversation.ConversationID, startedAt, map[string]any{
		"version_id":   version.VersionID,
		"memory_count": len(memoryIDs),
		"memory_ids":   memoryIDs,
	}), nil
}

// hasPrimarySpeaker reports whether any segment was identified as one of the
// user's primary speakers.
func hasPrimarySpeaker(segments []models.SpeakerSegment, primary []models.PrimarySpeaker) bool {
	names := make(map[string]bool, len(primary))
	for _, ps := range primary {
		names[ps.Name] = true
	}
	for _, seg := range segments {
		if seg.IdentifiedAs != "" && names[seg.IdentifiedAs] {
			return true
		}
	}
	return false
}
