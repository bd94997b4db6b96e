// Package jobs implements the post-processing chain that runs after a
// conversation closes: batch transcription, speaker recognition, audio
// cropping, then memory extraction and title/summary generation in parallel.
// Each step is a scheduler job; dependency edges keep the order and a failed
// upstream fails the rest of the chain.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronicleaudio/chronicle/internal/config"
	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// Job function names.
const (
	FuncTranscribe   = "transcribe_conversation"
	FuncSpeakers     = "recognize_speakers"
	FuncCrop         = "crop_audio"
	FuncMemories     = "extract_memories"
	FuncTitleSummary = "generate_title_summary"
)

// Step timeouts.
const (
	transcribeTimeout   = 10 * time.Minute
	speakersTimeout     = 10 * time.Minute
	cropTimeout         = 5 * time.Minute
	memoriesTimeout     = 30 * time.Minute
	titleSummaryTimeout = 10 * time.Minute
)

// Processor holds the dependencies of the post-processing handlers. A single
// Processor serves every conversation; jobs carry the conversation id.
type Processor struct {
	Scheduler     ports.Scheduler
	Conversations ports.ConversationRepository
	Users         ports.UserRepository
	Batch         ports.BatchTranscriptionProvider
	Speakers      ports.SpeakerRecognitionService
	Memory        ports.MemoryProvider
	LLM           ports.LLMService
	IDs           ports.IDGenerator
	Cfg           *config.Config
	Logger        *slog.Logger
}

func NewProcessor(scheduler ports.Scheduler, conversations ports.ConversationRepository, users ports.UserRepository, batch ports.BatchTranscriptionProvider, speakers ports.SpeakerRecognitionService, memoryProvider ports.MemoryProvider, llm ports.LLMService, ids ports.IDGenerator, cfg *config.Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Scheduler:     scheduler,
		Conversations: conversations,
		Users:         users,
		Batch:         batch,
		Speakers:      speakers,
		Memory:        memoryProvider,
		LLM:           llm,
		IDs:           ids,
		Cfg:           cfg,
		Logger:        logger,
	}
}

// Args is the common argument envelope of every post-processing job.
type Args struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// EnqueueProcessing schedules the full chain for a closed conversation and
// returns the job ids in chain order. Memory extraction is skipped when no
// memory provider is configured; title/summary still runs off the cropped
// audio step.
func (p *Processor) EnqueueProcessing(ctx context.Context, c *models.Conversation) ([]string, error) {
	args := Args{ConversationID: c.ConversationID, UserID: c.UserID}
	meta := models.JobMeta{
		AudioUUID:      c.AudioUUID,
		ConversationID: c.ConversationID,
		ClientID:       c.ClientID,
	}

	transcribeID, err := p.enqueue(ctx, FuncTranscribe, args, models.QueueTranscription, transcribeTimeout, nil, meta,
		fmt.Sprintf("transcribe conversation %s", c.ConversationID))
	if err != nil {
		return nil, err
	}
	jobIDs := []string{transcribeID}

	speakersID, err := p.enqueue(ctx, FuncSpeakers, args, models.QueueDefault, speakersTimeout, []string{transcribeID}, meta,
		fmt.Sprintf("recognize speakers in conversation %s", c.ConversationID))
	if err != nil {
		return jobIDs, err
	}
	jobIDs = append(jobIDs, speakersID)

	cropID, err := p.enqueue(ctx, FuncCrop, args, models.QueueDefault, cropTimeout, []string{speakersID}, meta,
		fmt.Sprintf("crop audio of conversation %s", c.ConversationID))
	if err != nil {
		return jobIDs, err
	}
	jobIDs = append(jobIDs, cropID)

	if p.Memory != nil && p.Cfg.IsMemoryConfigured() {
		memoriesID, err := p.enqueue(ctx, FuncMemories, args, models.QueueMemory, memoriesTimeout, []string{cropID}, meta,
			fmt.Sprintf("extract memories from conversation %s", c.ConversationID))
		if err != nil {
			return jobIDs, err
		}
		jobIDs = append(jobIDs, memoriesID)
	}

	titleID, err := p.enqueue(ctx, FuncTitleSummary, args, models.QueueDefault, titleSummaryTimeout, []string{cropID}, meta,
		fmt.Sprintf("title and summary for conversation %s", c.ConversationID))
	if err != nil {
		return jobIDs, err
	}
	jobIDs = append(jobIDs, titleID)

	p.Logger.Info("processing chain enqueued",
		"conversation_id", c.ConversationID,
		"jobs", jobIDs)
	return jobIDs, nil
}

// ChainIDs names the jobs of one enqueued chain by role. Memories is empty
// when no memory provider is configured.
type ChainIDs struct {
	Transcribe   string
	Speakers     string
	Crop         string
	Memories     string
	TitleSummary string
}

// SplitChainIDs maps the ordered id slice EnqueueProcessing returns back to
// named roles.
func SplitChainIDs(ids []string) ChainIDs {
	var out ChainIDs
	if len(ids) > 0 {
		out.Transcribe = ids[0]
	}
	if len(ids) > 1 {
		out.Speakers = ids[1]
	}
	if len(ids) > 2 {
		out.Crop = ids[2]
	}
	switch len(ids) {
	case 4:
		out.TitleSummary = ids[3]
	case 5:
		out.Memories = ids[3]
		out.TitleSummary = ids[4]
	}
	return out
}

// EnqueueMemoryExtraction schedules memory extraction alone, for reprocess
// requests that only want a new memory version off the active transcript.
func (p *Processor) EnqueueMemoryExtraction(ctx context.Context, c *models.Conversation) (string, error) {
	if p.Memory == nil || !p.Cfg.IsMemoryConfigured() {
		return "", fmt.Errorf("enqueue %s: %w", FuncMemories, domain.ErrInvalidInput)
	}
	args := Args{ConversationID: c.ConversationID, UserID: c.UserID}
	meta := models.JobMeta{
		AudioUUID:      c.AudioUUID,
		ConversationID: c.ConversationID,
		ClientID:       c.ClientID,
	}
	return p.enqueue(ctx, FuncMemories, args, models.QueueMemory, memoriesTimeout, nil, meta,
		fmt.Sprintf("extract memories from conversation %s", c.ConversationID))
}

func (p *Processor) enqueue(ctx context.Context, function string, args Args, queue string, timeout time.Duration, dependsOn []string, meta models.JobMeta, description string) (string, error) {
	jobID := p.IDs.JobID("job")
	_, err := p.Scheduler.Enqueue(ctx, ports.EnqueueRequest{
		Function:    function,
		Args:        args,
		Queue:       queue,
		Priority:    models.PriorityNormal,
		Timeout:     timeout,
		ResultTTL:   p.Cfg.Jobs.ResultTTL,
		DependsOn:   dependsOn,
		JobID:       jobID,
		Retries:     p.Cfg.Jobs.MaxRetries,
		Description: description,
		Meta:        meta,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", function, err)
	}
	return jobID, nil
}
