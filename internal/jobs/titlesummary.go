package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

const titlePrompt = `Give this conversation a title of 3 to 6 words. Do not use speaker names. Reply with the title only, no quotes.

Transcript:
%s`

const summaryPrompt = `Summarize this conversation in one sentence of at most 120 characters. Reply with the sentence only.

Transcript:
%s`

const detailedSummaryPrompt = `Write a detailed summary of this conversation: the topics discussed, decisions made and anything the participants agreed to do. A few short paragraphs at most.

Transcript:
%s`

const maxSummaryLen = 120

// GenerateTitleSummary fills in the conversation's title, one-line summary
// and detailed summary from the active transcript. The three generations are
// independent, so they run concurrently.
func (p *Processor) GenerateTitleSummary(ctx context.Context, job *models.Job) (any, error) {
	args, err := decodeArgs(job)
	if err != nil {
		return nil, err
	}
	startedAt := time.Now()

	conversation, err := p.loadConversation(ctx, args.ConversationID)
	if err != nil {
		return nil, err
	}
	transcript := formatTranscript(conversation.Segments())
	if transcript == "" {
		transcript = conversation.Transcript()
	}
	if strings.TrimSpace(transcript) == "" {
		return skipped(args.ConversationID, "no transcript", startedAt), nil
	}

	var title, summary, detailed string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		title, err = p.generate(gctx, titlePrompt, transcript)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = p.generate(gctx, summaryPrompt, transcript)
		return err
	})
	g.Go(func() error {
		var err error
		detailed, err = p.generate(gctx, detailedSummaryPrompt, transcript)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("generate title/summary: %w", err)
	}

	conversation.Title = cleanLine(title)
	conversation.Summary = truncate(cleanLine(summary), maxSummaryLen)
	conversation.DetailedSummary = strings.TrimSpace(detailed)
	if err := p.Conversations.Save(ctx, conversation); err != nil {
		return nil, fmt.Errorf("save title and summaries: %w", err)
	}

	p.Logger.Info("title and summary generated",
		"conversation_id", conversation.ConversationID,
		"title", conversation.Title)

	return success(conversation.ConversationID, startedAt, map[string]any{
		"title":          conversation.Title,
		"summary_length": len(conversation.Summary),
	}), nil
}

func (p *Processor) generate(ctx context.Context, prompt, transcript string) (string, error) {
	return p.LLM.Generate(ctx, fmt.Sprintf(prompt, transcript), 0.7)
}

// cleanLine strips quotes and newlines that models like to wrap short
// answers in.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, `"'`)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max])
}
