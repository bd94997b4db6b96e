// Package memory is the built-in memory provider: an LLM extracts durable
// facts from a conversation transcript, each fact is embedded, and the
// results land in Postgres for similarity search.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chronicleaudio/chronicle/internal/adapters/metrics"
	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// updateThreshold is the similarity above which a new fact replaces an
// existing memory instead of creating a near-duplicate.
const updateThreshold = 0.92

const extractionPrompt = `You extract personal memories from conversation transcripts.

Extract durable facts about the user and the people they talk to: preferences, plans, relationships, commitments, biographical details. Skip small talk, filler and anything that will not matter tomorrow.

Return ONLY a JSON array. Each element: {"content": "<one self-contained fact>", "importance": <0.0-1.0>}
Return [] if the transcript contains nothing worth remembering.

Transcript:
%s`

type Provider struct {
	llm        ports.LLMService
	embeddings ports.EmbeddingService
	repo       ports.MemoryRepository
	tx         ports.TransactionManager
	ids        ports.IDGenerator
	model      string

	minImportance float64
	logger        *slog.Logger
}

// NewProvider builds the provider. tx may be nil; stores then run outside a
// transaction.
func NewProvider(llm ports.LLMService, embeddings ports.EmbeddingService, repo ports.MemoryRepository, tx ports.TransactionManager, ids ports.IDGenerator, model string, minImportance float64, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		llm:           llm,
		embeddings:    embeddings,
		repo:          repo,
		tx:            tx,
		ids:           ids,
		model:         model,
		minImportance: minImportance,
		logger:        logger,
	}
}

func (p *Provider) Name() string { return "chronicle" }

func (p *Provider) Model() string { return p.model }

type extractedFact struct {
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// AddMemory extracts facts from the transcript and stores them. Returns
// whether anything was stored and the ids of created or updated memories.
func (p *Provider) AddMemory(ctx context.Context, transcript, clientID, sourceID, userID, userEmail string, allowUpdate bool) (bool, []string, error) {
	facts, err := p.extract(ctx, transcript)
	if err != nil {
		return false, nil, err
	}
	if len(facts) == 0 {
		p.logger.Info("no memories extracted", "source_id", sourceID, "user_id", userID)
		return false, nil, nil
	}

	// Embed before opening the transaction; the embedding service is an
	// HTTP round trip per fact.
	type embeddedFact struct {
		content    string
		importance float64
		vector     []float32
	}
	var pending []embeddedFact
	for _, fact := range facts {
		content := strings.TrimSpace(fact.Content)
		if content == "" || fact.Importance < p.minImportance {
			continue
		}
		vector, err := p.embeddings.Embed(ctx, content)
		if err != nil {
			return false, nil, fmt.Errorf("embed memory: %w", err)
		}
		pending = append(pending, embeddedFact{content, fact.Importance, vector})
	}
	if len(pending) == 0 {
		return false, nil, nil
	}

	var ids []string
	store := func(ctx context.Context) error {
		for _, fact := range pending {
			if allowUpdate {
				if id, updated := p.tryUpdate(ctx, userID, fact.content, fact.importance, fact.vector); updated {
					ids = append(ids, id)
					continue
				}
			}

			now := time.Now().UTC()
			m := &models.Memory{
				ID:         p.ids.MemoryID(),
				UserID:     userID,
				ClientID:   clientID,
				SourceID:   sourceID,
				Content:    fact.content,
				Importance: fact.importance,
				Embedding:  fact.vector,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := p.repo.Create(ctx, m); err != nil {
				return fmt.Errorf("store memory: %w", err)
			}
			ids = append(ids, m.ID)
		}
		return nil
	}

	// One conversation's facts commit together.
	var storeErr error
	if p.tx != nil {
		storeErr = p.tx.WithTransaction(ctx, store)
	} else {
		storeErr = store(ctx)
	}
	if storeErr != nil {
		return false, nil, storeErr
	}

	metrics.MemoriesStored.Add(float64(len(ids)))
	p.logger.Info("memories stored",
		"source_id", sourceID,
		"user_id", userID,
		"count", len(ids))

	return len(ids) > 0, ids, nil
}

// ingestImportance ranks ingested notes below extracted facts by default;
// note chunks are bulk context, not curated memories.
const ingestImportance = 0.5

// IngestText stores one chunk of text verbatim with its embedding. No LLM
// pass, no near-duplicate update.
func (p *Provider) IngestText(ctx context.Context, text, clientID, sourceID, userID string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
	}

	vector, err := p.embeddings.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed text: %w", err)
	}

	now := time.Now().UTC()
	m := &models.Memory{
		ID:         p.ids.MemoryID(),
		UserID:     userID,
		ClientID:   clientID,
		SourceID:   sourceID,
		Content:    text,
		Importance: ingestImportance,
		Embedding:  vector,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.repo.Create(ctx, m); err != nil {
		return "", fmt.Errorf("store ingested text: %w", err)
	}
	metrics.MemoriesStored.Inc()
	return m.ID, nil
}

// tryUpdate replaces the closest existing memory when the new fact is a
// near-duplicate of it.
func (p *Provider) tryUpdate(ctx context.Context, userID, content string, importance float64, embedding []float32) (string, bool) {
	results, err := p.repo.Search(ctx, userID, embedding, 1)
	if err != nil || len(results) == 0 {
		return "", false
	}
	best := results[0]
	if best.Score < updateThreshold {
		return "", false
	}

	m := best.Memory
	m.Content = content
	m.Importance = importance
	m.Embedding = embedding
	m.UpdatedAt = time.Now().UTC()
	if err := p.repo.Update(ctx, m); err != nil {
		return "", false
	}
	return m.ID, true
}

func (p *Provider) extract(ctx context.Context, transcript string) ([]extractedFact, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, nil
	}

	response, err := p.llm.Generate(ctx, fmt.Sprintf(extractionPrompt, transcript), 0.2)
	if err != nil {
		return nil, fmt.Errorf("extract memories: %w", err)
	}

	facts, err := parseFacts(response)
	if err != nil {
		p.logger.Warn("unparseable memory extraction output", "error", err)
		return nil, nil
	}
	return facts, nil
}

// parseFacts tolerates the JSON array being wrapped in code fences or prose.
func parseFacts(response string) ([]extractedFact, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var facts []extractedFact
	if err := json.Unmarshal([]byte(response[start:end+1]), &facts); err != nil {
		return nil, err
	}
	return facts, nil
}

func (p *Provider) Search(ctx context.Context, userID, query string, limit int) ([]*models.MemorySearchResult, error) {
	embedding, err := p.embeddings.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingsFailed, err)
	}
	return p.repo.Search(ctx, userID, embedding, limit)
}

func (p *Provider) GetAll(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	return p.repo.ListByUser(ctx, userID, limit, offset)
}

func (p *Provider) Count(ctx context.Context, userID string) (int, error) {
	return p.repo.CountByUser(ctx, userID)
}

func (p *Provider) Delete(ctx context.Context, memoryID string) error {
	return p.repo.Delete(ctx, memoryID)
}

func (p *Provider) DeleteAllUserMemories(ctx context.Context, userID string) (int, error) {
	return p.repo.DeleteAllForUser(ctx, userID)
}

var _ ports.MemoryProvider = (*Provider)(nil)
