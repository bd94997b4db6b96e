package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

type fakeScheduler struct {
	mu        sync.Mutex
	enqueued  []ports.EnqueueRequest
	err       error
	metaSaves []models.JobMeta
	dead      map[string]bool
}

func (s *fakeScheduler) Enqueue(ctx context.Context, req ports.EnqueueRequest) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.enqueued = append(s.enqueued, req)
	return &models.Job{ID: req.JobID, Function: req.Function}, nil
}

func (s *fakeScheduler) Job(ctx context.Context, jobID string) (*models.Job, error) {
	return nil, domain.ErrJobNotFound
}

func (s *fakeScheduler) Alive(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead[jobID], nil
}

func (s *fakeScheduler) SaveMeta(ctx context.Context, jobID string, meta models.JobMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaSaves = append(s.metaSaves, meta)
	return nil
}

func (s *fakeScheduler) Cancel(ctx context.Context, jobID string) error { return nil }

type fakeConversations struct {
	mu    sync.Mutex
	store map[string]*models.Conversation
	saves int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{store: map[string]*models.Conversation{}}
}

func (f *fakeConversations) Insert(ctx context.Context, c *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[c.ConversationID] = c
	return nil
}

func (f *fakeConversations) GetByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.store[conversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return c, nil
}

func (f *fakeConversations) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, error) {
	return nil, nil
}

func (f *fakeConversations) ListByAudioUUID(ctx context.Context, audioUUID string) ([]*models.Conversation, error) {
	return nil, nil
}

func (f *fakeConversations) Save(ctx context.Context, c *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[c.ConversationID] = c
	f.saves++
	return nil
}

func (f *fakeConversations) SoftDelete(ctx context.Context, conversationID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.store[conversationID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	return c.SoftDelete(reason)
}

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) GetByID(ctx context.Context, userID string) (*models.User, error) {
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

type fakeBatch struct {
	result *ports.BatchResult
	err    error
	calls  int
}

func (f *fakeBatch) Transcribe(ctx context.Context, audio []byte, sampleRate int, diarize bool) (*ports.BatchResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeBatch) Name() string { return "fake-batch" }

type fakeSpeakers struct {
	available  bool
	enrolled   []ports.EnrolledSpeaker
	identified []models.SpeakerSegment
	err        error
}

func (f *fakeSpeakers) EnrolledSpeakers(ctx context.Context, userID string) ([]ports.EnrolledSpeaker, error) {
	return f.enrolled, f.err
}

func (f *fakeSpeakers) Identify(ctx context.Context, audio []byte, sampleRate int, segments []models.SpeakerSegment, userID string) ([]models.SpeakerSegment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identified, nil
}

func (f *fakeSpeakers) Available(ctx context.Context) bool { return f.available }

type fakeMemoryProvider struct {
	stored      bool
	ids         []string
	err         error
	transcripts []string

	ingested  []string
	ingestErr map[string]error // keyed by substring of the text
	n         int
}

func (f *fakeMemoryProvider) AddMemory(ctx context.Context, transcript, clientID, sourceID, userID, userEmail string, allowUpdate bool) (bool, []string, error) {
	f.transcripts = append(f.transcripts, transcript)
	return f.stored, f.ids, f.err
}

func (f *fakeMemoryProvider) IngestText(ctx context.Context, text, clientID, sourceID, userID string) (string, error) {
	for key, err := range f.ingestErr {
		if strings.Contains(text, key) {
			return "", err
		}
	}
	f.ingested = append(f.ingested, text)
	f.n++
	return fmt.Sprintf("mem-%d", f.n), nil
}

func (f *fakeMemoryProvider) Search(ctx context.Context, userID, query string, limit int) ([]*models.MemorySearchResult, error) {
	return nil, nil
}

func (f *fakeMemoryProvider) GetAll(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error) {
	return nil, nil
}

func (f *fakeMemoryProvider) Count(ctx context.Context, userID string) (int, error) { return 0, nil }

func (f *fakeMemoryProvider) Delete(ctx context.Context, memoryID string) error { return nil }

func (f *fakeMemoryProvider) DeleteAllUserMemories(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func (f *fakeMemoryProvider) Name() string { return "fake-memory" }

func (f *fakeMemoryProvider) Model() string { return "fake-model" }

// fakeLLM answers by prompt kind so the three title/summary generations can
// be told apart.
type fakeLLM struct {
	err error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	switch {
	case strings.HasPrefix(prompt, "Give this conversation a title"):
		return `"Trip Planning Discussion"` + "\n", nil
	case strings.HasPrefix(prompt, "Summarize this conversation"):
		return "Two people planned a trip to Lisbon in May.", nil
	default:
		return "The participants discussed travel plans.\n\nThey agreed to book flights.", nil
	}
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) next(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", prefix, s.n)
}

func (s *seqIDs) SessionID() string          { return s.next("sess") }
func (s *seqIDs) ConversationID() string     { return s.next("conv") }
func (s *seqIDs) VersionID() string          { return s.next("ver") }
func (s *seqIDs) JobID(prefix string) string { return s.next(prefix) }
func (s *seqIDs) MemoryID() string           { return s.next("mem") }
