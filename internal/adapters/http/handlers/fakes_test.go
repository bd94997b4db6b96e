package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

type fakeConversationRepo struct {
	mu    sync.Mutex
	store map[string]*models.Conversation
	saves int
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{store: map[string]*models.Conversation{}}
}

func (r *fakeConversationRepo) Insert(_ context.Context, c *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[c.ConversationID] = c
	return nil
}

func (r *fakeConversationRepo) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.store[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return c, nil
}

func (r *fakeConversationRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Conversation
	for _, c := range r.store {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeConversationRepo) ListByAudioUUID(_ context.Context, audioUUID string) ([]*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Conversation
	for _, c := range r.store {
		if c.AudioUUID == audioUUID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConversationRepo) Save(_ context.Context, c *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[c.ConversationID] = c
	r.saves++
	return nil
}

func (r *fakeConversationRepo) SoftDelete(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.store[id]
	if !ok {
		return domain.ErrConversationNotFound
	}
	return c.SoftDelete(reason)
}

type fakeUserRepo struct {
	users map[string]*models.User
}

func (r *fakeUserRepo) GetByID(_ context.Context, userID string) (*models.User, error) {
	if u, ok := r.users[userID]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

type fakeChain struct {
	mu         sync.Mutex
	jobIDs     []string
	memoryID   string
	err        error
	processed  []string
	memoryRuns []string
}

func (f *fakeChain) EnqueueProcessing(_ context.Context, c *models.Conversation) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.processed = append(f.processed, c.ConversationID)
	return f.jobIDs, nil
}

func (f *fakeChain) EnqueueMemoryExtraction(_ context.Context, c *models.Conversation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.memoryRuns = append(f.memoryRuns, c.ConversationID)
	return f.memoryID, nil
}

type fakeMemoryProvider struct {
	memories []*models.Memory
	results  []*models.MemorySearchResult
	deleted  []string
	cleared  []string
	query    string
}

func (f *fakeMemoryProvider) AddMemory(context.Context, string, string, string, string, string, bool) (bool, []string, error) {
	return false, nil, nil
}

func (f *fakeMemoryProvider) IngestText(context.Context, string, string, string, string) (string, error) {
	return "mem-ingested", nil
}

func (f *fakeMemoryProvider) Search(_ context.Context, _ string, query string, _ int) ([]*models.MemorySearchResult, error) {
	f.query = query
	return f.results, nil
}

func (f *fakeMemoryProvider) GetAll(_ context.Context, userID string, limit, offset int) ([]*models.Memory, error) {
	return f.memories, nil
}

func (f *fakeMemoryProvider) Count(_ context.Context, _ string) (int, error) {
	return len(f.memories), nil
}

func (f *fakeMemoryProvider) Delete(_ context.Context, memoryID string) error {
	f.deleted = append(f.deleted, memoryID)
	return nil
}

func (f *fakeMemoryProvider) DeleteAllUserMemories(_ context.Context, userID string) (int, error) {
	f.cleared = append(f.cleared, userID)
	return len(f.memories), nil
}

func (f *fakeMemoryProvider) Name() string  { return "fake" }
func (f *fakeMemoryProvider) Model() string { return "fake-model" }

type fakeIngestor struct {
	mu     sync.Mutex
	jobID  string
	err    error
	vaults []string
	users  []string
}

func (f *fakeIngestor) EnqueueVaultIngestion(_ context.Context, vaultPath, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.vaults = append(f.vaults, vaultPath)
	f.users = append(f.users, userID)
	return f.jobID, nil
}

type seqIDs struct {
	mu sync.Mutex
	n  map[string]int
}

func newSeqIDs() *seqIDs { return &seqIDs{n: map[string]int{}} }

func (s *seqIDs) next(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n[prefix]++
	return fmt.Sprintf("%s-%d", prefix, s.n[prefix])
}

func (s *seqIDs) SessionID() string          { return s.next("sess") }
func (s *seqIDs) ConversationID() string     { return s.next("conv") }
func (s *seqIDs) VersionID() string          { return s.next("ver") }
func (s *seqIDs) JobID(prefix string) string { return s.next(prefix) }
func (s *seqIDs) MemoryID() string           { return s.next("mem") }

type fakeAudioEngine struct {
	mu        sync.Mutex
	done      chan struct{}
	session   *models.Session
	startErr  error
	finalized map[string]string
	completed []string
	cancelled []string
	chunks    [][]byte
}

func newFakeAudioEngine() *fakeAudioEngine {
	return &fakeAudioEngine{
		done:      make(chan struct{}),
		finalized: map[string]string{},
	}
}

func (e *fakeAudioEngine) StartSession(_ context.Context, clientID, userID string) (*models.Session, error) {
	if e.startErr != nil {
		return nil, e.startErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = &models.Session{
		SessionID: "sess-ws",
		ClientID:  clientID,
		UserID:    userID,
		Status:    models.SessionActive,
	}
	return e.session, nil
}

func (e *fakeAudioEngine) FinalizeSession(_ context.Context, sessionID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.finalized[sessionID]; !seen {
		e.finalized[sessionID] = reason
		close(e.done)
	}
	return nil
}

func (e *fakeAudioEngine) CompleteSession(_ context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, sessionID)
	return nil
}

func (e *fakeAudioEngine) CancelSpeechDetection(_ context.Context, clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, clientID)
}

func (e *fakeAudioEngine) AppendAudio(_ context.Context, _ string, chunk []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunks = append(e.chunks, append([]byte(nil), chunk...))
	return nil
}

func (e *fakeAudioEngine) RunPersistence(ctx context.Context, _ string) error {
	select {
	case <-e.done:
	case <-ctx.Done():
	}
	return nil
}

func (e *fakeAudioEngine) RunTranscription(ctx context.Context, _ string) error {
	select {
	case <-e.done:
	case <-ctx.Done():
	}
	return nil
}

func (e *fakeAudioEngine) finalizedReason(sessionID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized[sessionID]
}

func (e *fakeAudioEngine) completedSessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.completed...)
}

func (e *fakeAudioEngine) chunkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.chunks)
}
