package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// In-memory fakes for the engine's collaborators. They follow the port
// contracts closely enough for controller and worker tests: ReadGroup
// delivers each entry once per group, Range returns everything, and the
// registry keys behave like their Redis counterparts minus TTLs.

type fakeBus struct {
	mu      sync.Mutex
	streams map[string][]ports.Message
	cursors map[string]int
	acked   map[string][]string
	deleted []string
	seq     int

	reaps     []reapCall
	reapCount int
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		streams: map[string][]ports.Message{},
		cursors: map[string]int{},
		acked:   map[string][]string{},
	}
}

func (b *fakeBus) Append(ctx context.Context, stream string, values map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("%d-0", b.seq)
	b.streams[stream] = append(b.streams[stream], ports.Message{ID: id, Values: values})
	return id, nil
}

func (b *fakeBus) ReadGroup(ctx context.Context, stream, group, consumer string, maxBatch int, block time.Duration) ([]ports.Message, error) {
	b.mu.Lock()
	key := stream + "/" + group
	entries := b.streams[stream]
	cur := b.cursors[key]
	if cur >= len(entries) {
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		return nil, nil
	}
	end := cur + maxBatch
	if end > len(entries) {
		end = len(entries)
	}
	batch := entries[cur:end]
	b.cursors[key] = end
	b.mu.Unlock()
	return batch, nil
}

func (b *fakeBus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked[stream+"/"+group] = append(b.acked[stream+"/"+group], ids...)
	return nil
}

func (b *fakeBus) Range(ctx context.Context, stream string) ([]ports.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ports.Message(nil), b.streams[stream]...), nil
}

func (b *fakeBus) Len(ctx context.Context, stream string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.streams[stream])), nil
}

func (b *fakeBus) Delete(ctx context.Context, stream string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, stream)
	b.deleted = append(b.deleted, stream)
	return nil
}

func (b *fakeBus) ClaimIdle(ctx context.Context, stream, group, consumer string, idle time.Duration) ([]ports.Message, error) {
	return nil, nil
}

type reapCall struct {
	stream string
	group  string
	idle   time.Duration
}

func (b *fakeBus) ReapDead(ctx context.Context, stream, group string, idle time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reaps = append(b.reaps, reapCall{stream: stream, group: group, idle: idle})
	return b.reapCount, nil
}

type fakeRegistry struct {
	mu         sync.Mutex
	sessions   map[string]*models.Session
	current    map[string]string
	audioFiles map[string]string
	counts     map[string]int64
	speechJobs map[string]string
	expired    map[string]time.Duration
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		sessions:   map[string]*models.Session{},
		current:    map[string]string{},
		audioFiles: map[string]string{},
		counts:     map[string]int64{},
		speechJobs: map[string]string{},
		expired:    map[string]time.Duration{},
	}
}

func (r *fakeRegistry) CreateSession(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	r.sessions[s.SessionID] = &copied
	return nil
}

func (r *fakeRegistry) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *s
	copied.CurrentConversationID = r.current[sessionID]
	copied.ConversationCount = r.counts[sessionID]
	return &copied, nil
}

func (r *fakeRegistry) TransitionStatus(ctx context.Context, sessionID, from, to, completionReason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	if completionReason != "" {
		s.CompletionReason = completionReason
	}
	return true, nil
}

func (r *fakeRegistry) ExpireSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired[sessionID] = ttl
	return nil
}

func (r *fakeRegistry) SetCurrentConversation(ctx context.Context, sessionID, conversationID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[sessionID] = conversationID
	return nil
}

func (r *fakeRegistry) CurrentConversation(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current[sessionID], nil
}

func (r *fakeRegistry) ClearCurrentConversation(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.current, sessionID)
	return nil
}

func (r *fakeRegistry) PublishAudioFile(ctx context.Context, conversationID, path string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioFiles[conversationID] = path
	return nil
}

func (r *fakeRegistry) AudioFile(ctx context.Context, conversationID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioFiles[conversationID], nil
}

func (r *fakeRegistry) IncrementConversationCount(ctx context.Context, sessionID string, ttl time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[sessionID]++
	return r.counts[sessionID], nil
}

func (r *fakeRegistry) SetSpeechDetectionJob(ctx context.Context, clientID, jobID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speechJobs[clientID] = jobID
	return nil
}

func (r *fakeRegistry) SpeechDetectionJob(ctx context.Context, clientID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speechJobs[clientID], nil
}

type fakeScheduler struct {
	mu       sync.Mutex
	enqueued []ports.EnqueueRequest
	dead     map[string]bool
	meta     map[string]models.JobMeta
	canceled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{dead: map[string]bool{}, meta: map[string]models.JobMeta{}}
}

func (s *fakeScheduler) Enqueue(ctx context.Context, req ports.EnqueueRequest) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, req)
	return &models.Job{ID: req.JobID, Function: req.Function, Status: models.JobQueued}, nil
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
	s.meta[jobID] = meta
	return nil
}

func (s *fakeScheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, jobID)
	return nil
}

func (s *fakeScheduler) byFunction(function string) []ports.EnqueueRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.EnqueueRequest
	for _, req := range s.enqueued {
		if req.Function == function {
			out = append(out, req)
		}
	}
	return out
}

type fakeConversations struct {
	mu    sync.Mutex
	store map[string]*models.Conversation
	saved []*models.Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{store: map[string]*models.Conversation{}}
}

func (f *fakeConversations) Insert(ctx context.Context, c *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *c
	f.store[c.ConversationID] = &copied
	return nil
}

func (f *fakeConversations) GetByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.store[conversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	copied := *c
	return &copied, nil
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
	stored, ok := f.store[c.ConversationID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	if stored.Deleted && !c.Deleted {
		return domain.ErrCannotModifyDeletedConv
	}
	copied := *c
	f.store[c.ConversationID] = &copied
	f.saved = append(f.saved, &copied)
	return nil
}

func (f *fakeConversations) SoftDelete(ctx context.Context, conversationID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.store[conversationID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	if c.Deleted {
		return domain.ErrConversationDeleted
	}
	now := time.Now().UTC()
	c.Deleted = true
	c.DeletionReason = reason
	c.DeletedAt = &now
	return nil
}

func (f *fakeConversations) get(conversationID string) *models.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[conversationID]
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

type fakeChain struct {
	mu       sync.Mutex
	enqueued []*models.Conversation
	jobIDs   []string
	err      error
}

func (c *fakeChain) EnqueueProcessing(ctx context.Context, conversation *models.Conversation) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.enqueued = append(c.enqueued, conversation)
	return c.jobIDs, nil
}

type fakeStreaming struct {
	mu      sync.Mutex
	started []string
	ended   []string
	chunks  int
	result  *models.TranscriptionResult
	final   *models.TranscriptionResult
}

func (f *fakeStreaming) StartStream(ctx context.Context, clientID string, sampleRate int, diarize bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, clientID)
	return nil
}

func (f *fakeStreaming) ProcessAudioChunk(ctx context.Context, clientID string, chunk []byte) (*models.TranscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks++
	return f.result, nil
}

func (f *fakeStreaming) EndStream(ctx context.Context, clientID string) (*models.TranscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, clientID)
	return f.final, nil
}

func (f *fakeStreaming) Name() string { return "fake" }
