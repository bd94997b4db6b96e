package ports

import (
	"context"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// Message is one entry on a bus stream. Values holds the raw field map;
// binary payloads ride in a single field.
type Message struct {
	ID     string
	Values map[string]string
}

// StreamBus is the append-only per-session log layer. Two logical streams
// exist per session: the audio byte stream (read by the persistence and
// transcription consumer groups independently) and the result stream (read
// whole by the aggregator).
type StreamBus interface {
	Append(ctx context.Context, stream string, values map[string]string) (string, error)

	// ReadGroup delivers pending-then-new messages for one consumer in a
	// group, blocking up to block. A nil slice with nil error means the
	// block timed out with nothing to deliver.
	ReadGroup(ctx context.Context, stream, group, consumer string, maxBatch int, block time.Duration) ([]Message, error)

	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Range returns every entry currently on the stream, in order. Used by
	// the aggregator, which never acks.
	Range(ctx context.Context, stream string) ([]Message, error)

	Len(ctx context.Context, stream string) (int64, error)
	Delete(ctx context.Context, stream string) error

	// ClaimIdle reassigns messages pending longer than idle to the given
	// consumer, returning what it claimed.
	ClaimIdle(ctx context.Context, stream, group, consumer string, idle time.Duration) ([]Message, error)

	// ReapDead acks messages pending longer than idle without delivering
	// them, returning how many were dropped. A message nobody managed to
	// process for that long would otherwise wedge the group forever.
	ReapDead(ctx context.Context, stream, group string, idle time.Duration) (int, error)
}

// SessionRegistry tracks sessions and carries the signal keys the engine
// components use to coordinate. All keys are namespaced per session or
// conversation and carry TTLs on terminal transitions.
type SessionRegistry interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// TransitionStatus compare-and-sets the session status. It returns
	// false when the session was not in the expected state, which makes
	// active -> finalizing a one-shot transition.
	TransitionStatus(ctx context.Context, sessionID, from, to, completionReason string) (bool, error)

	// ExpireSession sets a TTL on the session record after a terminal
	// transition so it does not leak.
	ExpireSession(ctx context.Context, sessionID string, ttl time.Duration) error

	SetCurrentConversation(ctx context.Context, sessionID, conversationID string, ttl time.Duration) error
	CurrentConversation(ctx context.Context, sessionID string) (string, error)
	ClearCurrentConversation(ctx context.Context, sessionID string) error

	PublishAudioFile(ctx context.Context, conversationID, path string, ttl time.Duration) error
	AudioFile(ctx context.Context, conversationID string) (string, error)

	IncrementConversationCount(ctx context.Context, sessionID string, ttl time.Duration) (int64, error)

	// Speech-detection job bookkeeping, keyed by client so the connection
	// handler can cancel the listener on disconnect.
	SetSpeechDetectionJob(ctx context.Context, clientID, jobID string, ttl time.Duration) error
	SpeechDetectionJob(ctx context.Context, clientID string) (string, error)
}

// EnqueueRequest describes one job to schedule. Args is JSON-marshaled
// before storage.
type EnqueueRequest struct {
	Function    string
	Args        any
	Queue       string
	Priority    models.JobPriority
	Timeout     time.Duration
	ResultTTL   time.Duration
	DependsOn   []string
	JobID       string // optional; generated when empty
	Retries     int    // requeue budget after handler failure
	Description string
	Meta        models.JobMeta
}

// Scheduler is the job broker: named queues with priorities, dependency
// edges, metadata cascade, result TTLs and retries. Controllers interact
// with it by job id only; no object references cross the boundary.
type Scheduler interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*models.Job, error)
	Job(ctx context.Context, jobID string) (*models.Job, error)

	// Alive reports whether the job record still exists. Long-running jobs
	// poll this every loop and exit promptly when cancelled (zombie check).
	Alive(ctx context.Context, jobID string) (bool, error)

	// SaveMeta atomically writes back a job's metadata.
	SaveMeta(ctx context.Context, jobID string, meta models.JobMeta) error

	// Cancel removes a queued job and prevents dependents from running.
	Cancel(ctx context.Context, jobID string) error
}
