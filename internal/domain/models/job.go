package models

import (
	"encoding/json"
	"time"
)

// Queue names. Mapping queues to worker capacity is deployment-time.
const (
	QueueDefault       = "default"
	QueueTranscription = "transcription"
	QueueMemory        = "memory"
)

// Job priorities, highest first.
type JobPriority int

const (
	PriorityUrgent JobPriority = 0
	PriorityHigh   JobPriority = 1
	PriorityNormal JobPriority = 2
	PriorityLow    JobPriority = 3
)

// Job statuses.
const (
	JobQueued   = "queued"
	JobDeferred = "deferred" // waiting on dependencies
	JobStarted  = "started"
	JobFinished = "finished"
	JobFailed   = "failed"
	JobCanceled = "canceled"
)

// JobMeta carries the well-known metadata fields every job shares, plus an
// open-ended Extra bag for job-specific progress reporting. ConversationID
// and AudioUUID cascade from upstream jobs to their dependents once known.
type JobMeta struct {
	AudioUUID      string         `json:"audio_uuid,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ClientID       string         `json:"client_id,omitempty"`
	SessionLevel   bool           `json:"session_level,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Set stores a key in the Extra bag, allocating it on first use.
func (m *JobMeta) Set(key string, value any) {
	if m.Extra == nil {
		m.Extra = map[string]any{}
	}
	m.Extra[key] = value
}

// CascadeFrom copies conversation identity from an upstream job's meta
// without overwriting values already present.
func (m *JobMeta) CascadeFrom(upstream *JobMeta) {
	if upstream == nil {
		return
	}
	if m.ConversationID == "" {
		m.ConversationID = upstream.ConversationID
	}
	if m.AudioUUID == "" {
		m.AudioUUID = upstream.AudioUUID
	}
	if m.ClientID == "" {
		m.ClientID = upstream.ClientID
	}
}

// Job is one unit of scheduled work. Args are JSON so handlers decode into
// their own argument structs.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Function     string          `json:"function"`
	Args         json.RawMessage `json:"args,omitempty"`
	Priority     JobPriority     `json:"priority"`
	DependsOn    []string        `json:"depends_on,omitempty"`
	Timeout      time.Duration   `json:"timeout"`
	ResultTTL    time.Duration   `json:"result_ttl"`
	Description  string          `json:"description,omitempty"`
	Meta         JobMeta         `json:"meta"`
	Status       string          `json:"status"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	RetriesLeft  int             `json:"retries_left"`
	OriginJobIDs []string        `json:"origin_job_ids,omitempty"`
}

// JobResult is the structured payload every post-processing job returns.
type JobResult struct {
	Success               bool           `json:"success"`
	Error                 string         `json:"error,omitempty"`
	ConversationID        string         `json:"conversation_id,omitempty"`
	Skipped               bool           `json:"skipped,omitempty"`
	SkipReason            string         `json:"reason,omitempty"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds,omitempty"`
	Details               map[string]any `json:"details,omitempty"`
}
