// Package scheduler is a Redis-backed job broker. Jobs live in per-queue
// sorted sets ordered by priority then enqueue time; dependency edges defer
// dependents until every upstream job finishes, and an upstream failure
// fails the whole chain.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

const (
	// failedJobTTL keeps failed job records around long enough to debug.
	failedJobTTL = 24 * time.Hour

	defaultTimeout   = 10 * time.Minute
	defaultResultTTL = 10 * time.Minute
)

func jobKey(id string) string        { return "job:" + id }
func queueKey(name string) string    { return "queue:" + name }
func dependentsKey(id string) string { return "dependents:" + id }

// envelope is the immutable part of a job, stored once at enqueue time.
type envelope struct {
	ID           string             `json:"id"`
	Queue        string             `json:"queue"`
	Function     string             `json:"function"`
	Args         json.RawMessage    `json:"args,omitempty"`
	Priority     models.JobPriority `json:"priority"`
	DependsOn    []string           `json:"depends_on,omitempty"`
	Timeout      time.Duration      `json:"timeout"`
	ResultTTL    time.Duration      `json:"result_ttl"`
	Description  string             `json:"description,omitempty"`
	EnqueuedAt   time.Time          `json:"enqueued_at"`
	OriginJobIDs []string           `json:"origin_job_ids,omitempty"`
}

// Scheduler implements ports.Scheduler. It is safe for concurrent use.
type Scheduler struct {
	client *redis.Client
	ids    ports.IDGenerator
}

func New(client *redis.Client, ids ports.IDGenerator) *Scheduler {
	return &Scheduler{client: client, ids: ids}
}

// scoreFor orders a queue by priority first, enqueue time second. Priorities
// are small integers so the millisecond clock never crosses priority bands.
func scoreFor(priority models.JobPriority, enqueuedAt time.Time) float64 {
	return float64(priority)*1e13 + float64(enqueuedAt.UnixMilli())
}

func (s *Scheduler) Enqueue(ctx context.Context, req ports.EnqueueRequest) (*models.Job, error) {
	if req.Function == "" {
		return nil, fmt.Errorf("%w: job function is required", domain.ErrInvalidInput)
	}

	var args json.RawMessage
	if req.Args != nil {
		data, err := json.Marshal(req.Args)
		if err != nil {
			return nil, fmt.Errorf("marshal job args: %w", err)
		}
		args = data
	}

	job := &models.Job{
		ID:          req.JobID,
		Queue:       req.Queue,
		Function:    req.Function,
		Args:        args,
		Priority:    req.Priority,
		DependsOn:   req.DependsOn,
		Timeout:     req.Timeout,
		ResultTTL:   req.ResultTTL,
		Description: req.Description,
		Meta:        req.Meta,
		RetriesLeft: req.Retries,
		Status:      models.JobQueued,
		EnqueuedAt:  time.Now().UTC(),
	}
	if job.RetriesLeft < 0 {
		job.RetriesLeft = 0
	}
	if job.ID == "" {
		job.ID = s.ids.JobID("job")
	}
	if job.Queue == "" {
		job.Queue = models.QueueDefault
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultTimeout
	}
	if job.ResultTTL <= 0 {
		job.ResultTTL = defaultResultTTL
	}

	// Cascade conversation identity from upstream jobs before first run.
	for _, depID := range job.DependsOn {
		if dep, err := s.Job(ctx, depID); err == nil {
			job.Meta.CascadeFrom(&dep.Meta)
		}
	}

	pendingDeps := 0
	for _, depID := range job.DependsOn {
		dep, err := s.Job(ctx, depID)
		if err != nil {
			// A missing dependency means it was cancelled or expired.
			return nil, fmt.Errorf("%w: dependency %s", domain.ErrDependencyFailed, depID)
		}
		switch dep.Status {
		case models.JobFinished:
			// satisfied
		case models.JobFailed, models.JobCanceled:
			job.Status = models.JobFailed
			job.Error = fmt.Sprintf("dependency %s %s", depID, dep.Status)
			if err := s.persist(ctx, job, 0); err != nil {
				return nil, err
			}
			s.client.Expire(ctx, jobKey(job.ID), failedJobTTL)
			return job, nil
		default:
			pendingDeps++
			if err := s.client.SAdd(ctx, dependentsKey(depID), job.ID).Err(); err != nil {
				return nil, err
			}
		}
	}

	if pendingDeps > 0 {
		job.Status = models.JobDeferred
	}

	if err := s.persist(ctx, job, pendingDeps); err != nil {
		return nil, err
	}

	if job.Status == models.JobQueued {
		if err := s.push(ctx, job); err != nil {
			return nil, err
		}
	}

	return job, nil
}

func (s *Scheduler) push(ctx context.Context, job *models.Job) error {
	return s.client.ZAdd(ctx, queueKey(job.Queue), redis.Z{
		Score:  scoreFor(job.Priority, job.EnqueuedAt),
		Member: job.ID,
	}).Err()
}

func (s *Scheduler) persist(ctx context.Context, job *models.Job, pendingDeps int) error {
	env := envelope{
		ID:           job.ID,
		Queue:        job.Queue,
		Function:     job.Function,
		Args:         job.Args,
		Priority:     job.Priority,
		DependsOn:    job.DependsOn,
		Timeout:      job.Timeout,
		ResultTTL:    job.ResultTTL,
		Description:  job.Description,
		EnqueuedAt:   job.EnqueuedAt,
		OriginJobIDs: job.OriginJobIDs,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	meta, err := json.Marshal(job.Meta)
	if err != nil {
		return fmt.Errorf("marshal job meta: %w", err)
	}

	fields := map[string]any{
		"data":         string(data),
		"status":       job.Status,
		"meta":         string(meta),
		"retries_left": job.RetriesLeft,
		"pending_deps": pendingDeps,
	}
	if job.Error != "" {
		fields["error"] = job.Error
	}

	return s.client.HSet(ctx, jobKey(job.ID), fields).Err()
}

func (s *Scheduler) Job(ctx context.Context, jobID string) (*models.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, domain.ErrJobNotFound
	}
	return jobFromFields(fields)
}

func jobFromFields(fields map[string]string) (*models.Job, error) {
	var env envelope
	if err := json.Unmarshal([]byte(fields["data"]), &env); err != nil {
		return nil, fmt.Errorf("unmarshal job envelope: %w", err)
	}

	job := &models.Job{
		ID:           env.ID,
		Queue:        env.Queue,
		Function:     env.Function,
		Args:         env.Args,
		Priority:     env.Priority,
		DependsOn:    env.DependsOn,
		Timeout:      env.Timeout,
		ResultTTL:    env.ResultTTL,
		Description:  env.Description,
		EnqueuedAt:   env.EnqueuedAt,
		OriginJobIDs: env.OriginJobIDs,
		Status:       fields["status"],
		Error:        fields["error"],
	}

	if meta := fields["meta"]; meta != "" {
		if err := json.Unmarshal([]byte(meta), &job.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal job meta: %w", err)
		}
	}
	if result := fields["result"]; result != "" {
		job.Result = json.RawMessage(result)
	}
	if v := fields["retries_left"]; v != "" {
		job.RetriesLeft, _ = strconv.Atoi(v)
	}
	if v := fields["started_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.StartedAt = &t
		}
	}
	if v := fields["ended_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.EndedAt = &t
		}
	}

	return job, nil
}

func (s *Scheduler) Alive(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, jobKey(jobID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Scheduler) SaveMeta(ctx context.Context, jobID string, meta models.JobMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal job meta: %w", err)
	}
	return s.client.HSet(ctx, jobKey(jobID), "meta", string(data)).Err()
}

// Cancel removes a job and cascades cancellation to its dependents. Running
// jobs observe cancellation through Alive on their next poll.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	job, err := s.Job(ctx, jobID)
	if err != nil {
		return err
	}

	s.client.ZRem(ctx, queueKey(job.Queue), jobID)
	s.client.Del(ctx, jobKey(jobID))

	dependents, err := s.client.SMembers(ctx, dependentsKey(jobID)).Result()
	if err != nil {
		return err
	}
	s.client.Del(ctx, dependentsKey(jobID))

	for _, depID := range dependents {
		if err := s.Cancel(ctx, depID); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
	}

	return nil
}

var _ ports.Scheduler = (*Scheduler)(nil)
