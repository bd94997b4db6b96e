package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/chronicleaudio/chronicle/internal/adapters/metrics"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// HandlerFunc runs one job. The returned value is JSON-marshaled into the
// job record; a non-nil error fails the job (and its dependents, once
// retries are exhausted).
type HandlerFunc func(ctx context.Context, job *models.Job) (any, error)

// popScript pops the best job id from the first non-empty queue, honoring
// the queue order the worker was given.
var popScript = redis.NewScript(`
	for i = 1, #KEYS do
		local popped = redis.call("ZPOPMIN", KEYS[i])
		if #popped > 0 then
			return popped[1]
		end
	end
	return false
`)

// updateScript writes job hash fields only while the record still exists.
// Cancel deletes the record outright; an unconditional HSET racing with it
// would resurrect a stub hash that jobFromFields cannot parse.
var updateScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return 0
	end
	redis.call("HSET", KEYS[1], unpack(ARGV))
	return 1
`)

// Worker pulls jobs from a fixed set of queues and runs them on a bounded
// pool of goroutines.
type Worker struct {
	scheduler   *Scheduler
	queues      []string
	concurrency int
	handlers    map[string]HandlerFunc
	logger      *slog.Logger

	pollInterval time.Duration
}

func NewWorker(s *Scheduler, queues []string, concurrency int, logger *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		scheduler:    s,
		queues:       queues,
		concurrency:  concurrency,
		handlers:     make(map[string]HandlerFunc),
		logger:       logger,
		pollInterval: 200 * time.Millisecond,
	}
}

// Register binds a handler to a job function name. Not safe to call after
// Run has started.
func (w *Worker) Register(function string, handler HandlerFunc) {
	w.handlers[function] = handler
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	queueKeys := make([]string, len(w.queues))
	for i, q := range w.queues {
		queueKeys[i] = queueKey(q)
	}

	w.logger.Info("worker pool starting",
		"queues", w.queues,
		"concurrency", w.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx, queueKeys)
		})
	}
	g.Go(func() error {
		return w.reportDepths(ctx)
	})
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, queueKeys []string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		jobID, err := w.pop(ctx, queueKeys)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("queue pop failed", "error", err)
			jobID = ""
		}
		if jobID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.runJob(ctx, jobID)
	}
}

func (w *Worker) pop(ctx context.Context, queueKeys []string) (string, error) {
	res, err := popScript.Run(ctx, w.scheduler.client, queueKeys).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, _ := res.(string)
	return id, nil
}

func (w *Worker) runJob(ctx context.Context, jobID string) {
	job, err := w.scheduler.Job(ctx, jobID)
	if err != nil {
		// Cancelled between pop and load.
		return
	}

	handler, ok := w.handlers[job.Function]
	if !ok {
		w.failJob(ctx, job, fmt.Sprintf("no handler registered for %q", job.Function))
		return
	}

	now := time.Now().UTC()
	if !w.updateJob(ctx, job.ID, map[string]any{
		"status":     models.JobStarted,
		"started_at": now.Format(time.RFC3339Nano),
	}) {
		// Cancelled between pop and start.
		return
	}

	w.logger.Info("job started",
		"job_id", job.ID,
		"function", job.Function,
		"queue", job.Queue)

	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	started := time.Now()
	result, err := handler(jobCtx, job)
	metrics.JobDuration.WithLabelValues(job.Function).Observe(time.Since(started).Seconds())
	cancel()

	if err != nil {
		if jobCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("job timed out after %s: %w", job.Timeout, err)
		}
		w.handleFailure(ctx, job, err)
		return
	}

	w.finishJob(ctx, job, result)
}

// updateJob writes job record fields, reporting whether the record still
// existed.
func (w *Worker) updateJob(ctx context.Context, jobID string, fields map[string]any) bool {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	n, err := updateScript.Run(ctx, w.scheduler.client, []string{jobKey(jobID)}, args...).Int()
	if err != nil {
		w.logger.Error("job update failed", "job_id", jobID, "error", err)
		return false
	}
	return n == 1
}

func (w *Worker) finishJob(ctx context.Context, job *models.Job, result any) {
	fields := map[string]any{
		"status":   models.JobFinished,
		"ended_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			fields["result"] = string(data)
		}
	}

	if !w.updateJob(ctx, job.ID, fields) {
		// Cancelled while the handler ran; nothing left to finish.
		return
	}
	w.scheduler.client.Expire(ctx, jobKey(job.ID), job.ResultTTL)

	metrics.JobsTotal.WithLabelValues(job.Function, models.JobFinished).Inc()
	w.logger.Info("job finished", "job_id", job.ID, "function", job.Function)

	w.promoteDependents(ctx, job.ID)
}

func (w *Worker) handleFailure(ctx context.Context, job *models.Job, jobErr error) {
	if job.RetriesLeft > 0 && ctx.Err() == nil {
		w.logger.Warn("job failed, retrying",
			"job_id", job.ID,
			"function", job.Function,
			"retries_left", job.RetriesLeft-1,
			"error", jobErr)

		if !w.updateJob(ctx, job.ID, map[string]any{
			"status":       models.JobQueued,
			"retries_left": job.RetriesLeft - 1,
			"error":        jobErr.Error(),
		}) {
			// Cancelled while the handler ran; do not requeue.
			return
		}
		if err := w.scheduler.push(ctx, job); err != nil {
			w.logger.Error("requeue failed", "job_id", job.ID, "error", err)
		}
		return
	}

	w.failJob(ctx, job, jobErr.Error())
}

func (w *Worker) failJob(ctx context.Context, job *models.Job, message string) {
	if !w.updateJob(ctx, job.ID, map[string]any{
		"status":   models.JobFailed,
		"error":    message,
		"ended_at": time.Now().UTC().Format(time.RFC3339Nano),
	}) {
		// Cancelled; Cancel already took the dependents with it.
		return
	}
	w.scheduler.client.Expire(ctx, jobKey(job.ID), failedJobTTL)

	metrics.JobsTotal.WithLabelValues(job.Function, models.JobFailed).Inc()
	w.logger.Error("job failed",
		"job_id", job.ID,
		"function", job.Function,
		"error", message)

	w.failDependents(ctx, job.ID)
}

// promoteDependents decrements each dependent's pending counter and queues
// the ones whose dependencies are all satisfied.
func (w *Worker) promoteDependents(ctx context.Context, jobID string) {
	dependents, err := w.scheduler.client.SMembers(ctx, dependentsKey(jobID)).Result()
	if err != nil || len(dependents) == 0 {
		return
	}
	w.scheduler.client.Del(ctx, dependentsKey(jobID))

	for _, depID := range dependents {
		remaining, err := w.scheduler.client.HIncrBy(ctx, jobKey(depID), "pending_deps", -1).Result()
		if err != nil {
			continue
		}
		if remaining > 0 {
			continue
		}

		dep, err := w.scheduler.Job(ctx, depID)
		if err != nil || dep.Status != models.JobDeferred {
			continue
		}

		// Re-cascade meta now that the upstream job carries final ids.
		if parent, err := w.scheduler.Job(ctx, jobID); err == nil {
			dep.Meta.CascadeFrom(&parent.Meta)
			w.scheduler.SaveMeta(ctx, depID, dep.Meta)
		}

		w.scheduler.client.HSet(ctx, jobKey(depID), "status", models.JobQueued)
		if err := w.scheduler.push(ctx, dep); err != nil {
			w.logger.Error("promote failed", "job_id", depID, "error", err)
		}
	}
}

// failDependents fails every dependent of a failed job, recursively.
func (w *Worker) failDependents(ctx context.Context, jobID string) {
	dependents, err := w.scheduler.client.SMembers(ctx, dependentsKey(jobID)).Result()
	if err != nil || len(dependents) == 0 {
		return
	}
	w.scheduler.client.Del(ctx, dependentsKey(jobID))

	for _, depID := range dependents {
		exists, err := w.scheduler.client.Exists(ctx, jobKey(depID)).Result()
		if err != nil || exists == 0 {
			continue
		}
		key := jobKey(depID)
		w.scheduler.client.HSet(ctx, key, map[string]any{
			"status":   models.JobFailed,
			"error":    "dependency " + jobID + " failed",
			"ended_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
		w.scheduler.client.Expire(ctx, key, failedJobTTL)
		w.failDependents(ctx, depID)
	}
}

// reportDepths samples queue depth into the gauge until ctx is cancelled.
func (w *Worker) reportDepths(ctx context.Context) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for queue, depth := range w.QueueDepths(ctx) {
				metrics.QueueDepth.WithLabelValues(queue).Set(float64(depth))
			}
		}
	}
}

// queueDepth reports the number of queued jobs, for health reporting.
func (w *Worker) queueDepth(ctx context.Context, queue string) int64 {
	n, err := w.scheduler.client.ZCard(ctx, queueKey(queue)).Result()
	if err != nil {
		return 0
	}
	return n
}

// QueueDepths returns the depth of every queue this worker serves.
func (w *Worker) QueueDepths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64, len(w.queues))
	for _, q := range w.queues {
		depths[q] = w.queueDepth(ctx, q)
	}
	return depths
}
