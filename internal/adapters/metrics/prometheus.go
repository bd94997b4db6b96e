package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronicle_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chronicle_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chronicle_sessions_active",
		Help: "Number of live audio sessions",
	})

	ConversationsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_conversations_opened_total",
		Help: "Conversations opened by speech detection",
	})

	ConversationsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronicle_conversations_discarded_total",
		Help: "Conversations soft-deleted before processing",
	}, []string{"reason"})

	AudioChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_audio_chunks_total",
		Help: "Audio chunks ingested over the stream bus",
	})

	AudioBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_audio_bytes_total",
		Help: "Audio bytes ingested over the stream bus",
	})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronicle_jobs_total",
		Help: "Scheduled jobs by function and final status",
	}, []string{"function", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chronicle_job_duration_seconds",
		Help:    "Job handler duration",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
	}, []string{"function"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chronicle_queue_depth",
		Help: "Jobs waiting per queue",
	}, []string{"queue"})

	ASRRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chronicle_asr_request_duration_seconds",
		Help:    "ASR transcription duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronicle_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chronicle_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"model"})

	MemoriesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_memories_stored_total",
		Help: "Memories created or updated by extraction",
	})
)
