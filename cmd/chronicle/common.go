package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/chronicleaudio/chronicle/internal/adapters/embedding"
	"github.com/chronicleaudio/chronicle/internal/adapters/id"
	"github.com/chronicleaudio/chronicle/internal/adapters/postgres"
	redisadapter "github.com/chronicleaudio/chronicle/internal/adapters/redis"
	"github.com/chronicleaudio/chronicle/internal/adapters/speaker"
	"github.com/chronicleaudio/chronicle/internal/adapters/speech"
	"github.com/chronicleaudio/chronicle/internal/config"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/engine"
	"github.com/chronicleaudio/chronicle/internal/jobs"
	"github.com/chronicleaudio/chronicle/internal/llm"
	"github.com/chronicleaudio/chronicle/internal/memory"
	"github.com/chronicleaudio/chronicle/internal/ports"
	"github.com/chronicleaudio/chronicle/internal/scheduler"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfg *config.Config

// app holds the wired dependency graph shared by the serve and worker
// commands.
type app struct {
	pool      *pgxpool.Pool
	redis     *goredis.Client
	engine    *engine.Engine
	processor *jobs.Processor
	scheduler *scheduler.Scheduler
	ids       ports.IDGenerator
	logger    *slog.Logger
}

// buildApp connects to the backing services and wires the engine and job
// processor. The returned cleanup closes the connections.
func buildApp(ctx context.Context) (*app, func(), error) {
	logger := slog.Default()

	log.Println("Connecting to PostgreSQL...")
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Connecting to Redis...")
	redisClient, err := redisadapter.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	cleanup := func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("Warning: failed to close redis client: %v", err)
		}
		pool.Close()
	}

	conversationRepo := postgres.NewConversationRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	memoryRepo := postgres.NewMemoryRepository(pool)

	bus := redisadapter.NewStreamBus(redisClient)
	registry := redisadapter.NewSessionRegistry(redisClient)
	idGen := id.New()
	sched := scheduler.New(redisClient, idGen)

	batch := speech.NewBatchProvider(cfg.ASR.URL, cfg.ASR.APIKey, cfg.ASR.Model)
	streaming := speech.NewStreamingProvider(batch)
	llmClient := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)

	var speakerService ports.SpeakerRecognitionService
	if cfg.IsSpeakerServiceConfigured() {
		speakerService = speaker.NewClient(cfg.Speaker.URL, cfg.Speaker.APIKey)
		log.Println("Speaker recognition client initialized")
	}

	var memoryProvider ports.MemoryProvider
	if cfg.IsMemoryConfigured() && cfg.Embedding.URL != "" {
		embeddingClient := embedding.NewClient(
			cfg.Embedding.URL,
			cfg.Embedding.APIKey,
			cfg.Embedding.Model,
			cfg.Embedding.Dimensions,
		)
		memoryProvider = memory.NewProvider(
			llmClient,
			embeddingClient,
			memoryRepo,
			postgres.NewTransactionManager(pool),
			idGen,
			cfg.LLM.Model,
			cfg.Memory.MinImportance,
			logger,
		)
		log.Println("Memory provider initialized")
	} else {
		log.Println("Memory provider not configured - memory extraction disabled")
	}

	eng := engine.New(bus, registry, sched, conversationRepo, idGen, streaming, cfg, logger)
	proc := jobs.NewProcessor(sched, conversationRepo, userRepo, batch, speakerService, memoryProvider, llmClient, idGen, cfg, logger)
	eng.Chain = proc

	return &app{
		pool:      pool,
		redis:     redisClient,
		engine:    eng,
		processor: proc,
		scheduler: sched,
		ids:       idGen,
		logger:    logger,
	}, cleanup, nil
}

// buildWorkers creates one worker pool per queue and registers the handlers
// that run on it.
func (a *app) buildWorkers() []*scheduler.Worker {
	defaultWorker := scheduler.NewWorker(a.scheduler, []string{models.QueueDefault}, cfg.Jobs.DefaultWorkers, a.logger)
	defaultWorker.Register(engine.FuncDetectSpeech, a.engine.DetectSpeech)
	defaultWorker.Register(engine.FuncOpenConversation, a.engine.RunConversation)
	defaultWorker.Register(jobs.FuncSpeakers, a.processor.RecognizeSpeakers)
	defaultWorker.Register(jobs.FuncCrop, a.processor.CropAudio)
	defaultWorker.Register(jobs.FuncTitleSummary, a.processor.GenerateTitleSummary)
	defaultWorker.Register(jobs.FuncIngestVault, a.processor.IngestVault)

	transcriptionWorker := scheduler.NewWorker(a.scheduler, []string{models.QueueTranscription}, cfg.Jobs.TranscriptionWorkers, a.logger)
	transcriptionWorker.Register(jobs.FuncTranscribe, a.processor.Transcribe)

	memoryWorker := scheduler.NewWorker(a.scheduler, []string{models.QueueMemory}, cfg.Jobs.MemoryWorkers, a.logger)
	memoryWorker.Register(jobs.FuncMemories, a.processor.ExtractMemories)

	return []*scheduler.Worker{defaultWorker, transcriptionWorker, memoryWorker}
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// boolStatus returns a status string for a boolean
func boolStatus(b bool) string {
	if b {
		return "configured"
	}
	return "not configured"
}
