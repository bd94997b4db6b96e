package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpserver "github.com/chronicleaudio/chronicle/internal/adapters/http"
	"github.com/chronicleaudio/chronicle/internal/adapters/http/handlers"
	"github.com/chronicleaudio/chronicle/internal/adapters/tracing"
)

// serveCmd starts the HTTP server with in-process job workers
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server with in-process workers",
		Long: `Start the Chronicle server: REST API, the /ws/audio websocket
endpoint, and in-process job workers for every queue.

Required configuration:
  - PostgreSQL (CHRONICLE_POSTGRES_URL)
  - Redis (CHRONICLE_REDIS_URL)
  - ASR endpoint (CHRONICLE_ASR_URL)

Optional:
  - LLM endpoint for titles, summaries and memories (CHRONICLE_LLM_URL)
  - Embedding endpoint for memory search (CHRONICLE_EMBEDDING_URL)
  - Speaker recognition service (CHRONICLE_SPEAKER_SERVICE_URL)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	log.Println("Starting Chronicle server...")
	log.Printf("  HTTP:  http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("  ASR:   %s", cfg.ASR.URL)
	log.Printf("  LLM:   %s", cfg.LLM.URL)
	log.Printf("  Audio: %s", cfg.Audio.ChunkDir)

	shutdown, err := tracing.InitTracer("chronicle")
	if err != nil {
		log.Printf("Warning: failed to initialize tracing: %v", err)
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	server := httpserver.NewServer(cfg, httpserver.Handlers{
		Health: handlers.NewHealthHandler(version,
			handlers.HealthCheck{Name: "postgres", Check: func(ctx context.Context) error {
				return a.pool.Ping(ctx)
			}},
			handlers.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
				return a.redis.Ping(ctx).Err()
			}},
		),
		Conversations: handlers.NewConversationHandler(
			a.engine.Conversations, a.processor.Users, a.processor, cfg.Audio.ChunkDir),
		Memories: handlers.NewMemoryHandler(a.processor.Memory, a.processor),
		Audio: handlers.NewAudioHandler(
			a.engine.Conversations, a.processor.Users, a.processor, a.ids, cfg.Audio.ChunkDir),
		Jobs: handlers.NewJobHandler(a.scheduler),
		WS:   handlers.NewWSHandler(a.engine, cfg.Server.CORSOrigins),
	})

	g, gctx := errgroup.WithContext(ctx)

	for _, w := range a.buildWorkers() {
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error {
		log.Printf("HTTP server listening on %s:%d", cfg.Server.Host, cfg.Server.Port)
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Server stopped")
	return nil
}
