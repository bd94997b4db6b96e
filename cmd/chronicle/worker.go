package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chronicleaudio/chronicle/internal/adapters/tracing"
)

// workerCmd starts the job workers without the HTTP server
func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start job workers only",
		Long: `Start the Chronicle job workers without the HTTP server. Workers
pull from the default, transcription and memory queues; run several worker
processes to scale out processing independently of ingest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(cmd.Context())
		},
	}
}

func runWorkers(ctx context.Context) error {
	log.Println("Starting Chronicle workers...")

	shutdown, err := tracing.InitTracer("chronicle-worker")
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

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range a.buildWorkers() {
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Println("Workers stopped")
	return nil
}
