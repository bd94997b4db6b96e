// Package http assembles the HTTP surface: REST handlers, the duplex audio
// websocket, health and metrics, behind the shared middleware chain.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chronicleaudio/chronicle/internal/adapters/http/handlers"
	"github.com/chronicleaudio/chronicle/internal/adapters/http/middleware"
	"github.com/chronicleaudio/chronicle/internal/config"
)

// Handlers bundles the route handlers the server mounts.
type Handlers struct {
	Health        *handlers.HealthHandler
	Conversations *handlers.ConversationHandler
	Memories      *handlers.MemoryHandler
	Audio         *handlers.AudioHandler
	Jobs          *handlers.JobHandler
	WS            *handlers.WSHandler
}

// Server is the HTTP server hosting the REST API and websocket endpoint.
type Server struct {
	httpServer *http.Server
	router     chi.Router
}

func NewServer(cfg *config.Config, h Handlers) *Server {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.Logger)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.Metrics)

	r.Get("/health", h.Health.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth)

		r.Get("/ws/audio", h.WS.HandleAudio)

		r.Route("/audio", func(r chi.Router) {
			r.Post("/upload", h.Audio.Upload)
			r.Get("/get_audio/{conversationID}", h.Audio.GetAudio)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.Conversations.List)
			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", h.Conversations.Get)
				r.Delete("/", h.Conversations.Delete)
				r.Get("/versions", h.Conversations.Versions)
				r.Post("/reprocess/transcript", h.Conversations.ReprocessTranscript)
				r.Post("/reprocess/memory", h.Conversations.ReprocessMemory)
				r.Post("/activate/transcript/{versionID}", h.Conversations.ActivateTranscript)
				r.Post("/activate/memory/{versionID}", h.Conversations.ActivateMemory)
			})
		})

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", h.Memories.List)
			r.Post("/search", h.Memories.Search)
			r.Post("/ingest_vault", h.Memories.IngestVault)
			r.Delete("/", h.Memories.DeleteAll)
			r.Delete("/{memoryID}", h.Memories.Delete)
		})

		r.Get("/jobs/{jobID}", h.Jobs.Get)
	})

	return &Server{
		router: r,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: r,
			// Websocket sessions stay open for hours; only idle HTTP
			// keep-alives are bounded.
			ReadTimeout:  0,
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start blocks serving requests until the listener fails or Stop is called.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
