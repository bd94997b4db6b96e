package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/chronicleaudio/chronicle/internal/adapters/http/middleware"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

// AudioEngine is the slice of the session engine the websocket handler
// drives: session lifecycle plus the two per-connection workers.
type AudioEngine interface {
	StartSession(ctx context.Context, clientID, userID string) (*models.Session, error)
	FinalizeSession(ctx context.Context, sessionID, completionReason string) error
	CompleteSession(ctx context.Context, sessionID string) error
	CancelSpeechDetection(ctx context.Context, clientID string)
	AppendAudio(ctx context.Context, sessionID string, chunk []byte) error
	RunPersistence(ctx context.Context, sessionID string) error
	RunTranscription(ctx context.Context, sessionID string) error
}

// wsMessage is the JSON control frame of the duplex audio protocol. Chunk
// payloads follow their audio-chunk header as a separate binary frame.
type wsMessage struct {
	Type          string `json:"type"`
	Rate          int    `json:"rate,omitempty"`
	Width         int    `json:"width,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	Mode          string `json:"mode,omitempty"`
	PayloadLength int    `json:"payload_length,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// WSHandler serves the /ws/audio duplex protocol: JSON control frames in both
// directions, binary PCM frames inbound.
type WSHandler struct {
	engine   AudioEngine
	upgrader websocket.Upgrader
}

func NewWSHandler(engine AudioEngine, allowedOrigins []string) *WSHandler {
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &WSHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin
				return origin == "" || origins[origin]
			},
		},
	}
}

// HandleAudio handles GET /ws/audio. One connection is one session; the
// handler runs the persistence and transcription workers for its lifetime
// and completes the session once both have drained.
func (h *WSHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = userID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	session, err := h.engine.StartSession(ctx, clientID, userID)
	if err != nil {
		log.Printf("ws: start session for client %s: %v", clientID, err)
		_ = conn.WriteJSON(&wsMessage{Type: "error", Error: "failed to start session"})
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.engine.RunPersistence(gctx, session.SessionID) })
	g.Go(func() error { return h.engine.RunTranscription(gctx, session.SessionID) })

	_ = conn.WriteJSON(&wsMessage{Type: "ready", SessionID: session.SessionID})

	completionReason := h.readLoop(ctx, conn, session.SessionID)

	// Cleanup must run even when the request context died with the socket.
	cleanupCtx := context.WithoutCancel(ctx)
	if err := h.engine.FinalizeSession(cleanupCtx, session.SessionID, completionReason); err != nil {
		log.Printf("ws: finalize session %s: %v", session.SessionID, err)
	}
	h.engine.CancelSpeechDetection(cleanupCtx, clientID)

	if err := g.Wait(); err != nil {
		log.Printf("ws: session %s worker: %v", session.SessionID, err)
	}
	if err := h.engine.CompleteSession(cleanupCtx, session.SessionID); err != nil {
		log.Printf("ws: complete session %s: %v", session.SessionID, err)
	}
}

// readLoop consumes frames until audio-stop or disconnect and returns the
// session completion reason.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string) string {
	channels := 1

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return models.CompletionWebsocketDisconnect
		}

		switch msgType {
		case websocket.TextMessage:
			var msg wsMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				_ = conn.WriteJSON(&wsMessage{Type: "error", Error: "invalid control message"})
				continue
			}
			switch msg.Type {
			case "audio-start":
				if msg.Channels > 0 {
					channels = msg.Channels
				}
				log.Printf("ws: session %s audio-start rate=%d width=%d channels=%d mode=%s",
					sessionID, msg.Rate, msg.Width, msg.Channels, msg.Mode)
			case "audio-chunk":
				if msg.Channels > 0 {
					channels = msg.Channels
				}
			case "audio-stop":
				return models.CompletionUserStopped
			case "ping":
				_ = conn.WriteJSON(&wsMessage{Type: "pong"})
			}
		case websocket.BinaryMessage:
			chunk := payload
			if channels == 2 {
				chunk = wav.DownmixStereo(chunk)
			}
			if err := h.engine.AppendAudio(ctx, sessionID, chunk); err != nil {
				log.Printf("ws: session %s append audio: %v", sessionID, err)
				_ = conn.WriteJSON(&wsMessage{Type: "error", Error: "failed to buffer audio"})
			}
		}
	}
}
