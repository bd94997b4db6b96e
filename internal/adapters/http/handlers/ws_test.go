package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicleaudio/chronicle/internal/adapters/http/middleware"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

func wsTestServer(t *testing.T, engine *fakeAudioEngine) (*httptest.Server, string) {
	t.Helper()
	h := NewWSHandler(engine, nil)
	r := chi.NewRouter()
	r.Use(middleware.Auth)
	r.Get("/ws/audio", h.HandleAudio)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/audio"
	return srv, url
}

func wsDial(t *testing.T, url, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{"X-User-ID": []string{userID}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readControl(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg wsMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestWebsocketSessionUserStopped(t *testing.T) {
	engine := newFakeAudioEngine()
	_, url := wsTestServer(t, engine)

	conn := wsDial(t, url, "user-a")

	ready := readControl(t, conn)
	require.Equal(t, "ready", ready.Type)
	require.Equal(t, "sess-ws", ready.SessionID)

	start, _ := json.Marshal(wsMessage{Type: "audio-start", Rate: 16000, Width: 2, Channels: 1, Mode: "streaming"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, start))

	chunk := make([]byte, 640)
	header, _ := json.Marshal(wsMessage{Type: "audio-chunk", PayloadLength: len(chunk), Rate: 16000, Width: 2, Channels: 1})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, header))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, chunk))

	stop, _ := json.Marshal(wsMessage{Type: "audio-stop"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, stop))

	require.Eventually(t, func() bool {
		return len(engine.completedSessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.CompletionUserStopped, engine.finalizedReason("sess-ws"))
	assert.Equal(t, 1, engine.chunkCount())
	assert.Equal(t, []string{"sess-ws"}, engine.completedSessions())
}

func TestWebsocketDisconnectFinalizesSession(t *testing.T) {
	engine := newFakeAudioEngine()
	_, url := wsTestServer(t, engine)

	conn := wsDial(t, url, "user-a")
	ready := readControl(t, conn)
	require.Equal(t, "ready", ready.Type)

	conn.Close()

	require.Eventually(t, func() bool {
		return len(engine.completedSessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.CompletionWebsocketDisconnect, engine.finalizedReason("sess-ws"))

	engine.mu.Lock()
	cancelled := append([]string(nil), engine.cancelled...)
	engine.mu.Unlock()
	assert.Equal(t, []string{"user-a"}, cancelled)
}

func TestWebsocketStereoChunksDownmixed(t *testing.T) {
	engine := newFakeAudioEngine()
	_, url := wsTestServer(t, engine)

	conn := wsDial(t, url, "user-a")
	readControl(t, conn)

	start, _ := json.Marshal(wsMessage{Type: "audio-start", Rate: 16000, Width: 2, Channels: 2, Mode: "streaming"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, start))

	stereo := make([]byte, 640) // 160 stereo frames
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, stereo))

	stop, _ := json.Marshal(wsMessage{Type: "audio-stop"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, stop))

	require.Eventually(t, func() bool {
		return len(engine.completedSessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.chunks, 1)
	assert.Len(t, engine.chunks[0], 320) // mono output is half the stereo bytes
}

func TestWebsocketPing(t *testing.T) {
	engine := newFakeAudioEngine()
	_, url := wsTestServer(t, engine)

	conn := wsDial(t, url, "user-a")
	readControl(t, conn)

	ping, _ := json.Marshal(wsMessage{Type: "ping"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ping))

	pong := readControl(t, conn)
	assert.Equal(t, "pong", pong.Type)
}
