package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicleaudio/chronicle/internal/adapters/http/dto"
	"github.com/chronicleaudio/chronicle/internal/adapters/http/middleware"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

type audioFixture struct {
	repo     *fakeConversationRepo
	chain    *fakeChain
	chunkDir string
	router   chi.Router
}

func newAudioFixture(t *testing.T) *audioFixture {
	t.Helper()
	f := &audioFixture{
		repo:     newFakeConversationRepo(),
		chain:    &fakeChain{jobIDs: []string{"job-t", "job-s", "job-x", "job-m", "job-u"}},
		chunkDir: t.TempDir(),
	}
	users := &fakeUserRepo{users: map[string]*models.User{
		"admin": {UserID: "admin", IsSuperuser: true},
	}}

	h := NewAudioHandler(f.repo, users, f.chain, newSeqIDs(), f.chunkDir)
	r := chi.NewRouter()
	r.Use(middleware.Auth)
	r.Post("/audio/upload", h.Upload)
	r.Get("/audio/get_audio/{conversationID}", h.GetAudio)
	f.router = r
	return f
}

// monoWAV builds a WAV of the given duration filled with a ramp so the bytes
// are distinguishable from silence.
func monoWAV(seconds float64, sampleRate int) []byte {
	pcm := make([]byte, int(seconds*float64(sampleRate))*2)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	return wav.Encode(pcm, sampleRate, 1)
}

func uploadRequest(t *testing.T, userID string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("device_name", "test-device"))
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/audio/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", userID)
	return req
}

func TestUploadCreatesConversationAndChain(t *testing.T) {
	f := newAudioFixture(t)

	req := uploadRequest(t, "user-a", map[string][]byte{"meeting.wav": monoWAV(2.0, 16000)})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)

	file := resp.Files[0]
	assert.Equal(t, "processing", file.Status)
	assert.Equal(t, "conv-1", file.ConversationID)
	assert.Equal(t, "job-t", file.TranscriptJobID)
	assert.Equal(t, "job-s", file.SpeakerJobID)
	assert.Equal(t, "job-m", file.MemoryJobID)
	assert.InDelta(t, 2.0, file.DurationSeconds, 0.01)

	c, err := f.repo.GetByID(req.Context(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "user-a", c.UserID)
	assert.Equal(t, "test-device", c.ClientID)
	assert.Equal(t, "conv-1.wav", c.AudioPath)
	assert.NotNil(t, c.CompletedAt)
	assert.Equal(t, []string{"conv-1"}, f.chain.processed)

	data, err := os.ReadFile(filepath.Join(f.chunkDir, "conv-1.wav"))
	require.NoError(t, err)
	_, format, err := wav.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, format.SampleRate)
	assert.Equal(t, 1, format.Channels)
}

func TestUploadDownmixesStereo(t *testing.T) {
	f := newAudioFixture(t)

	stereoPCM := make([]byte, 16000*4) // one second of stereo frames
	stereo := wav.Encode(stereoPCM, 16000, 2)

	req := uploadRequest(t, "user-a", map[string][]byte{"stereo.wav": stereo})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.InDelta(t, 1.0, resp.Files[0].DurationSeconds, 0.01)

	data, err := os.ReadFile(filepath.Join(f.chunkDir, "conv-1.wav"))
	require.NoError(t, err)
	_, format, err := wav.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 1, format.Channels)
}

func TestUploadRejectsInvalidWAVPerFile(t *testing.T) {
	f := newAudioFixture(t)

	req := uploadRequest(t, "user-a", map[string][]byte{
		"good.wav": monoWAV(1.0, 16000),
		"bad.bin":  []byte("not a wav file at all"),
	})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 2)

	byName := map[string]*dto.UploadFileResult{}
	for _, file := range resp.Files {
		byName[file.Filename] = file
	}
	assert.Equal(t, "processing", byName["good.wav"].Status)
	assert.Equal(t, "failed", byName["bad.bin"].Status)
	assert.NotEmpty(t, byName["bad.bin"].Error)
	assert.Len(t, f.chain.processed, 1)
}

func TestUploadWithoutFilesRejected(t *testing.T) {
	f := newAudioFixture(t)

	req := uploadRequest(t, "user-a", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAudioEnforcesOwnership(t *testing.T) {
	f := newAudioFixture(t)

	c := models.NewConversation("conv-1", "sess-1", "user-a", "client-1", "t", "s")
	c.AudioPath = "conv-1.wav"
	f.repo.store["conv-1"] = c
	require.NoError(t, os.WriteFile(filepath.Join(f.chunkDir, "conv-1.wav"), monoWAV(0.5, 16000), 0o644))

	owner := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/audio/get_audio/conv-1", nil)
	req.Header.Set("X-User-ID", "user-a")
	f.router.ServeHTTP(owner, req)
	require.Equal(t, http.StatusOK, owner.Code)
	assert.Equal(t, "audio/wav", owner.Header().Get("Content-Type"))

	other := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/audio/get_audio/conv-1", nil)
	req.Header.Set("X-User-ID", "user-b")
	f.router.ServeHTTP(other, req)
	assert.Equal(t, http.StatusForbidden, other.Code)

	admin := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/audio/get_audio/conv-1", nil)
	req.Header.Set("X-User-ID", "admin")
	f.router.ServeHTTP(admin, req)
	assert.Equal(t, http.StatusOK, admin.Code)
}

func TestGetAudioCroppedMissing(t *testing.T) {
	f := newAudioFixture(t)

	c := models.NewConversation("conv-1", "sess-1", "user-a", "client-1", "t", "s")
	c.AudioPath = "conv-1.wav"
	f.repo.store["conv-1"] = c

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/audio/get_audio/conv-1?cropped=true", nil)
	req.Header.Set("X-User-ID", "user-a")
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
