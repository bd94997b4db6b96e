package handlers

import (
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/chronicleaudio/chronicle/internal/adapters/http/dto"
	"github.com/chronicleaudio/chronicle/internal/adapters/http/middleware"
	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/jobs"
	"github.com/chronicleaudio/chronicle/internal/ports"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

const maxUploadBytes = 512 << 20

// AudioHandler serves batch WAV uploads and audio file downloads.
type AudioHandler struct {
	conversations ports.ConversationRepository
	users         ports.UserRepository
	chain         ProcessingChain
	ids           ports.IDGenerator
	chunkDir      string
}

func NewAudioHandler(conversations ports.ConversationRepository, users ports.UserRepository, chain ProcessingChain, ids ports.IDGenerator, chunkDir string) *AudioHandler {
	return &AudioHandler{
		conversations: conversations,
		users:         users,
		chain:         chain,
		ids:           ids,
		chunkDir:      chunkDir,
	}
}

// Upload handles POST /audio/upload. Each WAV file becomes its own
// conversation with the post-processing chain enqueued immediately; per-file
// failures don't fail the batch.
func (h *AudioHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form: "+err.Error())
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "no files in upload")
		return
	}

	deviceName := r.FormValue("device_name")
	if deviceName == "" {
		deviceName = "upload"
	}
	userID := middleware.GetUserID(r.Context())

	results := make([]*dto.UploadFileResult, 0, len(files))
	for _, fh := range files {
		data, err := readMultipartFile(fh)
		if err != nil {
			results = append(results, &dto.UploadFileResult{
				Filename: fh.Filename,
				Status:   "failed",
				Error:    "failed to read file",
			})
			continue
		}
		results = append(results, h.ingestFile(r, fh.Filename, data, userID, deviceName))
	}

	respondJSON(w, http.StatusOK, &dto.UploadResponse{Files: results})
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// GetAudio handles GET /audio/get_audio/{conversationID}?cropped=bool
func (h *AudioHandler) GetAudio(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	c, err := h.conversations.GetByID(r.Context(), conversationID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := authorize(r.Context(), h.users, c.UserID); err != nil {
		respondDomainError(w, err)
		return
	}

	name := c.AudioPath
	if parseBoolQuery(r, "cropped") {
		name = c.CroppedAudioPath
	}
	if name == "" {
		respondDomainError(w, domain.ErrAudioNotFound)
		return
	}

	path := filepath.Join(h.chunkDir, filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		respondDomainError(w, domain.ErrAudioNotFound)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

// ingestFile validates one uploaded WAV, persists it under the new
// conversation's name and enqueues the processing chain.
func (h *AudioHandler) ingestFile(r *http.Request, filename string, data []byte, userID, deviceName string) *dto.UploadFileResult {
	result := &dto.UploadFileResult{Filename: filename}

	pcm, format, err := wav.Decode(data)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}
	if format.Channels == 2 {
		pcm = wav.DownmixStereo(pcm)
	}
	duration := wav.Duration(pcm, format.SampleRate, 1)

	c := models.NewConversation(h.ids.ConversationID(), h.ids.SessionID(), userID, deviceName,
		"Conversation in progress", "Processing...")
	c.AudioPath = c.ConversationID + ".wav"
	c.Complete(models.EndReasonUserStopped)

	path := filepath.Join(h.chunkDir, c.AudioPath)
	if err := os.WriteFile(path, wav.Encode(pcm, format.SampleRate, 1), 0o644); err != nil {
		result.Status = "failed"
		result.Error = "failed to persist audio"
		log.Printf("upload: write %s: %v", path, err)
		return result
	}

	if err := h.conversations.Insert(r.Context(), c); err != nil {
		result.Status = "failed"
		result.Error = "failed to create conversation"
		log.Printf("upload: insert conversation %s: %v", c.ConversationID, err)
		return result
	}

	jobIDs, err := h.chain.EnqueueProcessing(r.Context(), c)
	if err != nil {
		result.ConversationID = c.ConversationID
		result.Status = "failed"
		result.Error = "failed to enqueue processing"
		log.Printf("upload: enqueue chain for %s: %v", c.ConversationID, err)
		return result
	}

	ids := jobs.SplitChainIDs(jobIDs)
	result.ConversationID = c.ConversationID
	result.TranscriptJobID = ids.Transcribe
	result.SpeakerJobID = ids.Speakers
	result.MemoryJobID = ids.Memories
	result.DurationSeconds = duration
	result.Status = "processing"
	return result
}
