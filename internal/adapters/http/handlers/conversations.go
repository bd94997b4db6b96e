package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/chronicleaudio/chronicle/internal/adapters/http/dto"
	"github.com/chronicleaudio/chronicle/internal/adapters/http/middleware"
	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// ProcessingChain is the slice of the job processor the HTTP layer needs for
// reprocess requests.
type ProcessingChain interface {
	EnqueueProcessing(ctx context.Context, c *models.Conversation) ([]string, error)
	EnqueueMemoryExtraction(ctx context.Context, c *models.Conversation) (string, error)
}

// ConversationHandler serves conversation reads, deletion, version history
// and reprocessing.
type ConversationHandler struct {
	conversations ports.ConversationRepository
	users         ports.UserRepository
	chain         ProcessingChain
	chunkDir      string
}

func NewConversationHandler(conversations ports.ConversationRepository, users ports.UserRepository, chain ProcessingChain, chunkDir string) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		users:         users,
		chain:         chain,
		chunkDir:      chunkDir,
	}
}

// List handles GET /conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit := parseIntQuery(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := parseIntQuery(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	conversations, err := h.conversations.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &dto.ConversationListResponse{
		Conversations: dto.FromConversationModelList(conversations),
		Limit:         limit,
		Offset:        offset,
	})
}

// Get handles GET /conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, (&dto.ConversationResponse{}).FromModel(c))
}

// Delete handles DELETE /conversations/{id}. The document is soft-deleted and
// kept as a tombstone; the audio files are removed from disk.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}

	if err := h.conversations.SoftDelete(r.Context(), c.ConversationID, models.DeletionUserRequested); err != nil {
		respondDomainError(w, err)
		return
	}

	for _, name := range []string{c.AudioPath, c.CroppedAudioPath} {
		if name == "" {
			continue
		}
		path := filepath.Join(h.chunkDir, filepath.Base(name))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			// Tombstone already written; a leftover file is an operator
			// cleanup, not a request failure.
			respondJSON(w, http.StatusOK, map[string]string{
				"status":  "deleted",
				"warning": "audio file removal failed",
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ReprocessTranscript handles POST /conversations/{id}/reprocess/transcript.
// The full chain runs again and appends new versions; existing versions stay.
func (h *ConversationHandler) ReprocessTranscript(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	if c.Deleted {
		respondDomainError(w, domain.ErrConversationDeleted)
		return
	}
	if c.AudioPath == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "conversation has no audio to reprocess")
		return
	}

	jobIDs, err := h.chain.EnqueueProcessing(r.Context(), c)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, &dto.ReprocessResponse{
		ConversationID: c.ConversationID,
		JobIDs:         jobIDs,
	})
}

// ReprocessMemory handles POST /conversations/{id}/reprocess/memory. Only the
// memory extraction step runs, off the active transcript version.
func (h *ConversationHandler) ReprocessMemory(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	if c.Deleted {
		respondDomainError(w, domain.ErrConversationDeleted)
		return
	}
	if c.ActiveTranscript() == nil {
		respondError(w, http.StatusBadRequest, "validation_error", "conversation has no transcript to extract memories from")
		return
	}

	jobID, err := h.chain.EnqueueMemoryExtraction(r.Context(), c)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, &dto.ReprocessResponse{
		ConversationID: c.ConversationID,
		JobIDs:         []string{jobID},
	})
}

// Versions handles GET /conversations/{id}/versions
func (h *ConversationHandler) Versions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, &dto.VersionsResponse{
		ConversationID:          c.ConversationID,
		TranscriptVersions:      c.TranscriptVersions,
		MemoryVersions:          c.MemoryVersions,
		ActiveTranscriptVersion: c.ActiveTranscriptVersion,
		ActiveMemoryVersion:     c.ActiveMemoryVersion,
	})
}

// ActivateTranscript handles POST /conversations/{id}/activate/transcript/{vid}
func (h *ConversationHandler) ActivateTranscript(w http.ResponseWriter, r *http.Request) {
	h.activate(w, r, func(c *models.Conversation, versionID string) error {
		return c.SetActiveTranscriptVersion(versionID)
	})
}

// ActivateMemory handles POST /conversations/{id}/activate/memory/{vid}
func (h *ConversationHandler) ActivateMemory(w http.ResponseWriter, r *http.Request) {
	h.activate(w, r, func(c *models.Conversation, versionID string) error {
		return c.SetActiveMemoryVersion(versionID)
	})
}

func (h *ConversationHandler) activate(w http.ResponseWriter, r *http.Request, flip func(*models.Conversation, string) error) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}

	versionID := chi.URLParam(r, "versionID")
	if err := flip(c, versionID); err != nil {
		respondDomainError(w, err)
		return
	}
	if err := h.conversations.Save(r.Context(), c); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, (&dto.ConversationResponse{}).FromModel(c))
}

// load fetches the conversation from the path id and enforces ownership. It
// writes the error response itself when anything fails.
func (h *ConversationHandler) load(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "conversation id is required")
		return nil, false
	}

	c, err := h.conversations.GetByID(r.Context(), conversationID)
	if err != nil {
		respondDomainError(w, err)
		return nil, false
	}

	if err := authorize(r.Context(), h.users, c.UserID); err != nil {
		respondDomainError(w, err)
		return nil, false
	}
	return c, true
}

// authorize checks that the request principal owns the resource or is a
// superuser. Unknown principals are treated as plain users of their own id.
func authorize(ctx context.Context, users ports.UserRepository, ownerID string) error {
	userID := middleware.GetUserID(ctx)
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		user = &models.User{UserID: userID}
	}
	if !user.CanAccess(ownerID) {
		return domain.ErrAccessDenied
	}
	return nil
}
