package handlers

import (
	"context"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/chronicleaudio/chronicle/internal/adapters/http/dto"
	"github.com/chronicleaudio/chronicle/internal/adapters/http/middleware"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// VaultIngestor is the slice of the job processor that schedules bulk note
// imports.
type VaultIngestor interface {
	EnqueueVaultIngestion(ctx context.Context, vaultPath, userID string) (string, error)
}

// MemoryHandler serves memory listing, similarity search, deletion and bulk
// vault ingestion.
type MemoryHandler struct {
	provider ports.MemoryProvider
	ingestor VaultIngestor
}

func NewMemoryHandler(provider ports.MemoryProvider, ingestor VaultIngestor) *MemoryHandler {
	return &MemoryHandler{provider: provider, ingestor: ingestor}
}

func (h *MemoryHandler) configured(w http.ResponseWriter) bool {
	if h.provider == nil {
		respondError(w, http.StatusNotImplemented, "not_configured", "no memory provider configured")
		return false
	}
	return true
}

// List handles GET /memories
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	userID := middleware.GetUserID(r.Context())

	limit := parseIntQuery(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := parseIntQuery(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	memories, err := h.provider.GetAll(r.Context(), userID, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	total, err := h.provider.Count(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &dto.MemoryListResponse{
		Memories: dto.FromMemoryModelList(memories),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// Search handles POST /memories/search
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req dto.SearchMemoriesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "query is required")
		return
	}
	limit := req.Limit
	if limit < 1 || limit > 100 {
		limit = 10
	}

	results, err := h.provider.Search(r.Context(), middleware.GetUserID(r.Context()), req.Query, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]*dto.MemorySearchResponse, len(results))
	for i, res := range results {
		out[i] = &dto.MemorySearchResponse{
			MemoryResponse: *(&dto.MemoryResponse{}).FromModel(res.Memory),
			Score:          res.Score,
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

// IngestVault handles POST /memories/ingest_vault. The import runs as a
// background job; the response carries the job id to poll for progress.
func (h *MemoryHandler) IngestVault(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	if h.ingestor == nil {
		respondError(w, http.StatusNotImplemented, "not_configured", "vault ingestion not available")
		return
	}

	var req dto.IngestVaultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.VaultPath == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "vault_path is required")
		return
	}
	if info, err := os.Stat(req.VaultPath); err != nil || !info.IsDir() {
		respondError(w, http.StatusBadRequest, "validation_error", "vault_path is not a readable directory")
		return
	}

	jobID, err := h.ingestor.EnqueueVaultIngestion(r.Context(), req.VaultPath, middleware.GetUserID(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, &dto.IngestVaultResponse{JobID: jobID, Status: "queued"})
}

// Delete handles DELETE /memories/{id}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	memoryID := chi.URLParam(r, "memoryID")
	if memoryID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "memory id is required")
		return
	}
	if err := h.provider.Delete(r.Context(), memoryID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DeleteAll handles DELETE /memories
func (h *MemoryHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	deleted, err := h.provider.DeleteAllUserMemories(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "deleted",
		"deleted": deleted,
	})
}
