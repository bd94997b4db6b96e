package dto

import (
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// MemoryResponse represents a stored memory in API responses. Embeddings
// never leave the server.
type MemoryResponse struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	SourceID   string    `json:"source_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MemorySearchResponse pairs a memory with its similarity score
type MemorySearchResponse struct {
	MemoryResponse
	Score float64 `json:"score"`
}

// MemoryListResponse represents a page of memories
type MemoryListResponse struct {
	Memories []*MemoryResponse `json:"memories"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// SearchMemoriesRequest represents a similarity search
type SearchMemoriesRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// IngestVaultRequest asks for a bulk import of a markdown note directory
type IngestVaultRequest struct {
	VaultPath string `json:"vault_path"`
}

// IngestVaultResponse carries the id of the ingestion job to poll
type IngestVaultResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// FromModel converts a domain model to a response DTO
func (r *MemoryResponse) FromModel(m *models.Memory) *MemoryResponse {
	return &MemoryResponse{
		ID:         m.ID,
		Content:    m.Content,
		Importance: m.Importance,
		SourceID:   m.SourceID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// FromMemoryModelList converts a list of domain models to response DTOs
func FromMemoryModelList(memories []*models.Memory) []*MemoryResponse {
	responses := make([]*MemoryResponse, len(memories))
	for i, m := range memories {
		responses[i] = (&MemoryResponse{}).FromModel(m)
	}
	return responses
}
