package models

import "time"

// Memory is one atomic extracted fact, stored by the built-in memory
// provider with an embedding for similarity search.
type Memory struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ClientID   string    `json:"client_id,omitempty"`
	SourceID   string    `json:"source_id,omitempty"` // conversation that produced it
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MemorySearchResult pairs a memory with its similarity score.
type MemorySearchResult struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
}
