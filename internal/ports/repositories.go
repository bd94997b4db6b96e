package ports

import (
	"context"

	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// ConversationRepository persists conversation documents. All version
// mutations go through these operations so the store can enforce the
// invariants (active pointers name existing versions, deleted conversations
// reject writes).
type ConversationRepository interface {
	Insert(ctx context.Context, c *models.Conversation) error
	GetByID(ctx context.Context, conversationID string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, error)
	ListByAudioUUID(ctx context.Context, audioUUID string) ([]*models.Conversation, error)

	// Save writes back a conversation mutated through its domain methods.
	// Implementations must reject saves for documents already marked deleted
	// in storage unless this save is the one performing the soft delete.
	Save(ctx context.Context, c *models.Conversation) error

	SoftDelete(ctx context.Context, conversationID, reason string) error
}

// UserRepository resolves principals for access checks and memory
// attribution.
type UserRepository interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
}

// TransactionManager runs a function with every repository call inside it
// sharing one database transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// MemoryRepository stores extracted memories with embeddings.
type MemoryRepository interface {
	Create(ctx context.Context, m *models.Memory) error
	Update(ctx context.Context, m *models.Memory) error
	GetByID(ctx context.Context, id string) (*models.Memory, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Search(ctx context.Context, userID string, embedding []float32, limit int) ([]*models.MemorySearchResult, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}
