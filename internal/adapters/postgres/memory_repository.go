package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

type MemoryRepository struct {
	BaseRepository
}

func NewMemoryRepository(pool *pgxpool.Pool) *MemoryRepository {
	return &MemoryRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, m *models.Memory) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var embedding *pgvector.Vector
	if len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		embedding = &v
	}

	query := `
		INSERT INTO chronicle_memories (
			id, user_id, client_id, source_id, content, importance, embedding, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err := r.conn(ctx).Exec(ctx, query,
		m.ID,
		m.UserID,
		nullString(m.ClientID),
		nullString(m.SourceID),
		m.Content,
		m.Importance,
		embedding,
		m.CreatedAt,
		m.UpdatedAt,
	)

	return err
}

func (r *MemoryRepository) Update(ctx context.Context, m *models.Memory) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var embedding *pgvector.Vector
	if len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		embedding = &v
	}

	query := `
		UPDATE chronicle_memories
		SET content = $2,
			importance = $3,
			embedding = $4,
			updated_at = $5
		WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, query,
		m.ID,
		m.Content,
		m.Importance,
		embedding,
		m.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMemoryNotFound
	}
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, client_id, source_id, content, importance, embedding, created_at, updated_at
		FROM chronicle_memories
		WHERE id = $1`

	return r.scanMemory(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, client_id, source_id, content, importance, embedding, created_at, updated_at
		FROM chronicle_memories
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memories := make([]*models.Memory, 0)
	for rows.Next() {
		m, err := r.scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}

	return memories, rows.Err()
}

func (r *MemoryRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM chronicle_memories WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

// Search runs a cosine-similarity search over the user's memories.
func (r *MemoryRepository) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]*models.MemorySearchResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	vector := pgvector.NewVector(embedding)

	query := `
		SELECT id, user_id, client_id, source_id, content, importance, embedding, created_at, updated_at,
			   1 - (embedding <=> $2) AS similarity
		FROM chronicle_memories
		WHERE user_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`

	rows, err := r.conn(ctx).Query(ctx, query, userID, vector, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*models.MemorySearchResult, 0)
	for rows.Next() {
		var m models.Memory
		var clientID, sourceID sql.NullString
		var emb *pgvector.Vector
		var similarity float64

		err := rows.Scan(
			&m.ID,
			&m.UserID,
			&clientID,
			&sourceID,
			&m.Content,
			&m.Importance,
			&emb,
			&m.CreatedAt,
			&m.UpdatedAt,
			&similarity,
		)
		if err != nil {
			return nil, err
		}

		m.ClientID = getString(clientID)
		m.SourceID = getString(sourceID)
		if emb != nil {
			m.Embedding = emb.Slice()
		}

		results = append(results, &models.MemorySearchResult{Memory: &m, Score: similarity})
	}

	return results, rows.Err()
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM chronicle_memories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMemoryNotFound
	}
	return nil
}

func (r *MemoryRepository) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM chronicle_memories WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *MemoryRepository) scanMemory(row pgx.Row) (*models.Memory, error) {
	var m models.Memory
	var clientID, sourceID sql.NullString
	var embedding *pgvector.Vector

	err := row.Scan(
		&m.ID,
		&m.UserID,
		&clientID,
		&sourceID,
		&m.Content,
		&m.Importance,
		&embedding,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrMemoryNotFound
		}
		return nil, err
	}

	m.ClientID = getString(clientID)
	m.SourceID = getString(sourceID)
	if embedding != nil {
		m.Embedding = embedding.Slice()
	}

	return &m, nil
}
