package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

type UserRepository struct {
	BaseRepository
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT user_id, email, is_superuser, primary_speakers
		FROM chronicle_users
		WHERE user_id = $1`

	var u models.User
	var primarySpeakers []byte

	err := r.conn(ctx).QueryRow(ctx, query, userID).Scan(
		&u.UserID,
		&u.Email,
		&u.IsSuperuser,
		&primarySpeakers,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	u.PrimarySpeakers, err = unmarshalJSONSlice[models.PrimarySpeaker](primarySpeakers)
	if err != nil {
		return nil, err
	}

	return &u, nil
}
