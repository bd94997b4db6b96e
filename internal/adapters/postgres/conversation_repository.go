package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

const conversationColumns = `
	conversation_id, audio_uuid, user_id, client_id,
	audio_path, cropped_audio_path,
	title, summary, detailed_summary, end_reason,
	transcript_versions, memory_versions,
	active_transcript_version, active_memory_version,
	deleted, deletion_reason, deleted_at,
	created_at, completed_at`

type ConversationRepository struct {
	BaseRepository
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *ConversationRepository) Insert(ctx context.Context, c *models.Conversation) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	transcriptVersions, err := marshalJSONSlice(c.TranscriptVersions)
	if err != nil {
		return err
	}
	memoryVersions, err := marshalJSONSlice(c.MemoryVersions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO chronicle_conversations (
			conversation_id, audio_uuid, user_id, client_id,
			audio_path, cropped_audio_path,
			title, summary, detailed_summary, end_reason,
			transcript_versions, memory_versions,
			active_transcript_version, active_memory_version,
			deleted, deletion_reason, deleted_at,
			created_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		c.ConversationID,
		c.AudioUUID,
		c.UserID,
		c.ClientID,
		nullString(c.AudioPath),
		nullString(c.CroppedAudioPath),
		c.Title,
		c.Summary,
		nullString(c.DetailedSummary),
		nullString(c.EndReason),
		transcriptVersions,
		memoryVersions,
		nullString(c.ActiveTranscriptVersion),
		nullString(c.ActiveMemoryVersion),
		c.Deleted,
		nullString(c.DeletionReason),
		nullTime(c.DeletedAt),
		c.CreatedAt,
		nullTime(c.CompletedAt),
	)

	return err
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + conversationColumns + `
		FROM chronicle_conversations
		WHERE conversation_id = $1`

	return r.scanConversation(r.conn(ctx).QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + conversationColumns + `
		FROM chronicle_conversations
		WHERE user_id = $1 AND deleted = FALSE
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanConversations(rows)
}

func (r *ConversationRepository) ListByAudioUUID(ctx context.Context, audioUUID string) ([]*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + conversationColumns + `
		FROM chronicle_conversations
		WHERE audio_uuid = $1 AND deleted = FALSE
		ORDER BY created_at ASC`

	rows, err := r.conn(ctx).Query(ctx, query, audioUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanConversations(rows)
}

// Save writes back the mutable fields of a conversation. The deleted guard
// rejects writes to documents already tombstoned in storage unless this save
// carries the tombstone itself.
func (r *ConversationRepository) Save(ctx context.Context, c *models.Conversation) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	transcriptVersions, err := marshalJSONSlice(c.TranscriptVersions)
	if err != nil {
		return err
	}
	memoryVersions, err := marshalJSONSlice(c.MemoryVersions)
	if err != nil {
		return err
	}

	query := `
		UPDATE chronicle_conversations
		SET audio_path = $2,
			cropped_audio_path = $3,
			title = $4,
			summary = $5,
			detailed_summary = $6,
			end_reason = $7,
			transcript_versions = $8,
			memory_versions = $9,
			active_transcript_version = $10,
			active_memory_version = $11,
			deleted = $12,
			deletion_reason = $13,
			deleted_at = $14,
			completed_at = $15
		WHERE conversation_id = $1 AND (deleted = FALSE OR $12 = TRUE)`

	tag, err := r.conn(ctx).Exec(ctx, query,
		c.ConversationID,
		nullString(c.AudioPath),
		nullString(c.CroppedAudioPath),
		c.Title,
		c.Summary,
		nullString(c.DetailedSummary),
		nullString(c.EndReason),
		transcriptVersions,
		memoryVersions,
		nullString(c.ActiveTranscriptVersion),
		nullString(c.ActiveMemoryVersion),
		c.Deleted,
		nullString(c.DeletionReason),
		nullTime(c.DeletedAt),
		nullTime(c.CompletedAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		existing, getErr := r.GetByID(ctx, c.ConversationID)
		if getErr != nil {
			return getErr
		}
		if existing.Deleted {
			return domain.ErrCannotModifyDeletedConv
		}
		return domain.ErrConversationNotFound
	}

	return nil
}

func (r *ConversationRepository) SoftDelete(ctx context.Context, conversationID, reason string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE chronicle_conversations
		SET deleted = TRUE,
			deletion_reason = $2,
			deleted_at = NOW()
		WHERE conversation_id = $1 AND deleted = FALSE`

	tag, err := r.conn(ctx).Exec(ctx, query, conversationID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, conversationID); getErr != nil {
			return getErr
		}
		return domain.ErrConversationDeleted
	}
	return nil
}

func (r *ConversationRepository) scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	var transcriptVersions, memoryVersions []byte
	var audioPath, croppedPath, detailedSummary, endReason sql.NullString
	var activeTranscript, activeMemory, deletionReason sql.NullString
	var deletedAt, completedAt sql.NullTime

	err := row.Scan(
		&c.ConversationID,
		&c.AudioUUID,
		&c.UserID,
		&c.ClientID,
		&audioPath,
		&croppedPath,
		&c.Title,
		&c.Summary,
		&detailedSummary,
		&endReason,
		&transcriptVersions,
		&memoryVersions,
		&activeTranscript,
		&activeMemory,
		&c.Deleted,
		&deletionReason,
		&deletedAt,
		&c.CreatedAt,
		&completedAt,
	)

	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}

	c.AudioPath = getString(audioPath)
	c.CroppedAudioPath = getString(croppedPath)
	c.DetailedSummary = getString(detailedSummary)
	c.EndReason = getString(endReason)
	c.ActiveTranscriptVersion = getString(activeTranscript)
	c.ActiveMemoryVersion = getString(activeMemory)
	c.DeletionReason = getString(deletionReason)
	c.DeletedAt = getTimePtr(deletedAt)
	c.CompletedAt = getTimePtr(completedAt)

	c.TranscriptVersions, err = unmarshalJSONSlice[models.TranscriptVersion](transcriptVersions)
	if err != nil {
		return nil, err
	}
	c.MemoryVersions, err = unmarshalJSONSlice[models.MemoryVersion](memoryVersions)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *ConversationRepository) scanConversations(rows pgx.Rows) ([]*models.Conversation, error) {
	conversations := make([]*models.Conversation, 0)

	for rows.Next() {
		c, err := r.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}
