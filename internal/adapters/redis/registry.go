package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// transitionScript compare-and-sets the session status so concurrent
// finalizers race safely: exactly one caller wins active -> finalizing.
var transitionScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return -1
	end
	if redis.call("HGET", KEYS[1], "status") == ARGV[1] then
		redis.call("HSET", KEYS[1], "status", ARGV[2])
		if ARGV[3] ~= "" then
			redis.call("HSET", KEYS[1], "completion_reason", ARGV[3])
		end
		return 1
	end
	return 0
`)

// SessionRegistry implements ports.SessionRegistry on Redis hashes and
// signal keys.
type SessionRegistry struct {
	client *redis.Client
}

func NewSessionRegistry(client *redis.Client) *SessionRegistry {
	return &SessionRegistry{client: client}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func currentConversationKey(sessionID string) string {
	return "conversation:current:" + sessionID
}

func audioFileKey(conversationID string) string {
	return "audio:file:" + conversationID
}

func conversationCountKey(sessionID string) string {
	return "session:conversation_count:" + sessionID
}

func speechJobKey(clientID string) string {
	return "speechjob:" + clientID
}

func (r *SessionRegistry) CreateSession(ctx context.Context, s *models.Session) error {
	return r.client.HSet(ctx, sessionKey(s.SessionID), map[string]any{
		"session_id":        s.SessionID,
		"client_id":         s.ClientID,
		"user_id":           s.UserID,
		"status":            s.Status,
		"completion_reason": s.CompletionReason,
	}).Err()
}

func (r *SessionRegistry) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, domain.ErrSessionNotFound
	}

	s := &models.Session{
		SessionID:        fields["session_id"],
		ClientID:         fields["client_id"],
		UserID:           fields["user_id"],
		Status:           fields["status"],
		CompletionReason: fields["completion_reason"],
	}

	if current, err := r.CurrentConversation(ctx, sessionID); err == nil {
		s.CurrentConversationID = current
	}
	if count, err := r.client.Get(ctx, conversationCountKey(sessionID)).Result(); err == nil {
		s.ConversationCount, _ = strconv.ParseInt(count, 10, 64)
	}

	return s, nil
}

func (r *SessionRegistry) TransitionStatus(ctx context.Context, sessionID, from, to, completionReason string) (bool, error) {
	res, err := transitionScript.Run(ctx, r.client,
		[]string{sessionKey(sessionID)}, from, to, completionReason).Int()
	if err != nil {
		return false, fmt.Errorf("transition session %s: %w", sessionID, err)
	}
	if res == -1 {
		return false, domain.ErrSessionNotFound
	}
	return res == 1, nil
}

func (r *SessionRegistry) ExpireSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	return r.client.Expire(ctx, sessionKey(sessionID), ttl).Err()
}

func (r *SessionRegistry) SetCurrentConversation(ctx context.Context, sessionID, conversationID string, ttl time.Duration) error {
	return r.client.Set(ctx, currentConversationKey(sessionID), conversationID, ttl).Err()
}

func (r *SessionRegistry) CurrentConversation(ctx context.Context, sessionID string) (string, error) {
	id, err := r.client.Get(ctx, currentConversationKey(sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

func (r *SessionRegistry) ClearCurrentConversation(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, currentConversationKey(sessionID)).Err()
}

func (r *SessionRegistry) PublishAudioFile(ctx context.Context, conversationID, path string, ttl time.Duration) error {
	return r.client.Set(ctx, audioFileKey(conversationID), path, ttl).Err()
}

func (r *SessionRegistry) AudioFile(ctx context.Context, conversationID string) (string, error) {
	path, err := r.client.Get(ctx, audioFileKey(conversationID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return path, err
}

func (r *SessionRegistry) IncrementConversationCount(ctx context.Context, sessionID string, ttl time.Duration) (int64, error) {
	key := conversationCountKey(sessionID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if ttl > 0 {
		r.client.Expire(ctx, key, ttl)
	}
	return count, nil
}

func (r *SessionRegistry) SetSpeechDetectionJob(ctx context.Context, clientID, jobID string, ttl time.Duration) error {
	return r.client.Set(ctx, speechJobKey(clientID), jobID, ttl).Err()
}

func (r *SessionRegistry) SpeechDetectionJob(ctx context.Context, clientID string) (string, error) {
	id, err := r.client.Get(ctx, speechJobKey(clientID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

var _ ports.SessionRegistry = (*SessionRegistry)(nil)
var _ ports.StreamBus = (*StreamBus)(nil)
