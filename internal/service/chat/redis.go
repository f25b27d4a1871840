package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

// DefaultSessionTTL bounds how long an idle session survives in Redis.
const DefaultSessionTTL = 24 * time.Hour

// RedisStore keeps each session as a JSON record plus a list of JSON messages.
// Every write refreshes the session TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a client from a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisStore verifies connectivity and returns a store. A non-positive ttl disables expiry.
func NewRedisStore(ctx context.Context, client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) CreateSession(ctx context.Context) (chat.Session, error) {
	session := chat.Session{
		ID:        newSessionID(),
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return chat.Session{}, fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(session.ID), data, r.expiry()).Err(); err != nil {
		return chat.Session{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

func (r *RedisStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session: %w", err)
	}

	var session chat.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return chat.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.ensureSession(ctx, sessionID); err != nil {
		return err
	}
	if err := r.client.Del(ctx, sessionKey(sessionID), messagesKey(sessionID), sequenceKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *RedisStore) SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if err := validateMessage(message); err != nil {
		return chat.Message{}, err
	}

	saved, err := r.append(ctx, message)
	if err != nil {
		return chat.Message{}, err
	}
	return saved[0], nil
}

// SaveExchange pushes both turns in one MULTI/EXEC so a reader never sees a
// question without its answer.
func (r *RedisStore) SaveExchange(ctx context.Context, user, agent chat.Message) ([]chat.Message, error) {
	if err := validateExchange(user, agent); err != nil {
		return nil, err
	}
	return r.append(ctx, user, agent)
}

// maxAppendRetries bounds optimistic retries when another writer touches the
// same session between WATCH and EXEC.
const maxAppendRetries = 10

// append reads the sequence under WATCH and commits ids and list entries in one
// MULTI/EXEC, so list order always matches id order.
func (r *RedisStore) append(ctx context.Context, messages ...chat.Message) ([]chat.Message, error) {
	sessionID := messages[0].SessionID
	if err := r.ensureSession(ctx, sessionID); err != nil {
		return nil, err
	}

	var saved []chat.Message
	txf := func(tx *redis.Tx) error {
		last, err := tx.Get(ctx, sequenceKey(sessionID)).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("next message id: %w", err)
		}

		now := time.Now().UTC()
		saved = make([]chat.Message, len(messages))
		payload := make([]interface{}, len(messages))
		for i, message := range messages {
			message = withDefaults(message, now)
			message.ID = last + uint64(i) + 1
			data, err := json.Marshal(message)
			if err != nil {
				return fmt.Errorf("marshal message: %w", err)
			}
			saved[i] = message
			payload[i] = data
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sequenceKey(sessionID), last+uint64(len(messages)), r.expiry())
			pipe.RPush(ctx, messagesKey(sessionID), payload...)
			if ttl := r.expiry(); ttl > 0 {
				pipe.Expire(ctx, sessionKey(sessionID), ttl)
				pipe.Expire(ctx, messagesKey(sessionID), ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxAppendRetries; i++ {
		err := r.client.Watch(ctx, txf, sequenceKey(sessionID))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("append message: %w", err)
		}
		return saved, nil
	}
	return nil, fmt.Errorf("append message: %w", redis.TxFailedErr)
}

func (r *RedisStore) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if err := r.ensureSession(ctx, sessionID); err != nil {
		return nil, err
	}

	raw, err := r.client.LRange(ctx, messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return decodeMessages(raw), nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) ensureSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	n, err := r.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisStore) expiry() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	return r.ttl
}

// decodeMessages skips entries that no longer parse.
func decodeMessages(raw []string) []chat.Message {
	messages := make([]chat.Message, 0, len(raw))
	for _, item := range raw {
		var message chat.Message
		if err := json.Unmarshal([]byte(item), &message); err != nil {
			continue
		}
		messages = append(messages, message)
	}
	return messages
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func messagesKey(sessionID string) string {
	return fmt.Sprintf("session:%s:messages", sessionID)
}

func sequenceKey(sessionID string) string {
	return fmt.Sprintf("session:%s:seq", sessionID)
}
