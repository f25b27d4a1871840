package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

type sessionModel struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	CreatedAt time.Time
}

func (sessionModel) TableName() string { return "chat_sessions" }

type messageModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"type:varchar(64);index;not null"`
	Author    string `gorm:"type:varchar(16);not null"`
	Content   string `gorm:"type:text;not null"`
	Status    string `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time
}

func (messageModel) TableName() string { return "chat_messages" }

func toMessageModel(m chat.Message) *messageModel {
	return &messageModel{
		ID:        m.ID,
		SessionID: m.SessionID,
		Author:    string(m.Author),
		Content:   m.Content,
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

func (m *messageModel) toDomain() chat.Message {
	return chat.Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		Author:    chat.Author(m.Author),
		Content:   m.Content,
		Status:    chat.Status(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
	}
}

// PostgresStore persists sessions and messages through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the chat tables.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&sessionModel{}, &messageModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate chat tables: %w", err)
	}
	return db, nil
}

// NewPostgresStore wraps an already migrated connection.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) CreateSession(ctx context.Context) (chat.Session, error) {
	model := &sessionModel{ID: newSessionID(), CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return chat.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return chat.Session{ID: model.ID, CreatedAt: model.CreatedAt}, nil
}

func (r *PostgresStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var model sessionModel
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Session{}, ErrSessionNotFound
		}
		return chat.Session{}, fmt.Errorf("failed to find session: %w", err)
	}
	return chat.Session{ID: model.ID, CreatedAt: model.CreatedAt.UTC()}, nil
}

func (r *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&messageModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		result := tx.Where("id = ?", sessionID).Delete(&sessionModel{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

func (r *PostgresStore) SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if err := validateMessage(message); err != nil {
		return chat.Message{}, err
	}

	saved, err := r.create(ctx, message)
	if err != nil {
		return chat.Message{}, err
	}
	return saved[0], nil
}

// SaveExchange inserts both turns inside one transaction.
func (r *PostgresStore) SaveExchange(ctx context.Context, user, agent chat.Message) ([]chat.Message, error) {
	if err := validateExchange(user, agent); err != nil {
		return nil, err
	}
	return r.create(ctx, user, agent)
}

// create locks the session row so concurrent exchanges on one session
// receive contiguous ids.
func (r *PostgresStore) create(ctx context.Context, messages ...chat.Message) ([]chat.Message, error) {
	now := time.Now().UTC()
	saved := make([]chat.Message, 0, len(messages))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session sessionModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", messages[0].SessionID).
			First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}

		for _, message := range messages {
			model := toMessageModel(withDefaults(message, now))
			model.ID = 0
			if err := tx.Create(model).Error; err != nil {
				return fmt.Errorf("failed to create message: %w", err)
			}
			saved = append(saved, model.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *PostgresStore) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	var models []*messageModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id asc").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	messages := make([]chat.Message, len(models))
	for i, model := range models {
		messages[i] = model.toDomain()
	}
	return messages, nil
}
