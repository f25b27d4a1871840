package chat

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

func TestMessageModelConversion(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	original := chat.Message{
		ID:        7,
		SessionID: "s1",
		Author:    chat.AuthorAgent,
		Content:   "Markets rose.",
		Status:    chat.StatusSent,
		CreatedAt: created,
	}

	model := toMessageModel(original)
	assert.Equal(t, "agent", model.Author)
	assert.Equal(t, "sent", model.Status)
	assert.Equal(t, original, model.toDomain())
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := OpenPostgres(dsn)
	require.NoError(t, err)
	store := NewPostgresStore(db)
	ctx := context.Background()

	session, err := store.CreateSession(ctx)
	require.NoError(t, err)
	defer store.DeleteSession(ctx, session.ID)

	first, err := store.SaveMessage(ctx, chat.Message{SessionID: session.ID, Author: chat.AuthorUser, Content: "ping"})
	require.NoError(t, err)
	second, err := store.SaveMessage(ctx, chat.Message{SessionID: session.ID, Author: chat.AuthorAgent, Content: "pong"})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	saved, err := store.SaveExchange(ctx,
		chat.Message{SessionID: session.ID, Author: chat.AuthorUser, Content: "ping again"},
		chat.Message{SessionID: session.ID, Author: chat.AuthorAgent, Content: "pong again"},
	)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Greater(t, saved[1].ID, saved[0].ID)

	messages, err := store.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "ping", messages[0].Content)
	assert.Equal(t, "pong", messages[1].Content)
	assert.Equal(t, "pong again", messages[3].Content)

	require.NoError(t, store.DeleteSession(ctx, session.ID))
	assert.ErrorIs(t, store.DeleteSession(ctx, session.ID), ErrSessionNotFound)
}
