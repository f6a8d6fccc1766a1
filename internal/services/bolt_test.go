package services_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/services"
	"github.com/stretchr/testify/require"
)

func TestBoltDBRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := services.NewBoltDB(path)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	msgs, err := db.Messages(ctx)
	require.NoError(t, err)
	require.Empty(t, msgs)

	pending := models.NewBotMessage("", now)
	pending.State = models.StatePending

	var saved []models.Message
	for i := range 12 {
		saved = append(saved, models.NewUserMessage(string(rune('a'+i)), now))
	}
	require.NoError(t, db.SaveMessages(ctx, append(saved, pending)))
	require.NoError(t, db.Close())

	db, err = services.NewBoltDB(path)
	require.NoError(t, err)
	defer db.Close()

	msgs, err = db.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, len(saved))
	for i := range saved {
		require.Equal(t, saved[i].ID, msgs[i].ID)
		require.Equal(t, saved[i].Text, msgs[i].Text)
		require.True(t, msgs[i].IsUser)
		require.True(t, saved[i].Time.Equal(msgs[i].Time))
		require.Equal(t, models.StateFinal, msgs[i].State)
	}
}

func TestBoltDBSaveReplaces(t *testing.T) {
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.SaveMessages(ctx, []models.Message{
		models.Greeting(time.Now()),
		models.NewUserMessage("old", time.Now()),
	}))
	require.NoError(t, db.SaveMessages(ctx, []models.Message{models.Greeting(time.Now())}))

	msgs, err := db.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, models.GreetingText, msgs[0].Text)
	require.False(t, msgs[0].IsUser)
}
