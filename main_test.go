package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamly-chat/chatsync"
	"teamly-chat/remote"
	"teamly-chat/utils"
	"teamly-chat/viewmodel"
)

func TestOpenBackendBolt(t *testing.T) {
	cfg := utils.BackendConfig{
		Kind:    utils.BackendBolt,
		Bolt:    utils.BoltConfig{Path: filepath.Join(t.TempDir(), "chat.db")},
		Breaker: utils.BreakerConfig{Enabled: true, MaxFailures: 3},
	}
	source, closer, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer closer()

	_, ok := source.(*remote.BreakerSource)
	assert.True(t, ok)

	msg, err := source.SendMessage(context.Background(), "team-1", "me", "ciao")
	require.NoError(t, err)
	messages, err := source.FetchMessages(context.Background(), chatsync.FetchQuery{ConversationID: "team-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, msg.ID, messages[0].ID)
}

func TestOpenBackendSQLite(t *testing.T) {
	cfg := utils.BackendConfig{
		Kind:     utils.BackendSQL,
		Database: utils.DatabaseConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "chat.sqlite")},
	}
	source, closer, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer closer()

	_, err = source.SendMessage(context.Background(), "team-1", "me", "ciao")
	require.NoError(t, err)
}

func TestOpenBackendUnknown(t *testing.T) {
	_, _, err := openBackend(context.Background(), utils.BackendConfig{Kind: "ftp"})
	assert.Error(t, err)
}

func TestTerminalRenderer(t *testing.T) {
	var out bytes.Buffer
	r := &terminalRenderer{out: &out}
	sentAt := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

	r.Render(viewmodel.RowUpdate{
		Kind:           viewmodel.UpdateReplaceAll,
		ConversationID: "team-1",
		Rows: []viewmodel.Row{
			{MessageID: "m1", SenderID: "anna", Body: "ciao", SentAt: sentAt, TimeLabel: "09:30", DayLabel: "10/05/2024"},
			{MessageID: "m2", SenderID: "me", Body: "eccomi", SentAt: sentAt, TimeLabel: "09:30", IsOwn: true},
		},
	})
	r.Render(viewmodel.RowUpdate{Kind: viewmodel.UpdateAuthExpired, Error: "sessione non valida"})

	text := out.String()
	assert.Contains(t, text, "── 10/05/2024 ──")
	assert.Contains(t, text, "[09:30] anna: ciao")
	assert.Contains(t, text, "[09:30] tu: eccomi")
	assert.Contains(t, text, "Sessione scaduta")
}

func TestHandleInput(t *testing.T) {
	cfg := utils.BackendConfig{Kind: utils.BackendBolt, Bolt: utils.BoltConfig{Path: filepath.Join(t.TempDir(), "chat.db")}}
	source, closer, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer closer()

	var out bytes.Buffer
	syncer := chatsync.NewSynchronizer(source, chatsync.Options{Interval: time.Hour}, nil)
	vm := viewmodel.New(syncer, source, &terminalRenderer{out: &out}, viewmodel.Options{SenderID: "me", Optimistic: true, Location: time.UTC})
	defer func() {
		vm.Close()
		<-syncer.Done()
	}()
	require.NoError(t, vm.Open(context.Background(), "team-1"))

	assert.False(t, handleInput(context.Background(), vm, "ciao a tutti", &out))
	assert.False(t, handleInput(context.Background(), vm, "   ", &out))
	assert.False(t, handleInput(context.Background(), vm, "/reload", &out))
	assert.True(t, handleInput(context.Background(), vm, "/quit", &out))

	assert.Contains(t, out.String(), "tu: ciao a tutti")
	require.Len(t, vm.Rows(), 1)
}
