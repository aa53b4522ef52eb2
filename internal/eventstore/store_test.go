package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/config"
	"github.com/loqalabs/loqa-meditation/internal/pipeline"
	"github.com/loqalabs/loqa-meditation/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es, err := Open(context.Background(), config.EventStoreConfig{RetentionMode: RetentionEphemeral}, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = es.Close() })
	require.NoError(t, es.Ensure())

	require.NoError(t, es.Observe(context.Background(), session.View{SessionID: "s", State: "generating"}))
	got, err := es.ListSessionTransitions(context.Background(), "s", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: RetentionSession})
	ctx := context.Background()

	require.NoError(t, es.AppendSession(ctx, "session-123"))
	require.NoError(t, es.AppendSession(ctx, "session-123"))
	require.NoError(t, es.AppendTransition(ctx, Transition{SessionID: "session-123", RequestID: 4, State: "synthesizing", ScriptChars: 42}))

	got, err := es.ListSessionTransitions(ctx, "session-123", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(4), got[0].RequestID)
	assert.Equal(t, "synthesizing", got[0].State)
	assert.Equal(t, 42, got[0].ScriptChars)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestObserveRecordsViews(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: RetentionPersistent})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	views := []session.View{
		{SessionID: "page-1", RequestID: 1, State: "generating", Flags: pipeline.Flags{IsGenerating: true}},
		{SessionID: "page-1", RequestID: 1, State: "failed", FailedStage: "synthesis", Script: "Breathe in.",
			Flags: pipeline.Flags{HasError: true, ErrorDetail: "synthesis failed: status 500"}},
	}
	for _, v := range views {
		require.NoError(t, es.Observe(ctx, v))
	}

	got, err := es.ListSessionTransitions(context.Background(), "page-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "generating", got[0].State)
	assert.Equal(t, "failed", got[1].State)
	assert.Equal(t, "synthesis", got[1].FailedStage)
	assert.Equal(t, "synthesis failed: status 500", got[1].Detail)
	assert.Equal(t, len("Breathe in."), got[1].ScriptChars)
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: RetentionPersistent, RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, es.AppendSession(ctx, "old-session"))
	require.NoError(t, es.AppendTransition(ctx, Transition{SessionID: "old-session", State: "idle"}))

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, es.AppendSession(ctx, "new-session"))
	require.NoError(t, es.Prune(ctx))

	got, err := es.ListSessionTransitions(ctx, "old-session", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
