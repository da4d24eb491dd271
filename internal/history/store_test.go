package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/history"
)

func TestSQLiteStoreRecordAndList(testInstance *testing.T) {
	store, openError := history.OpenSQLiteStore(filepath.Join(testInstance.TempDir(), "state", "history.db"))
	require.NoError(testInstance, openError)
	defer store.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := history.RunRecord{
		ID:         history.NewRunID(),
		Command:    "run build",
		StartedAt:  base,
		FinishedAt: base.Add(2 * time.Second),
		ExitCode:   1,
		Tasks: []history.TaskRecord{
			{Node: "lib:build", Status: "failed", Hash: "bb", Duration: 1200 * time.Millisecond},
			{Node: "core:build", Status: "success", Hash: "aa", Duration: 800 * time.Millisecond},
		},
	}
	newer := history.RunRecord{
		ID:         history.NewRunID(),
		Command:    "run test --filter core",
		StartedAt:  base.Add(time.Minute),
		FinishedAt: base.Add(time.Minute + time.Second),
		ExitCode:   0,
	}
	require.NoError(testInstance, store.Record(context.Background(), older))
	require.NoError(testInstance, store.Record(context.Background(), newer))

	runs, listError := store.List(context.Background(), 10)
	require.NoError(testInstance, listError)
	require.Len(testInstance, runs, 2)

	require.Equal(testInstance, newer.ID, runs[0].ID)
	require.Empty(testInstance, runs[0].Tasks)
	require.True(testInstance, newer.StartedAt.Equal(runs[0].StartedAt))

	require.Equal(testInstance, older.ID, runs[1].ID)
	require.Equal(testInstance, 1, runs[1].ExitCode)
	require.Equal(testInstance, "run build", runs[1].Command)
	require.Equal(testInstance, []history.TaskRecord{
		{Node: "core:build", Status: "success", Hash: "aa", Duration: 800 * time.Millisecond},
		{Node: "lib:build", Status: "failed", Hash: "bb", Duration: 1200 * time.Millisecond},
	}, runs[1].Tasks)

	limited, limitError := store.List(context.Background(), 1)
	require.NoError(testInstance, limitError)
	require.Len(testInstance, limited, 1)
	require.Equal(testInstance, newer.ID, limited[0].ID)
}

func TestSQLiteStoreRejectsInvalidRecords(testInstance *testing.T) {
	store, openError := history.OpenSQLiteStore(":memory:")
	require.NoError(testInstance, openError)
	defer store.Close()

	require.ErrorIs(testInstance, store.Record(context.Background(), history.RunRecord{}), history.ErrRunIDMissing)

	run := history.RunRecord{ID: history.NewRunID(), StartedAt: time.Now(), FinishedAt: time.Now()}
	require.NoError(testInstance, store.Record(context.Background(), run))
	require.Error(testInstance, store.Record(context.Background(), run))

	runs, listError := store.List(context.Background(), 0)
	require.NoError(testInstance, listError)
	require.Len(testInstance, runs, 1)
}

func TestNewRunIDIsUUID(testInstance *testing.T) {
	first := history.NewRunID()
	_, parseError := uuid.Parse(first)
	require.NoError(testInstance, parseError)
	require.NotEqual(testInstance, first, history.NewRunID())
}
