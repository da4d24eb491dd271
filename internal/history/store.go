// Package history persists run records in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName        = "sqlite"
	historyDirectoryMode    = 0o755
	defaultListLimit        = 20
	openErrorTemplate       = "open run history %s: %w"
	initializeErrorTemplate = "initialize run history schema: %w"
	recordErrorTemplate     = "record run %s: %w"
	listErrorTemplate       = "list run history: %w"
	schemaStatement         = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		exit_code INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS task_results (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		node TEXT NOT NULL,
		status TEXT NOT NULL,
		hash TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, node)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	insertRunStatement  = "INSERT INTO runs (run_id, command, started_at, finished_at, exit_code) VALUES (?, ?, ?, ?, ?)"
	insertTaskStatement = "INSERT INTO task_results (run_id, node, status, hash, duration_ms) VALUES (?, ?, ?, ?, ?)"
	selectRunsStatement = "SELECT run_id, command, started_at, finished_at, exit_code FROM runs ORDER BY started_at DESC, run_id LIMIT ?"
	selectTaskStatement = "SELECT node, status, hash, duration_ms FROM task_results WHERE run_id = ? ORDER BY node"
)

// ErrRunIDMissing indicates a run record without an identifier.
var ErrRunIDMissing = errors.New("run record has no identifier")

// TaskRecord is the outcome of one task node within a run.
type TaskRecord struct {
	Node     string
	Status   string
	Hash     string
	Duration time.Duration
}

// RunRecord summarizes one invocation.
type RunRecord struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Tasks      []TaskRecord
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// SQLiteStore implements run history on SQLite.
type SQLiteStore struct {
	database *sql.DB
	mutex    sync.RWMutex
}

// OpenSQLiteStore opens or creates the database at path. ":memory:" keeps the history in memory.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if mkdirError := os.MkdirAll(filepath.Dir(path), historyDirectoryMode); mkdirError != nil {
			return nil, fmt.Errorf(openErrorTemplate, path, mkdirError)
		}
	}
	database, openError := sql.Open(sqliteDriverName, path)
	if openError != nil {
		return nil, fmt.Errorf(openErrorTemplate, path, openError)
	}
	database.SetMaxOpenConns(1)

	store := &SQLiteStore{database: database}
	if _, schemaError := database.Exec(schemaStatement); schemaError != nil {
		_ = database.Close()
		return nil, fmt.Errorf(initializeErrorTemplate, schemaError)
	}
	return store, nil
}

// Close releases the database.
func (store *SQLiteStore) Close() error {
	return store.database.Close()
}

// Record stores the run and its task results in one transaction.
func (store *SQLiteStore) Record(executionContext context.Context, run RunRecord) error {
	if len(run.ID) == 0 {
		return ErrRunIDMissing
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	transaction, beginError := store.database.BeginTx(executionContext, nil)
	if beginError != nil {
		return fmt.Errorf(recordErrorTemplate, run.ID, beginError)
	}
	defer func() {
		_ = transaction.Rollback()
	}()

	if _, insertError := transaction.ExecContext(executionContext, insertRunStatement,
		run.ID, run.Command, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.ExitCode,
	); insertError != nil {
		return fmt.Errorf(recordErrorTemplate, run.ID, insertError)
	}
	for _, task := range run.Tasks {
		if _, insertError := transaction.ExecContext(executionContext, insertTaskStatement,
			run.ID, task.Node, task.Status, task.Hash, task.Duration.Milliseconds(),
		); insertError != nil {
			return fmt.Errorf(recordErrorTemplate, run.ID, insertError)
		}
	}
	if commitError := transaction.Commit(); commitError != nil {
		return fmt.Errorf(recordErrorTemplate, run.ID, commitError)
	}
	return nil
}

// List returns the most recent runs first. A non-positive limit uses the default.
func (store *SQLiteStore) List(executionContext context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	runs, queryError := store.queryRuns(executionContext, limit)
	if queryError != nil {
		return nil, fmt.Errorf(listErrorTemplate, queryError)
	}
	for index := range runs {
		tasks, taskError := store.queryTasks(executionContext, runs[index].ID)
		if taskError != nil {
			return nil, fmt.Errorf(listErrorTemplate, taskError)
		}
		runs[index].Tasks = tasks
	}
	return runs, nil
}

func (store *SQLiteStore) queryRuns(executionContext context.Context, limit int) ([]RunRecord, error) {
	rows, queryError := store.database.QueryContext(executionContext, selectRunsStatement, limit)
	if queryError != nil {
		return nil, queryError
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var startedMillis, finishedMillis int64
		if scanError := rows.Scan(&run.ID, &run.Command, &startedMillis, &finishedMillis, &run.ExitCode); scanError != nil {
			return nil, scanError
		}
		run.StartedAt = time.UnixMilli(startedMillis)
		run.FinishedAt = time.UnixMilli(finishedMillis)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (store *SQLiteStore) queryTasks(executionContext context.Context, runID string) ([]TaskRecord, error) {
	rows, queryError := store.database.QueryContext(executionContext, selectTaskStatement, runID)
	if queryError != nil {
		return nil, queryError
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var task TaskRecord
		var durationMillis int64
		if scanError := rows.Scan(&task.Node, &task.Status, &task.Hash, &durationMillis); scanError != nil {
			return nil, scanError
		}
		task.Duration = time.Duration(durationMillis) * time.Millisecond
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
