// Package store provides the task store adapter: idempotent reads and
// writes of task status, progress, attempt count, and append-only log
// lines, plus the read helpers the dashboard snapshot needs.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/taskqueue/internal/task"
)

// ErrNotFound is returned by Get when no task with the given ID exists.
var ErrNotFound = errors.New("task: not found")

// ErrProgressRegression is returned by SetProgress when the caller
// attempts to write a progress value lower than the one already stored.
// Stored progress never decreases: this implementation rejects a
// regressive write rather than silently clamping it.
var ErrProgressRegression = errors.New("task: progress regression rejected")

// Store is the interface the execution supervisor, handlers, event feed,
// and dashboard snapshot all depend on. One concrete adapter,
// *PostgresStore, satisfies it; tests use the in-memory Fake.
type Store interface {
	// Insert atomically creates a row with status pending, progress 0,
	// attempts 0.
	Insert(ctx context.Context, t *task.Task) error

	// SetProgress sets progress and updated-at. Rejects v outside [0,100]
	// and rejects regression (v less than the stored value) by returning
	// ErrProgressRegression without mutating the row.
	SetProgress(ctx context.Context, id uuid.UUID, v int) error

	// SetStatus transitions status and updated-at. The store does not
	// enforce transition legality; callers are responsible.
	SetStatus(ctx context.Context, id uuid.UUID, s task.Status) error

	// BumpAttempts atomically increments attempts and returns the
	// post-increment value.
	BumpAttempts(ctx context.Context, id uuid.UUID) (int, error)

	// Get is a point read. Returns ErrNotFound when id is unknown.
	Get(ctx context.Context, id uuid.UUID) (*task.Task, error)

	// AppendLog is an unconditional insert into the log table.
	AppendLog(ctx context.Context, workerID, message string) error

	// RegisterWorker upserts a worker node's presence and health-check
	// timestamp, optionally recording its current task.
	RegisterWorker(ctx context.Context, nodeID, status string, currentTaskID *uuid.UUID) error

	// Heartbeat refreshes a worker's last-health-check timestamp and
	// status.
	Heartbeat(ctx context.Context, nodeID, status string, currentTaskID *uuid.UUID) error

	// ListWorkers returns all known worker nodes.
	ListWorkers(ctx context.Context) ([]*task.WorkerNode, error)

	// ListPending returns up to limit pending tasks ordered by creation
	// time, oldest first.
	ListPending(ctx context.Context, limit int) ([]*task.Task, error)

	// TailLogs returns up to limit of the most recent log entries.
	TailLogs(ctx context.Context, limit int) ([]*task.LogEntry, error)

	Close() error
}

// nowUTC returns the current wall-clock time in UTC, the timestamp every
// store write records.
func nowUTC() time.Time { return time.Now().UTC() }
