package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/hrygo/taskqueue/internal/logging"
	"github.com/hrygo/taskqueue/internal/task"
)

// backoff schedule for connection establishment: initial delay 100ms,
// doubling, up to 5 attempts, the same budget the broker side uses.
const (
	initialBackoff  = 100 * time.Millisecond
	maxConnAttempts = 5
)

// PostgresStore is the Postgres-backed Store adapter. Each exported
// method does its work in a single statement against the shared
// connection pool (SetProgress reads the row back only to classify an
// update that matched nothing); no multi-statement transaction crosses
// operations.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to dsn using the lib/pq driver, retrying with
// exponential backoff (100ms initial, doubling, 5 attempts) before
// giving up. Callers treat an error here as fatal at startup.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	delay := initialBackoff
	for attempt := 1; attempt <= maxConnAttempts; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return &PostgresStore{db: db}, nil
		}
		logging.FromContext(ctx).Warn("store connect failed", "attempt", attempt, "error", err.Error())
		if attempt == maxConnAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		}
		delay *= 2
	}
	_ = db.Close()
	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", maxConnAttempts, err)
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Insert(ctx context.Context, t *task.Task) error {
	if t.Priority == 0 {
		t.Priority = task.DefaultPriority
	}
	const stmt = `INSERT INTO tasks (id, task_type, payload, status, priority, progress, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $6)`
	now := nowUTC()
	_, err := p.db.ExecContext(ctx, stmt, t.ID, t.TaskType, []byte(t.Payload), task.StatusPending, t.Priority, now)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	t.Status = task.StatusPending
	t.Progress = 0
	t.Attempts = 0
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

func (p *PostgresStore) SetProgress(ctx context.Context, id uuid.UUID, v int) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("set progress %s: value %d out of [0,100]", id, v)
	}
	const stmt = `UPDATE tasks SET progress = $1, updated_at = $2 WHERE id = $3 AND progress <= $1`
	res, err := p.db.ExecContext(ctx, stmt, v, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("set progress %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set progress %s: %w", id, err)
	}
	if n == 0 {
		// Either the task doesn't exist, or the write would regress
		// progress. Distinguish the two so callers can tell ErrNotFound
		// from ErrProgressRegression.
		existing, getErr := p.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing.Progress > v {
			return ErrProgressRegression
		}
	}
	return nil
}

func (p *PostgresStore) SetStatus(ctx context.Context, id uuid.UUID, s task.Status) error {
	const stmt = `UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := p.db.ExecContext(ctx, stmt, s, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	return nil
}

func (p *PostgresStore) BumpAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	const stmt = `UPDATE tasks SET attempts = attempts + 1, updated_at = $1 WHERE id = $2 RETURNING attempts`
	var attempts int
	err := p.db.QueryRowContext(ctx, stmt, nowUTC(), id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("bump attempts %s: %w", id, err)
	}
	return attempts, nil
}

func (p *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	const stmt = `SELECT id, task_type, payload, status, priority, progress, attempts, created_at, updated_at
		FROM tasks WHERE id = $1`
	var t task.Task
	var payload []byte
	err := p.db.QueryRowContext(ctx, stmt, id).Scan(
		&t.ID, &t.TaskType, &payload, &t.Status, &t.Priority, &t.Progress, &t.Attempts, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t.Payload = json.RawMessage(payload)
	return &t, nil
}

func (p *PostgresStore) AppendLog(ctx context.Context, workerID, message string) error {
	const stmt = `INSERT INTO logs (timestamp, worker_node_id, message) VALUES ($1, $2, $3)`
	_, err := p.db.ExecContext(ctx, stmt, nowUTC(), workerID, message)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (p *PostgresStore) RegisterWorker(ctx context.Context, nodeID, status string, currentTaskID *uuid.UUID) error {
	const stmt = `INSERT INTO worker_nodes (node_id, status, last_health_check, current_task_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_health_check = EXCLUDED.last_health_check,
			current_task_id = EXCLUDED.current_task_id`
	_, err := p.db.ExecContext(ctx, stmt, nodeID, status, nowUTC(), currentTaskID)
	if err != nil {
		return fmt.Errorf("register worker %s: %w", nodeID, err)
	}
	return nil
}

func (p *PostgresStore) Heartbeat(ctx context.Context, nodeID, status string, currentTaskID *uuid.UUID) error {
	return p.RegisterWorker(ctx, nodeID, status, currentTaskID)
}

func (p *PostgresStore) ListWorkers(ctx context.Context) ([]*task.WorkerNode, error) {
	const stmt = `SELECT node_id, status, last_health_check, current_task_id FROM worker_nodes ORDER BY last_health_check DESC`
	rows, err := p.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []*task.WorkerNode
	for rows.Next() {
		var w task.WorkerNode
		if err := rows.Scan(&w.NodeID, &w.Status, &w.LastHealthCheck, &w.CurrentTaskID); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) ListPending(ctx context.Context, limit int) ([]*task.Task, error) {
	const stmt = `SELECT id, task_type, payload, status, priority, progress, attempts, created_at, updated_at
		FROM tasks WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := p.db.QueryContext(ctx, stmt, task.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		var t task.Task
		var payload []byte
		if err := rows.Scan(&t.ID, &t.TaskType, &payload, &t.Status, &t.Priority, &t.Progress, &t.Attempts, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending task: %w", err)
		}
		t.Payload = json.RawMessage(payload)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) TailLogs(ctx context.Context, limit int) ([]*task.LogEntry, error) {
	const stmt = `SELECT timestamp, worker_node_id, message FROM logs ORDER BY timestamp DESC LIMIT $1`
	rows, err := p.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, fmt.Errorf("tail logs: %w", err)
	}
	defer rows.Close()

	var out []*task.LogEntry
	for rows.Next() {
		var l task.LogEntry
		if err := rows.Scan(&l.Timestamp, &l.WorkerNodeID, &l.Message); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return out, nil
}
