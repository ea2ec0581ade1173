package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hrygo/taskqueue/internal/task"
)

// Fake is an in-memory Store used by tests in place of a real Postgres
// instance, the way the supervisor's own unit tests avoid a live broker
// and database.
type Fake struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*task.Task
	workers map[string]*task.WorkerNode
	logs    []*task.LogEntry
}

// NewFake returns an empty in-memory store.
func NewFake() *Fake {
	return &Fake{
		tasks:   make(map[uuid.UUID]*task.Task),
		workers: make(map[string]*task.WorkerNode),
	}
}

func (f *Fake) Close() error { return nil }

func (f *Fake) Insert(_ context.Context, t *task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.Priority == 0 {
		t.Priority = task.DefaultPriority
	}
	now := nowUTC()
	t.Status = task.StatusPending
	t.Progress = 0
	t.Attempts = 0
	t.CreatedAt = now
	t.UpdatedAt = now
	cp := *t
	f.tasks[t.ID] = &cp
	return nil
}

func (f *Fake) SetProgress(_ context.Context, id uuid.UUID, v int) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("set progress %s: value %d out of [0,100]", id, v)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if v < t.Progress {
		return ErrProgressRegression
	}
	t.Progress = v
	t.UpdatedAt = nowUTC()
	return nil
}

func (f *Fake) SetStatus(_ context.Context, id uuid.UUID, s task.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = s
	t.UpdatedAt = nowUTC()
	return nil
}

func (f *Fake) BumpAttempts(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return 0, ErrNotFound
	}
	t.Attempts++
	t.UpdatedAt = nowUTC()
	return t.Attempts, nil
}

func (f *Fake) Get(_ context.Context, id uuid.UUID) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *Fake) AppendLog(_ context.Context, workerID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, &task.LogEntry{Timestamp: nowUTC(), WorkerNodeID: workerID, Message: message})
	return nil
}

func (f *Fake) RegisterWorker(_ context.Context, nodeID, status string, currentTaskID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[nodeID] = &task.WorkerNode{NodeID: nodeID, Status: status, LastHealthCheck: nowUTC(), CurrentTaskID: currentTaskID}
	return nil
}

func (f *Fake) Heartbeat(ctx context.Context, nodeID, status string, currentTaskID *uuid.UUID) error {
	return f.RegisterWorker(ctx, nodeID, status, currentTaskID)
}

func (f *Fake) ListWorkers(_ context.Context) ([]*task.WorkerNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*task.WorkerNode, 0, len(f.workers))
	for _, w := range f.workers {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) ListPending(_ context.Context, limit int) ([]*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*task.Task
	for _, t := range f.tasks {
		if t.Status == task.StatusPending {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortTasksByCreatedAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) TailLogs(_ context.Context, limit int) ([]*task.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.logs)
	start := 0
	if limit > 0 && n > limit {
		start = n - limit
	}
	out := make([]*task.LogEntry, 0, n-start)
	for i := n - 1; i >= start; i-- {
		out = append(out, f.logs[i])
	}
	return out, nil
}

func sortTasksByCreatedAt(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
