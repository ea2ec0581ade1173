// Package dashboard assembles periodic snapshots: every 2s, a single
// atomic view of workers, queued tasks, recent logs, and broker queue
// depth, handed to a UI collaborator. The rendering itself belongs to
// that collaborator; only the snapshot feeding it is built here.
package dashboard

import (
	"context"
	"time"

	"github.com/hrygo/taskqueue/internal/logging"
	"github.com/hrygo/taskqueue/internal/store"
	"github.com/hrygo/taskqueue/internal/task"
)

// SnapshotInterval is how often a new snapshot is assembled. A var, not
// a const, so tests can shrink it.
var SnapshotInterval = 2 * time.Second

const (
	pendingTaskLimit = 5
	recentLogLimit   = 20
)

// QueueDepther reports how many messages are waiting in task_queue,
// satisfied by broker.Source.PassiveDepth.
type QueueDepther interface {
	PassiveDepth(ctx context.Context) (int, error)
}

// Snapshot is the atomic value delivered to a UI collaborator.
type Snapshot struct {
	Workers    []*task.WorkerNode
	Pending    []*task.Task
	Logs       []*task.LogEntry
	QueueDepth int
	AsOf       time.Time
}

// Dashboard periodically assembles Snapshots from a Store and a broker's
// passive queue depth.
type Dashboard struct {
	store store.Store
	queue QueueDepther
}

// New returns a Dashboard backed by st and queue.
func New(st store.Store, queue QueueDepther) *Dashboard {
	return &Dashboard{store: st, queue: queue}
}

// Snapshot assembles one snapshot immediately.
func (d *Dashboard) Snapshot(ctx context.Context) (Snapshot, error) {
	workers, err := d.store.ListWorkers(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	pending, err := d.store.ListPending(ctx, pendingTaskLimit)
	if err != nil {
		return Snapshot{}, err
	}
	logs, err := d.store.TailLogs(ctx, recentLogLimit)
	if err != nil {
		return Snapshot{}, err
	}
	depth, err := d.queue.PassiveDepth(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Workers:    workers,
		Pending:    pending,
		Logs:       logs,
		QueueDepth: depth,
		AsOf:       time.Now().UTC(),
	}, nil
}

// Stream emits a fresh Snapshot every SnapshotInterval until ctx is
// cancelled. Assembly errors are logged and skip that tick rather than
// terminating the stream.
func (d *Dashboard) Stream(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot)
	log := logging.FromContext(ctx)

	go func() {
		defer close(out)
		ticker := time.NewTicker(SnapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := d.Snapshot(ctx)
				if err != nil {
					log.Error("dashboard: snapshot failed", "error", err.Error())
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
