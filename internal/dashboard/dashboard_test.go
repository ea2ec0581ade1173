package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/taskqueue/internal/store"
	"github.com/hrygo/taskqueue/internal/task"
)

type fakeQueueDepther struct {
	depth int
}

func (f fakeQueueDepther) PassiveDepth(ctx context.Context) (int, error) {
	return f.depth, nil
}

func TestSnapshotAssemblesAllSources(t *testing.T) {
	st := store.NewFake()
	ctx := context.Background()

	pendingID := uuid.New()
	require.NoError(t, st.Insert(ctx, &task.Task{ID: pendingID, TaskType: "email"}))
	require.NoError(t, st.AppendLog(ctx, "worker-1", "hello"))
	require.NoError(t, st.RegisterWorker(ctx, "worker-1", "idle", nil))

	d := New(st, fakeQueueDepther{depth: 7})
	snap, err := d.Snapshot(ctx)
	require.NoError(t, err)

	assert.Len(t, snap.Workers, 1)
	assert.Len(t, snap.Pending, 1)
	assert.Len(t, snap.Logs, 1)
	assert.Equal(t, 7, snap.QueueDepth)
}

func TestStreamEmitsPeriodically(t *testing.T) {
	SnapshotInterval = time.Millisecond
	defer func() { SnapshotInterval = 2 * time.Second }()

	st := store.NewFake()
	d := New(st, fakeQueueDepther{depth: 0})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots := d.Stream(ctx)
	select {
	case <-snapshots:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
	}
}
