package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/taskqueue/internal/broker"
	"github.com/hrygo/taskqueue/internal/handlers"
	"github.com/hrygo/taskqueue/internal/store"
	"github.com/hrygo/taskqueue/internal/task"
)

// fakeDelivery is an in-memory broker.Delivery for tests.
type fakeDelivery struct {
	body   []byte
	acked  *int32
	nacked *int32
	wg     *sync.WaitGroup
}

func (d fakeDelivery) Body() []byte { return d.body }
func (d fakeDelivery) Ack() error {
	atomic.AddInt32(d.acked, 1)
	if d.wg != nil {
		d.wg.Done()
	}
	return nil
}
func (d fakeDelivery) Nack() error {
	atomic.AddInt32(d.nacked, 1)
	if d.wg != nil {
		d.wg.Done()
	}
	return nil
}

// fakeSource hands a fixed slice of deliveries to the first Consume call.
type fakeSource struct {
	deliveries []broker.Delivery
}

func (f *fakeSource) Consume(ctx context.Context, consumerTag string) (<-chan broker.Delivery, error) {
	out := make(chan broker.Delivery, len(f.deliveries))
	for _, d := range f.deliveries {
		out <- d
	}
	go func() {
		<-ctx.Done()
	}()
	return out, nil
}

func encodeMsg(t *testing.T, msg task.Message) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

func TestSupervisorCompletesSuccessfulTask(t *testing.T) {
	st := store.NewFake()
	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), &task.Task{ID: id, TaskType: "email"}))

	var wg sync.WaitGroup
	wg.Add(1)
	var acked, nacked int32
	msg := task.Message{TaskID: id.String(), TaskType: "email", Payload: json.RawMessage(`{"from":"a@example.com","to":"b@example.com","subject":"hi","content":"body"}`)}
	d := fakeDelivery{body: encodeMsg(t, msg), acked: &acked, nacked: &nacked, wg: &wg}

	registry := handlers.Registry{
		"email": func(ctx context.Context, st store.Store, workerID string, msg task.Message) error {
			return nil
		},
	}

	src := &fakeSource{deliveries: []broker.Delivery{d}}
	sup := New(src, st, registry, "worker-1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sup.Run(ctx) }()

	waitOrTimeout(t, &wg)
	cancel()

	assert.Equal(t, int32(1), atomic.LoadInt32(&acked))
	assert.Equal(t, int32(0), atomic.LoadInt32(&nacked))

	got, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestSupervisorRetriesThenFails(t *testing.T) {
	st := store.NewFake()
	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), &task.Task{ID: id, TaskType: "email"}))

	var wg sync.WaitGroup
	wg.Add(task.MaxAttempts)
	var acked, nacked int32
	msg := task.Message{TaskID: id.String(), TaskType: "email"}

	deliveries := make([]broker.Delivery, 0, task.MaxAttempts)
	for i := 0; i < task.MaxAttempts; i++ {
		deliveries = append(deliveries, fakeDelivery{body: encodeMsg(t, msg), acked: &acked, nacked: &nacked, wg: &wg})
	}

	registry := handlers.Registry{
		"email": func(ctx context.Context, st store.Store, workerID string, msg task.Message) error {
			return assert.AnError
		},
	}

	src := &fakeSource{deliveries: deliveries}
	sup := New(src, st, registry, "worker-1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sup.Run(ctx) }()

	waitOrTimeout(t, &wg)
	cancel()

	assert.Equal(t, int32(1), atomic.LoadInt32(&acked))
	assert.Equal(t, int32(task.MaxAttempts-1), atomic.LoadInt32(&nacked))

	got, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, task.MaxAttempts, got.Attempts)
}

func TestSupervisorUnknownTaskType(t *testing.T) {
	st := store.NewFake()
	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), &task.Task{ID: id, TaskType: "pdf"}))

	var wg sync.WaitGroup
	wg.Add(1)
	var acked, nacked int32
	msg := task.Message{TaskID: id.String(), TaskType: "pdf"}
	d := fakeDelivery{body: encodeMsg(t, msg), acked: &acked, nacked: &nacked, wg: &wg}

	src := &fakeSource{deliveries: []broker.Delivery{d}}
	sup := New(src, st, handlers.Registry{}, "worker-1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sup.Run(ctx) }()

	waitOrTimeout(t, &wg)
	cancel()

	assert.Equal(t, int32(1), atomic.LoadInt32(&nacked))
}

func TestSupervisorSchedulesNonIntegerPriority(t *testing.T) {
	st := store.NewFake()
	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), &task.Task{ID: id, TaskType: "email"}))

	var wg sync.WaitGroup
	wg.Add(1)
	var acked, nacked int32
	// A priority that is present but not an integer falls back to the
	// default instead of poisoning the message.
	body := []byte(`{"task_id":"` + id.String() + `","task_type":"email","priority":"urgent"}`)
	d := fakeDelivery{body: body, acked: &acked, nacked: &nacked, wg: &wg}

	registry := handlers.Registry{
		"email": func(ctx context.Context, st store.Store, workerID string, msg task.Message) error {
			return nil
		},
	}

	src := &fakeSource{deliveries: []broker.Delivery{d}}
	sup := New(src, st, registry, "worker-1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sup.Run(ctx) }()

	waitOrTimeout(t, &wg)
	cancel()

	assert.Equal(t, int32(1), atomic.LoadInt32(&acked))
	assert.Equal(t, int32(0), atomic.LoadInt32(&nacked))

	got, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestSupervisorDropsUndecodableDelivery(t *testing.T) {
	st := store.NewFake()

	var wg sync.WaitGroup
	wg.Add(1)
	var acked, nacked int32
	d := fakeDelivery{body: []byte("not json"), acked: &acked, nacked: &nacked, wg: &wg}

	src := &fakeSource{deliveries: []broker.Delivery{d}}
	sup := New(src, st, handlers.Registry{}, "worker-1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sup.Run(ctx) }()

	waitOrTimeout(t, &wg)
	cancel()

	assert.Equal(t, int32(1), atomic.LoadInt32(&acked))
}

func TestSupervisorDispatchesAllAdmittedTasks(t *testing.T) {
	st := store.NewFake()

	var completed int32
	var wg sync.WaitGroup
	wg.Add(3)

	registry := handlers.Registry{
		"email": func(ctx context.Context, st store.Store, workerID string, msg task.Message) error {
			atomic.AddInt32(&completed, 1)
			return nil
		},
	}

	var acked, nacked int32
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, st.Insert(context.Background(), &task.Task{ID: id, TaskType: "email"}))
	}
	priorities := []int{1, 5, 9}
	deliveries := make([]broker.Delivery, 0, len(ids))
	for i, id := range ids {
		p := priorities[i]
		deliveries = append(deliveries, fakeDelivery{
			body:   encodeMsg(t, task.Message{TaskID: id.String(), TaskType: "email", Priority: &p}),
			acked:  &acked,
			nacked: &nacked,
			wg:     &wg,
		})
	}

	src := &fakeSource{deliveries: deliveries}
	sup := New(src, st, registry, "worker-1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sup.Run(ctx) }()

	waitOrTimeout(t, &wg)
	cancel()

	assert.Equal(t, int32(3), atomic.LoadInt32(&completed))
	assert.Equal(t, int32(3), atomic.LoadInt32(&acked))
	assert.Equal(t, int32(0), atomic.LoadInt32(&nacked))
	for _, id := range ids {
		got, err := st.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, got.Status)
	}
}

func TestSupervisorSetsRunningStatusWhileHandlerInFlight(t *testing.T) {
	st := store.NewFake()
	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), &task.Task{ID: id, TaskType: "email"}))

	inHandler := make(chan struct{})
	release := make(chan struct{})
	registry := handlers.Registry{
		"email": func(ctx context.Context, st store.Store, workerID string, msg task.Message) error {
			close(inHandler)
			<-release
			return nil
		},
	}

	msg := task.Message{TaskID: id.String(), TaskType: "email"}
	var acked, nacked int32
	d := fakeDelivery{body: encodeMsg(t, msg), acked: &acked, nacked: &nacked}

	src := &fakeSource{deliveries: []broker.Delivery{d}}
	sup := New(src, st, registry, "worker-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	select {
	case <-inHandler:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler to start")
	}

	got, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)

	workers, err := st.ListWorkers(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "busy", workers[0].Status)
	require.NotNil(t, workers[0].CurrentTaskID)
	assert.Equal(t, id, *workers[0].CurrentTaskID)

	close(release)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for supervisor to process deliveries")
	}
}
