// Package supervisor implements the execution supervisor: the ingest
// flow, the dispatch flow, and the execution unit that together bind the
// broker source, priority scheduler, admission gate, and handler
// registry into one worker pipeline.
package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/taskqueue/internal/admission"
	"github.com/hrygo/taskqueue/internal/broker"
	"github.com/hrygo/taskqueue/internal/handlers"
	"github.com/hrygo/taskqueue/internal/logging"
	"github.com/hrygo/taskqueue/internal/scheduler"
	"github.com/hrygo/taskqueue/internal/store"
	"github.com/hrygo/taskqueue/internal/task"
)

// Metrics is the subset of internal/metrics.Exporter the supervisor
// reports to. Optional: a nil Metrics disables reporting.
type Metrics interface {
	SetSchedulerDepth(n int)
	SetInFlight(n int)
	ObserveCompleted(taskType string, attempts int)
	ObserveFailed(taskType string, attempts int)
	ObserveHandlerDuration(taskType string, seconds float64)
}

// pollInterval is how long the dispatch flow sleeps when the scheduler is
// empty.
const pollInterval = 100 * time.Millisecond

// Source is the subset of broker.Source the supervisor consumes, so
// tests can substitute an in-memory fake.
type Source interface {
	Consume(ctx context.Context, consumerTag string) (<-chan broker.Delivery, error)
}

// Supervisor drives one worker's pipeline: consume, classify, schedule,
// admit, execute, finalize.
type Supervisor struct {
	source   Source
	store    store.Store
	sched    *scheduler.Scheduler
	gate     *admission.Gate
	registry handlers.Registry
	workerID string
	log      *slog.Logger
	metrics  Metrics
	inFlight int64
	execWG   sync.WaitGroup
}

// New constructs a Supervisor ready to Run.
func New(source Source, st store.Store, registry handlers.Registry, workerID string) *Supervisor {
	return &Supervisor{
		source:   source,
		store:    st,
		sched:    scheduler.New(),
		gate:     admission.New(),
		registry: registry,
		workerID: workerID,
		log:      logging.ForWorker(logging.Default(), workerID),
	}
}

// WithMetrics attaches a Metrics sink and returns s for chaining.
func (s *Supervisor) WithMetrics(m Metrics) *Supervisor {
	s.metrics = m
	return s
}

// Run starts the ingest and dispatch flows and blocks until ctx is
// cancelled. Graceful shutdown stops accepting new deliveries and lets
// in-flight executions complete before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	deliveries, err := s.source.Consume(ctx, s.workerID)
	if err != nil {
		return errors.Wrap(err, "start consumer")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.ingest(ctx, deliveries)
	}()
	go func() {
		defer wg.Done()
		s.dispatch(ctx)
	}()
	wg.Wait()
	s.execWG.Wait()
	return nil
}

// ingest repeatedly pulls deliveries, decodes them, and offers them to
// the scheduler.
func (s *Supervisor) ingest(ctx context.Context, deliveries <-chan broker.Delivery) {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			s.ingestOne(ctx, d)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) ingestOne(ctx context.Context, d broker.Delivery) {
	var msg task.Message
	if err := json.Unmarshal(d.Body(), &msg); err != nil {
		// Poison-pill policy: un-parsable messages would loop forever,
		// so drop them.
		s.log.Error("failed to decode delivery, dropping", "error", err.Error())
		if ackErr := d.Ack(); ackErr != nil {
			s.log.Error("failed to ack undecodable delivery", "error", ackErr.Error())
		}
		return
	}

	s.sched.Offer(&scheduler.ScheduledTask{
		Priority: msg.PriorityOrDefault(),
		Delivery: d,
		Message:  msg,
	})
	if s.metrics != nil {
		s.metrics.SetSchedulerDepth(s.sched.Len())
	}
}

// dispatch polls the scheduler, admits, and spawns execution units.
func (s *Supervisor) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		st, ok := s.sched.Poll()
		if !ok {
			select {
			case <-time.After(pollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.SetSchedulerDepth(s.sched.Len())
		}

		if err := s.gate.Acquire(ctx); err != nil {
			// Context cancelled while waiting for a permit; the
			// delivery was already popped from the scheduler, so nack
			// it back to the broker rather than losing it.
			_ = st.Delivery.Nack()
			return
		}

		// Execution units run on a context detached from shutdown
		// cancellation: stopping the supervisor stops new dispatches
		// but lets work already admitted run to completion.
		s.execWG.Add(1)
		go func() {
			defer s.execWG.Done()
			s.execute(context.WithoutCancel(ctx), st)
		}()
	}
}

// execute is the execution unit: run the handler for one delivery, then
// finalize.
func (s *Supervisor) execute(ctx context.Context, st *scheduler.ScheduledTask) {
	log := logging.ForTask(s.log, st.Message.TaskID, st.Message.TaskType)
	defer s.gate.Release()
	n := atomic.AddInt64(&s.inFlight, 1)
	if s.metrics != nil {
		s.metrics.SetInFlight(int(n))
	}
	defer func() {
		n := atomic.AddInt64(&s.inFlight, -1)
		if s.metrics != nil {
			s.metrics.SetInFlight(int(n))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("execution panic, treating as failure", "panic", r)
			s.finalize(ctx, st, errors.Errorf("panic: %v", r))
		}
	}()

	handler, ok := s.registry.Lookup(st.Message.TaskType)
	if !ok {
		s.finalize(ctx, st, errors.New("unknown task type"))
		return
	}

	id, idErr := uuid.Parse(st.Message.TaskID)
	if idErr == nil {
		if err := s.store.SetStatus(ctx, id, task.StatusRunning); err != nil {
			log.Error("failed to set running status", "error", err.Error())
		}
		if err := s.store.Heartbeat(ctx, s.workerID, "busy", &id); err != nil {
			log.Error("failed to heartbeat worker", "error", err.Error())
		}
	}

	start := time.Now()
	err := handler(ctx, s.store, s.workerID, st.Message)
	if s.metrics != nil {
		s.metrics.ObserveHandlerDuration(st.Message.TaskType, time.Since(start).Seconds())
	}

	if idErr == nil {
		if hbErr := s.store.Heartbeat(ctx, s.workerID, "idle", nil); hbErr != nil {
			log.Error("failed to heartbeat worker", "error", hbErr.Error())
		}
	}

	s.finalize(ctx, st, err)
}

func (s *Supervisor) finalize(ctx context.Context, st *scheduler.ScheduledTask, runErr error) {
	log := logging.ForTask(s.log, st.Message.TaskID, st.Message.TaskType)

	if runErr == nil {
		id, err := uuid.Parse(st.Message.TaskID)
		if err != nil {
			log.Error("cannot finalize success: bad task id", "error", err.Error())
			_ = st.Delivery.Nack()
			return
		}
		if err := s.store.SetProgress(ctx, id, 100); err != nil {
			log.Error("failed to set final progress", "error", err.Error())
		}
		if err := s.store.SetStatus(ctx, id, task.StatusCompleted); err != nil {
			log.Error("failed to set completed status", "error", err.Error())
		}
		if err := st.Delivery.Ack(); err != nil {
			log.Error("failed to ack delivery", "error", err.Error())
		}
		if s.metrics != nil {
			// The attempt counter advanced once per prior failed run,
			// so a success after retries reports the real count, not
			// zero.
			attempts := 0
			if t, err := s.store.Get(ctx, id); err == nil {
				attempts = t.Attempts
			}
			s.metrics.ObserveCompleted(st.Message.TaskType, attempts)
		}
		return
	}

	log.Error("execution failed", "error", runErr.Error())

	id, parseErr := uuid.Parse(st.Message.TaskID)
	if parseErr != nil {
		// Without a valid task ID there is nothing to bump or mark;
		// let the broker redeliver the whole message.
		_ = st.Delivery.Nack()
		return
	}

	attempts, err := s.store.BumpAttempts(ctx, id)
	if err != nil {
		// If bumping the attempt counter itself fails, nack and let
		// broker redelivery retry the whole execution.
		log.Error("failed to bump attempts", "error", err.Error())
		_ = st.Delivery.Nack()
		return
	}

	if attempts < task.MaxAttempts {
		log.Warn("retrying task", "attempts", attempts)
		if err := st.Delivery.Nack(); err != nil {
			log.Error("failed to nack delivery for retry", "error", err.Error())
		}
		return
	}

	log.Error("max attempts reached, marking failed", "attempts", attempts)
	if err := s.store.SetStatus(ctx, id, task.StatusFailed); err != nil {
		log.Error("failed to set failed status", "error", err.Error())
	}
	if err := st.Delivery.Ack(); err != nil {
		log.Error("failed to ack terminally-failed delivery", "error", err.Error())
	}
	if s.metrics != nil {
		s.metrics.ObserveFailed(st.Message.TaskType, attempts)
	}
}
