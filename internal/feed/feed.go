// Package feed implements the event feed emitter: polls task state and
// emits change events for SSE subscribers.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/taskqueue/internal/logging"
	"github.com/hrygo/taskqueue/internal/store"
	"github.com/hrygo/taskqueue/internal/task"
)

// PollInterval is how often the feed reads task state. A var, not a
// const, so tests can shrink it.
var PollInterval = 2 * time.Second

// Event is the JSON shape emitted to subscribers.
type Event struct {
	TaskID   string      `json:"task_id"`
	Status   task.Status `json:"status"`
	Progress int         `json:"progress"`
}

// Feed polls a Store for one task's status and progress.
type Feed struct {
	store store.Store
}

// New returns a Feed backed by st.
func New(st store.Store) *Feed {
	return &Feed{store: st}
}

// Stream emits one Event every PollInterval for taskID, for as long as
// ctx is live. Emission rule: when status != pending, emit the event;
// while pending, emit nothing; a missing task or a store read error
// also emits nothing (errors are logged and the loop continues). The
// channel closes when ctx is cancelled.
func (f *Feed) Stream(ctx context.Context, taskID uuid.UUID) <-chan Event {
	out := make(chan Event)
	log := logging.FromContext(ctx)

	go func() {
		defer close(out)
		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t, err := f.store.Get(ctx, taskID)
				if err != nil {
					if err != store.ErrNotFound {
						log.Error("feed: read failed", "task_id", taskID, "error", err.Error())
					}
					continue
				}
				if t.Status == task.StatusPending {
					continue
				}
				select {
				case out <- Event{TaskID: t.ID.String(), Status: t.Status, Progress: t.Progress}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Marshal renders an Event as the JSON payload for one SSE "data:" line.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}
