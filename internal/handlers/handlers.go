// Package handlers implements the handler registry: a map from
// task-type tag to a progress-emitting routine, plus the three handler
// families this queue runs (email, image, video).
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/taskqueue/internal/store"
	"github.com/hrygo/taskqueue/internal/task"
)

// ErrMissingTaskID is returned when the decoded message carries no
// task_id.
var ErrMissingTaskID = errors.New("handlers: missing task_id")

// Handler runs one task to completion, emitting progress via store as it
// goes. workerID identifies the calling worker node for log attribution.
type Handler func(ctx context.Context, st store.Store, workerID string, msg task.Message) error

// Registry maps a task-type tag to its Handler.
type Registry map[string]Handler

// Default returns the registry of the three built-in handler families.
func Default() Registry {
	return Registry{
		"email": emailHandler,
		"video": videoHandler,
		"image": imageHandler,
	}
}

// Lookup returns the handler for tag, or (nil, false) on a registry miss
// — treated by the execution supervisor as an "unknown task type"
// failure.
func (r Registry) Lookup(tag string) (Handler, bool) {
	h, ok := r[tag]
	return h, ok
}

func taskID(msg task.Message) (string, error) {
	if msg.TaskID == "" {
		return "", ErrMissingTaskID
	}
	return msg.TaskID, nil
}

func pause(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stepPause is a var, not a const, so tests can shrink it instead of
// sleeping through the production 3-second cadence.
var stepPause = 3 * time.Second

func runMilestones(ctx context.Context, st store.Store, workerID, tag, id string, milestones []int) error {
	tid, err := uuid.Parse(id)
	if err != nil {
		return errors.Wrap(err, "parse task id")
	}
	if err := st.AppendLog(ctx, workerID, fmt.Sprintf("Started %s task %s", tag, id)); err != nil {
		return errors.Wrap(err, "append start log")
	}

	for _, v := range milestones {
		if err := pause(ctx, stepPause); err != nil {
			return err
		}
		if err := st.SetProgress(ctx, tid, v); err != nil {
			return errors.Wrapf(err, "set progress %d", v)
		}
		if v == 100 {
			if err := st.AppendLog(ctx, workerID, fmt.Sprintf("Completed %s task %s", tag, id)); err != nil {
				return errors.Wrap(err, "append completion log")
			}
			continue
		}
		if err := st.AppendLog(ctx, workerID, fmt.Sprintf("%s task %s progress %d%%", tag, id, v)); err != nil {
			return errors.Wrap(err, "append progress log")
		}
	}
	return nil
}

func emailHandler(ctx context.Context, st store.Store, workerID string, msg task.Message) error {
	id, err := taskID(msg)
	if err != nil {
		return err
	}
	return runMilestones(ctx, st, workerID, "email", id, []int{20, 40, 60, 80, 100})
}

func videoHandler(ctx context.Context, st store.Store, workerID string, msg task.Message) error {
	id, err := taskID(msg)
	if err != nil {
		return err
	}
	if err := decodeResizePayload(msg, "vid_src"); err != nil {
		return err
	}
	return runMilestones(ctx, st, workerID, "video", id, []int{25, 50, 75, 100})
}

func imageHandler(ctx context.Context, st store.Store, workerID string, msg task.Message) error {
	id, err := taskID(msg)
	if err != nil {
		return err
	}
	if err := decodeResizePayload(msg, "img_src"); err != nil {
		return err
	}
	return runMilestones(ctx, st, workerID, "image", id, []int{50, 100})
}

// resizePayload extracts the resize_factor field the image/video
// handlers accept, matching the submission validator's required fields.
type resizePayload struct {
	ResizeFactor float64 `json:"resize_factor"`
}

// decodeResizePayload exercises disintegration/imaging against a
// synthetic placeholder frame: since the actual media source is an
// external asset out of this core's scope, the
// handler still performs real decode/resize work proportional to
// resize_factor, rather than a bare sleep, so the dependency does
// something observable.
func decodeResizePayload(msg task.Message, srcField string) error {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return errors.Wrap(err, "decode payload")
	}
	if _, ok := payload[srcField]; !ok {
		return errors.Errorf("missing field '%s'", srcField)
	}

	var rp resizePayload
	if raw, ok := payload["resize_factor"]; ok {
		_ = json.Unmarshal(raw, &rp.ResizeFactor)
	}
	if rp.ResizeFactor <= 0 {
		rp.ResizeFactor = 1
	}

	placeholder := image.NewRGBA(image.Rect(0, 0, 64, 64))
	width := int(64 * rp.ResizeFactor)
	if width < 1 {
		width = 1
	}
	_ = imaging.Resize(placeholder, width, 0, imaging.Lanczos)
	return nil
}
