package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/pii-mask/internal/handles"
	"github.com/example/pii-mask/internal/logging"
	"github.com/example/pii-mask/internal/maskservice"
)

// Event is one input to the controller's state machine.
type Event interface {
	isEvent()
}

// FileSelected carries the new input together with the preview handle acquired for it.
// PreviewErr is set when the handle could not be created.
type FileSelected struct {
	File       SelectedFile
	Preview    handles.Handle
	PreviewErr error
}

type SubmitRequested struct{}

// ResponseArrived carries the outcome of the request issued for Attempt. On success the
// result bytes are already behind Handle, or StoreErr says why they are not.
type ResponseArrived struct {
	Attempt  uint64
	Result   *maskservice.Result
	Err      error
	Handle   handles.Handle
	StoreErr error
}

type DownloadRequested struct{}

type ResetRequested struct{}

func (FileSelected) isEvent()      {}
func (SubmitRequested) isEvent()   {}
func (ResponseArrived) isEvent()   {}
func (DownloadRequested) isEvent() {}
func (ResetRequested) isEvent()    {}

// outbound is the single request a SubmitRequested event asks for.
type outbound struct {
	attempt   uint64
	requestID string
	file      maskservice.File
}

// effect is what the caller of dispatch has to carry out after the lock is dropped.
type effect struct {
	send *outbound
	save *Artifact

	// release lists handles that left the state and must be freed.
	release []handles.Handle

	// discarded is set when a ResponseArrived was stale.
	discarded bool
}

// dispatch applies ev and returns the follow-up work plus the resulting state. Handles
// dropped by the transition are released after the lock is given up.
func (c *Controller) dispatch(ctx context.Context, ev Event) (effect, Snapshot) {
	c.mu.Lock()
	eff := c.apply(ev)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	for _, h := range eff.release {
		if err := c.table.Release(ctx, h); err != nil {
			c.logger.Warn("failed to release handle", zap.String("handle", h.String()), zap.Error(err))
		}
	}
	return eff, snap
}

// apply is the transition function. c.mu must be held; it performs no I/O.
func (c *Controller) apply(ev Event) effect {
	var eff effect
	switch ev := ev.(type) {
	case FileSelected:
		c.attempt++
		eff.release = c.dropResultLocked(eff.release)
		eff.release = c.dropPreviewLocked(eff.release)

		file := ev.File
		c.file = &file
		if ev.PreviewErr != nil {
			c.logger.Warn("failed to create preview handle", zap.String("file", file.Name), zap.Error(ev.PreviewErr))
		}
		c.preview = ev.Preview
		c.errMsg = ""
		c.status = StatusIdle

	case SubmitRequested:
		if c.status == StatusSubmitting {
			return eff
		}
		if c.file == nil {
			c.errMsg = MessageNoFileSelected
			return eff
		}
		c.attempt++
		eff.release = c.dropResultLocked(eff.release)
		c.errMsg = ""
		c.status = StatusSubmitting
		eff.send = &outbound{
			attempt:   c.attempt,
			requestID: uuid.NewString(),
			file: maskservice.File{
				Name:        c.file.Name,
				ContentType: c.file.ContentType,
				Data:        c.file.Data,
			},
		}

	case ResponseArrived:
		if ev.Attempt != c.attempt || c.status != StatusSubmitting {
			c.logger.Debug("discarding stale response",
				zap.Uint64("response_attempt", ev.Attempt), zap.Uint64("current_attempt", c.attempt))
			eff.discarded = true
			if ev.Handle != "" {
				eff.release = append(eff.release, ev.Handle)
			}
			return eff
		}
		if ev.Err != nil || ev.Result == nil {
			c.status = StatusFailed
			c.errMsg = failureMessage(ev.Err)
			return eff
		}
		if ev.StoreErr != nil || ev.Handle == "" {
			c.logger.Error("failed to create result handle", zap.Uint64("attempt", ev.Attempt), zap.Error(ev.StoreErr))
			c.status = StatusFailed
			c.errMsg = MessageStoreFailed
			return eff
		}

		c.result = &Artifact{
			Handle:      ev.Handle,
			Filename:    c.opts.Resolver.Resolve(ev.Result.ContentDisposition, c.opts.DefaultName),
			ContentType: ev.Result.ContentType,
			Size:        len(ev.Result.Data),
		}
		c.status = StatusSucceeded

	case DownloadRequested:
		if c.result != nil {
			artifact := *c.result
			eff.save = &artifact
		}

	case ResetRequested:
		c.attempt++
		eff.release = c.dropResultLocked(eff.release)
		eff.release = c.dropPreviewLocked(eff.release)
		c.file = nil
		c.errMsg = ""
		c.status = StatusIdle
	}
	return eff
}

func (c *Controller) dropResultLocked(release []handles.Handle) []handles.Handle {
	if c.result == nil {
		return release
	}
	release = append(release, c.result.Handle)
	c.result = nil
	return release
}

func (c *Controller) dropPreviewLocked(release []handles.Handle) []handles.Handle {
	if c.preview == "" {
		return release
	}
	release = append(release, c.preview)
	c.preview = ""
	return release
}

func failureMessage(err error) string {
	if err == nil {
		return MessageProcessingFailed
	}
	var statusErr *maskservice.StatusError
	if errors.As(err, &statusErr) {
		return MessageProcessingFailed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MessageTimedOut
	}

	cause := err
	var opErr *logging.OperationError
	if errors.As(err, &opErr) && opErr.Err != nil {
		cause = opErr.Err
	}
	return fmt.Sprintf("%s (%v)", MessageProcessingFailed, cause)
}
