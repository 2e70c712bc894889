// Package workflow drives one user's select → submit → download cycle against the
// masking service.
//
// All mutations go through a single transition function under one lock, so events are
// handled one at a time. The request to the service runs outside the lock; its response
// is applied only if no newer attempt, selection or reset happened in the meantime.
package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/pii-mask/internal/filename"
	"github.com/example/pii-mask/internal/handles"
	"github.com/example/pii-mask/internal/logging"
	"github.com/example/pii-mask/internal/maskservice"
)

var (
	// ErrNoResult is returned by Download when there is nothing to save.
	ErrNoResult = errors.New("no masked image available")
	// ErrUnknownHandle is returned by Open for handles this controller does not own.
	ErrUnknownHandle = errors.New("handle not owned by workflow")
)

// Saver writes a downloaded artifact somewhere the user chose.
type Saver interface {
	Save(ctx context.Context, name string, blob handles.Blob) error
}

type Options struct {
	// DefaultName is the fallback result filename. Empty means DefaultResultName.
	DefaultName string
	Resolver    filename.Resolver
	// RequestTimeout bounds a single request. Zero leaves it unbounded.
	RequestTimeout time.Duration
	// Metrics, when set, receives one record per settled attempt.
	Metrics *Metrics
}

type Controller struct {
	client maskservice.Client
	table  *handles.Table
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	status  Status
	errMsg  string
	file    *SelectedFile
	preview handles.Handle
	result  *Artifact
	// attempt advances on every submit, selection and reset; responses tagged with an
	// older value are dropped.
	attempt uint64
}

func New(client maskservice.Client, table *handles.Table, logger *zap.Logger, opts Options) *Controller {
	if opts.DefaultName == "" {
		opts.DefaultName = DefaultResultName
	}
	return &Controller{
		client: client,
		table:  table,
		opts:   opts,
		logger: logger.Named("workflow"),
		status: StatusIdle,
	}
}

// SelectFile replaces the selected file and clears any previous outcome. An in-flight
// request keeps running but its response will be ignored.
func (c *Controller) SelectFile(ctx context.Context, file SelectedFile) Snapshot {
	preview, err := c.table.Acquire(ctx, handles.Blob{ContentType: file.ContentType, Data: file.Data})
	_, snap := c.dispatch(ctx, FileSelected{File: file, Preview: preview, PreviewErr: err})
	c.logger.Info("file selected",
		zap.String("file", file.Name), zap.String("content_type", file.ContentType), zap.Int("bytes", len(file.Data)))
	return snap
}

// Submit sends the selected file and blocks until the outcome is known.
func (c *Controller) Submit(ctx context.Context) Snapshot {
	_, done := c.Start(ctx)
	return <-done
}

// Start begins a submission and returns the state right after it was accepted (or
// rejected) together with a channel that yields the state once the attempt settles.
// Calls made while a submission is outstanding change nothing.
func (c *Controller) Start(ctx context.Context) (Snapshot, <-chan Snapshot) {
	done := make(chan Snapshot, 1)

	eff, snap := c.dispatch(ctx, SubmitRequested{})
	if eff.send == nil {
		done <- snap
		return snap, done
	}

	go func() {
		done <- c.await(ctx, eff.send)
	}()
	return snap, done
}

func (c *Controller) await(ctx context.Context, out *outbound) Snapshot {
	opLogger := logging.ForAttempt(c.logger, "workflow.submit", out.attempt, out.requestID)
	opLogger.Info("submitting image", zap.String("file", out.file.Name), zap.Int("bytes", len(out.file.Data)))

	reqCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.opts.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
	}
	started := time.Now()
	result, err := c.client.Mask(reqCtx, out.requestID, out.file)
	cancel()
	latency := time.Since(started)

	if err != nil {
		opLogger.Warn("masking attempt failed", zap.Error(err), zap.Duration("latency", latency))
	} else {
		opLogger.Info("masking attempt returned", zap.Duration("latency", latency))
	}

	ev := ResponseArrived{Attempt: out.attempt, Result: result, Err: err}
	storeCtx := context.WithoutCancel(ctx)
	if err == nil && result != nil && c.isCurrent(out.attempt) {
		ev.Handle, ev.StoreErr = c.table.Acquire(storeCtx, handles.Blob{ContentType: result.ContentType, Data: result.Data})
	}

	eff, snap := c.dispatch(storeCtx, ev)
	c.opts.Metrics.record(snap.Status, eff.discarded, latency)
	return snap
}

// isCurrent reports whether attempt is still the one a response would be applied to.
func (c *Controller) isCurrent(attempt uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return attempt == c.attempt && c.status == StatusSubmitting
}

// Download hands the result bytes to saver under the resolved filename, or the default
// name when the resolved one is blank. State is not modified.
func (c *Controller) Download(ctx context.Context, saver Saver) error {
	eff, _ := c.dispatch(ctx, DownloadRequested{})
	if eff.save == nil {
		return ErrNoResult
	}

	blob, err := c.table.Open(ctx, eff.save.Handle)
	if err != nil {
		return logging.Wrap("workflow.download", eff.save.Handle.String(), err)
	}

	name := eff.save.Filename
	if strings.TrimSpace(name) == "" {
		name = c.opts.DefaultName
	}
	if err := saver.Save(ctx, name, blob); err != nil {
		return logging.Wrap("workflow.download", eff.save.Handle.String(), err)
	}
	c.logger.Info("result downloaded", zap.String("filename", name), zap.Int("bytes", len(blob.Data)))
	return nil
}

// Reset returns to the initial state and releases every handle.
func (c *Controller) Reset(ctx context.Context) Snapshot {
	_, snap := c.dispatch(ctx, ResetRequested{})
	return snap
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Open returns the bytes behind the current preview or result handle.
func (c *Controller) Open(ctx context.Context, h handles.Handle) (handles.Blob, error) {
	c.mu.Lock()
	owned := h != "" && (h == c.preview || (c.result != nil && h == c.result.Handle))
	c.mu.Unlock()
	if !owned {
		return handles.Blob{}, ErrUnknownHandle
	}
	return c.table.Open(ctx, h)
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status: c.status,
		Error:  c.errMsg,
	}
	if c.file != nil {
		snap.File = &FileInfo{
			Name:        c.file.Name,
			ContentType: c.file.ContentType,
			Size:        len(c.file.Data),
			Preview:     c.preview,
		}
	}
	if c.result != nil {
		result := *c.result
		snap.Result = &result
	}
	return snap
}
