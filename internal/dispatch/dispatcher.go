// Package dispatch runs the external processing operation on a bounded
// worker pool, off the request path, and translates outcomes into registry
// status updates.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kadrio/idphoto/internal/registry"
	"github.com/kadrio/idphoto/internal/storage"
	"github.com/kadrio/idphoto/pkg/models"
)

// Result carries the non-fatal diagnostics of one processing run. Fatal
// failures are reported through the error return of Process.
type Result struct {
	Warnings []string
	Errors   []string
}

// Processor is the external image transformation. It writes zero or one
// output file into outputDir; diagnostic copies may land in errorDir.
type Processor interface {
	Process(ctx context.Context, inputPath, outputDir, errorDir string, params models.DocumentParams) (Result, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, inputPath, outputDir, errorDir string, params models.DocumentParams) (Result, error)

func (f ProcessorFunc) Process(ctx context.Context, inputPath, outputDir, errorDir string, params models.DocumentParams) (Result, error) {
	return f(ctx, inputPath, outputDir, errorDir, params)
}

var (
	// ErrQueueFull is returned by Submit when the job queue is saturated.
	ErrQueueFull = errors.New("job queue full")
	// ErrClosed is returned by Submit after Close has been called.
	ErrClosed = errors.New("dispatcher closed")
)

type job struct {
	taskID    string
	sessionID string
	inputPath string
	params    models.DocumentParams
}

// Dispatcher owns the worker pool. One failing or panicking job never
// affects other queued jobs or the pool itself.
type Dispatcher struct {
	registry *registry.Registry
	files    *storage.Store
	proc     Processor
	log      *slog.Logger

	jobs      chan job
	workers   *errgroup.Group
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts a dispatcher with the given number of workers and queue
// capacity. Workers run until Close.
func New(reg *registry.Registry, files *storage.Store, proc Processor, workers, queueSize int, log *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers
	}
	if log == nil {
		log = slog.Default()
	}

	d := &Dispatcher{
		registry: reg,
		files:    files,
		proc:     proc,
		log:      log,
		jobs:     make(chan job, queueSize),
		workers:  new(errgroup.Group),
	}
	for i := 0; i < workers; i++ {
		d.workers.Go(func() error {
			for j := range d.jobs {
				d.run(j)
			}
			return nil
		})
	}
	return d
}

// Submit enqueues processing work for a task. It never blocks: when the
// queue is full the caller gets ErrQueueFull and decides what to tell the
// client.
func (d *Dispatcher) Submit(task models.Task, inputPath string, params models.DocumentParams) error {
	if d.closed.Load() {
		return ErrClosed
	}
	select {
	case d.jobs <- job{taskID: task.ID, sessionID: task.SessionID, inputPath: inputPath, params: params}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops intake, drains queued jobs, and waits for workers to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.jobs)
	})
	_ = d.workers.Wait()
}

func (d *Dispatcher) run(j job) {
	defer func() {
		if v := recover(); v != nil {
			d.log.Error("processing panic", "task_id", j.taskID, "panic", v)
			d.registry.UpdateStatus(j.taskID, models.StatusFailed,
				registry.WithErrorMessage(fmt.Sprintf("processing failed: %v", v)))
		}
	}()

	d.registry.UpdateStatus(j.taskID, models.StatusProcessing)

	_, outputDir, errorDir, err := d.files.SessionFolders(j.sessionID)
	if err != nil {
		d.log.Error("session storage unavailable", "task_id", j.taskID, "error", err)
		d.registry.UpdateStatus(j.taskID, models.StatusFailed,
			registry.WithErrorMessage("session storage unavailable: "+err.Error()))
		return
	}

	d.log.Info("processing started", "task_id", j.taskID, "session_id", j.sessionID, "input", j.inputPath)
	res, procErr := d.proc.Process(context.Background(), j.inputPath, outputDir, errorDir, j.params)

	var opts []registry.UpdateOption
	if len(res.Warnings) > 0 {
		opts = append(opts, registry.WithWarnings(res.Warnings))
	}
	if len(res.Errors) > 0 {
		opts = append(opts, registry.WithValidationErrors(res.Errors))
	}

	if procErr == nil {
		if latest, ok := d.files.LatestOutput(j.sessionID); ok {
			d.registry.UpdateStatus(j.taskID, models.StatusCompleted,
				append(opts, registry.WithResultFile(latest))...)
			d.log.Info("processing completed", "task_id", j.taskID, "result_file", latest)
			return
		}
		procErr = errors.New("no output file produced")
	} else {
		procErr = fmt.Errorf("processing step failed: %w", procErr)
	}

	d.log.Error("processing failed", "task_id", j.taskID, "error", procErr)
	d.registry.UpdateStatus(j.taskID, models.StatusFailed,
		append(opts, registry.WithErrorMessage(procErr.Error()))...)
}
