package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadrio/idphoto/internal/dispatch"
	"github.com/kadrio/idphoto/internal/registry"
	"github.com/kadrio/idphoto/internal/storage"
	"github.com/kadrio/idphoto/pkg/models"
)

const testSessionID = "dispatch-test-001"

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	return storage.New(t.TempDir(), 10, 25*1024*1024, nil)
}

// writeOutput is a Processor that drops one file into outputDir.
func writeOutput(name string, res dispatch.Result) dispatch.ProcessorFunc {
	return func(_ context.Context, _, outputDir, _ string, _ models.DocumentParams) (dispatch.Result, error) {
		if err := os.WriteFile(filepath.Join(outputDir, name), []byte("out"), 0o644); err != nil {
			return res, err
		}
		return res, nil
	}
}

// waitTerminal polls until the task reaches a terminal status.
func waitTerminal(t *testing.T, reg *registry.Registry, taskID string) models.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := reg.Get(taskID); ok && task.Status.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal status", taskID)
	return models.Task{}
}

func TestDispatcher_CompletesTask(t *testing.T) {
	reg := registry.New()
	files := newStore(t)
	proc := writeOutput("result.jpg", dispatch.Result{Warnings: []string{"output will be upscaled"}})

	d := dispatch.New(reg, files, proc, 2, 8, nil)
	defer d.Close()

	task := reg.Create(testSessionID, "in.jpg", "id_card", "", false)
	require.NoError(t, d.Submit(task, "/tmp/in.jpg", models.DocumentParams{}))

	done := waitTerminal(t, reg, task.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, "result.jpg", done.ResultFile)
	assert.Equal(t, []string{"output will be upscaled"}, done.Warnings)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
}

func TestDispatcher_ProcessorErrorFailsTask(t *testing.T) {
	reg := registry.New()
	d := dispatch.New(reg, newStore(t), dispatch.ProcessorFunc(
		func(_ context.Context, _, _, _ string, _ models.DocumentParams) (dispatch.Result, error) {
			return dispatch.Result{Errors: []string{"no face detected"}}, errors.New("boom")
		}), 1, 4, nil)
	defer d.Close()

	task := reg.Create(testSessionID, "in.jpg", "id_card", "", false)
	require.NoError(t, d.Submit(task, "/tmp/in.jpg", models.DocumentParams{}))

	done := waitTerminal(t, reg, task.ID)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "processing step failed")
	assert.Contains(t, done.ErrorMessage, "boom")
	assert.Equal(t, []string{"no face detected"}, done.ValidationErrors)
}

func TestDispatcher_NoOutputFailsTask(t *testing.T) {
	reg := registry.New()
	d := dispatch.New(reg, newStore(t), dispatch.ProcessorFunc(
		func(_ context.Context, _, _, _ string, _ models.DocumentParams) (dispatch.Result, error) {
			return dispatch.Result{}, nil
		}), 1, 4, nil)
	defer d.Close()

	task := reg.Create(testSessionID, "in.jpg", "id_card", "", false)
	require.NoError(t, d.Submit(task, "/tmp/in.jpg", models.DocumentParams{}))

	done := waitTerminal(t, reg, task.ID)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "no output file produced")
}

func TestDispatcher_PanicIsIsolated(t *testing.T) {
	reg := registry.New()
	files := newStore(t)

	var calls atomic.Int32
	proc := dispatch.ProcessorFunc(
		func(_ context.Context, _, outputDir, _ string, _ models.DocumentParams) (dispatch.Result, error) {
			if calls.Add(1) == 1 {
				panic("bad pixel math")
			}
			return dispatch.Result{}, os.WriteFile(filepath.Join(outputDir, "ok.jpg"), []byte("x"), 0o644)
		})

	d := dispatch.New(reg, files, proc, 1, 4, nil)
	defer d.Close()

	first := reg.Create(testSessionID, "a.jpg", "id_card", "", false)
	require.NoError(t, d.Submit(first, "/tmp/a.jpg", models.DocumentParams{}))
	failed := waitTerminal(t, reg, first.ID)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "bad pixel math")

	// The pool survives and keeps serving.
	second := reg.Create("dispatch-test-002", "b.jpg", "id_card", "", false)
	require.NoError(t, d.Submit(second, "/tmp/b.jpg", models.DocumentParams{}))
	ok := waitTerminal(t, reg, second.ID)
	assert.Equal(t, models.StatusCompleted, ok.Status)
}

func TestDispatcher_QueueFull(t *testing.T) {
	reg := registry.New()
	files := newStore(t)

	release := make(chan struct{})
	proc := dispatch.ProcessorFunc(
		func(_ context.Context, _, outputDir, _ string, _ models.DocumentParams) (dispatch.Result, error) {
			<-release
			return dispatch.Result{}, os.WriteFile(filepath.Join(outputDir, "out.jpg"), []byte("x"), 0o644)
		})

	d := dispatch.New(reg, files, proc, 1, 1, nil)
	defer d.Close()
	defer close(release)

	// One job occupies the worker, one sits in the queue; the next must be
	// rejected without blocking.
	var err error
	rejected := false
	for i := 0; i < 3; i++ {
		task := reg.Create(testSessionID, fmt.Sprintf("p%d.jpg", i), "id_card", "", false)
		if err = d.Submit(task, "/tmp/p.jpg", models.DocumentParams{}); err != nil {
			rejected = true
			break
		}
	}
	assert.True(t, rejected)
	assert.ErrorIs(t, err, dispatch.ErrQueueFull)
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	reg := registry.New()
	d := dispatch.New(reg, newStore(t), writeOutput("out.jpg", dispatch.Result{}), 1, 4, nil)
	d.Close()

	task := reg.Create(testSessionID, "in.jpg", "id_card", "", false)
	assert.ErrorIs(t, d.Submit(task, "/tmp/in.jpg", models.DocumentParams{}), dispatch.ErrClosed)

	// Close is idempotent.
	d.Close()
}

func TestDispatcher_BoundedConcurrency(t *testing.T) {
	reg := registry.New()
	files := newStore(t)

	const workers = 3
	var current, peak atomic.Int32
	var mu sync.Mutex

	proc := dispatch.ProcessorFunc(
		func(_ context.Context, _, outputDir, _ string, _ models.DocumentParams) (dispatch.Result, error) {
			n := current.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return dispatch.Result{}, os.WriteFile(filepath.Join(outputDir, "out.jpg"), []byte("x"), 0o644)
		})

	d := dispatch.New(reg, files, proc, workers, 32, nil)

	var ids []string
	for i := 0; i < 12; i++ {
		task := reg.Create(fmt.Sprintf("dispatch-conc-%03d", i), "p.jpg", "id_card", "", false)
		require.NoError(t, d.Submit(task, "/tmp/p.jpg", models.DocumentParams{}))
		ids = append(ids, task.ID)
	}
	d.Close() // drains the queue and waits for the workers

	for _, id := range ids {
		task, ok := reg.Get(id)
		require.True(t, ok)
		assert.True(t, task.Status.Terminal(), "task %s left in %s", id, task.Status)
	}
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	reg := registry.New()
	d := dispatch.New(reg, newStore(t), writeOutput("out.jpg", dispatch.Result{}), 2, 16, nil)

	var ids []string
	for i := 0; i < 8; i++ {
		task := reg.Create(testSessionID, fmt.Sprintf("p%d.jpg", i), "id_card", "", false)
		require.NoError(t, d.Submit(task, "/tmp/p.jpg", models.DocumentParams{}))
		ids = append(ids, task.ID)
	}
	d.Close()

	for _, id := range ids {
		task, _ := reg.Get(id)
		assert.True(t, task.Status.Terminal())
	}
}
