// Package janitor reclaims expired files and stale task records on a fixed
// interval, independent of request traffic.
package janitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kadrio/idphoto/internal/registry"
	"github.com/kadrio/idphoto/internal/storage"
)

// Janitor sweeps the three storage areas and the task registry.
type Janitor struct {
	registry *registry.Registry
	dataDir  string
	fileTTL  time.Duration
	taskTTL  time.Duration
	interval time.Duration
	errRetry time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Janitor. errRetry is the shortened delay used after a cycle
// fails unexpectedly.
func New(reg *registry.Registry, dataDir string, fileTTL, taskTTL, interval, errRetry time.Duration, log *slog.Logger) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{
		registry: reg,
		dataDir:  dataDir,
		fileTTL:  fileTTL,
		taskTTL:  taskTTL,
		interval: interval,
		errRetry: errRetry,
		log:      log,
		now:      time.Now,
	}
}

// Run loops until ctx is cancelled. A panic inside one cycle is caught and
// followed by the shortened retry delay; the loop never terminates on its
// own.
func (j *Janitor) Run(ctx context.Context) {
	for {
		delay := j.interval
		if !j.sweepSafely() {
			delay = j.errRetry
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (j *Janitor) sweepSafely() (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			j.log.Error("cleanup cycle panicked", "panic", v)
			ok = false
		}
	}()
	j.Sweep()
	return true
}

// Sweep runs one cleanup cycle: registry eviction, then a walk of each
// storage area removing expired files and emptied session directories.
func (j *Janitor) Sweep() {
	if evicted := j.registry.EvictOlderThan(j.taskTTL); evicted > 0 {
		j.log.Info("evicted stale tasks", "count", evicted)
	}
	for _, area := range []string{storage.UploadsDirName, storage.OutputDirName, storage.ErrorsDirName} {
		j.sweepArea(filepath.Join(j.dataDir, area))
	}
}

func (j *Janitor) sweepArea(dir string) {
	sessions, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.log.Error("read storage area failed", "dir", dir, "error", err)
		}
		return
	}

	cutoff := j.now().Add(-j.fileTTL)
	for _, entry := range sessions {
		path := filepath.Join(dir, entry.Name())
		if !entry.IsDir() {
			j.removeIfExpired(path, entry, cutoff)
			continue
		}
		j.sweepSessionDir(path, cutoff)
	}
}

func (j *Janitor) sweepSessionDir(dir string, cutoff time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		j.log.Error("read session dir failed", "dir", dir, "error", err)
		return
	}
	for _, entry := range entries {
		j.removeIfExpired(filepath.Join(dir, entry.Name()), entry, cutoff)
	}

	// Prune the session dir itself once it is empty.
	rest, err := os.ReadDir(dir)
	if err == nil && len(rest) == 0 {
		if err := os.Remove(dir); err != nil {
			j.log.Error("remove empty session dir failed", "dir", dir, "error", err)
		}
	}
}

func (j *Janitor) removeIfExpired(path string, entry os.DirEntry, cutoff time.Time) {
	info, err := entry.Info()
	if err != nil {
		j.log.Error("stat failed during sweep", "path", path, "error", err)
		return
	}
	if info.ModTime().After(cutoff) {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		j.log.Error("remove expired file failed", "path", path, "error", err)
		return
	}
	j.log.Info("removed expired file", "path", path, "age", j.now().Sub(info.ModTime()).Round(time.Minute).String())
}
