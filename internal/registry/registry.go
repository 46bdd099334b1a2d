// Package registry owns task existence and the task status state machine.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kadrio/idphoto/pkg/models"
)

// Registry is a thread-safe, in-memory map of task id to task record. It is
// the only component allowed to mutate tasks; callers get copies. The mutex
// is held for map work only, never across I/O.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	now   func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Registry with an injectable clock.
func NewWithClock(now func() time.Time) *Registry {
	return &Registry{tasks: make(map[string]*models.Task), now: now}
}

type updateParams struct {
	errorMessage     string
	resultFile       string
	warnings         []string
	validationErrors []string
}

// UpdateOption attaches result metadata to a status transition.
type UpdateOption func(*updateParams)

func WithErrorMessage(msg string) UpdateOption {
	return func(p *updateParams) { p.errorMessage = msg }
}

func WithResultFile(name string) UpdateOption {
	return func(p *updateParams) { p.resultFile = name }
}

func WithWarnings(warnings []string) UpdateOption {
	return func(p *updateParams) { p.warnings = warnings }
}

func WithValidationErrors(errs []string) UpdateOption {
	return func(p *updateParams) { p.validationErrors = errs }
}

// Create allocates a new pending task and returns a copy of the record.
func (r *Registry) Create(sessionID, filename, documentType, userID string, authenticated bool) models.Task {
	now := r.now().UTC()
	t := &models.Task{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Filename:      filename,
		DocumentType:  documentType,
		UserID:        userID,
		Authenticated: authenticated,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()

	return snapshot(t)
}

// Get returns a copy of the task, or false if the id is unknown.
func (r *Registry) Get(id string) (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return snapshot(t), true
}

// UpdateStatus applies a status transition with its timestamp bookkeeping.
// It returns false when the id is unknown or the transition would move the
// state machine backwards.
func (r *Registry) UpdateStatus(id string, status models.Status, opts ...UpdateOption) bool {
	var p updateParams
	for _, opt := range opts {
		opt(&p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || !validTransition(t.Status, status) {
		return false
	}

	now := r.now().UTC()
	t.Status = status
	t.UpdatedAt = now

	switch status {
	case models.StatusProcessing:
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
	case models.StatusCompleted:
		completed := now
		t.CompletedAt = &completed
		t.ResultFile = p.resultFile
		if t.StartedAt != nil {
			t.ProcessingTime = completed.Sub(*t.StartedAt).Seconds()
		}
	case models.StatusFailed:
		completed := now
		t.CompletedAt = &completed
		t.ErrorMessage = p.errorMessage
		if t.StartedAt != nil {
			t.ProcessingTime = completed.Sub(*t.StartedAt).Seconds()
		}
	}

	if len(p.warnings) > 0 {
		t.Warnings = append([]string(nil), p.warnings...)
	}
	if len(p.validationErrors) > 0 {
		t.ValidationErrors = append([]string(nil), p.validationErrors...)
	}
	return true
}

// Remove deletes a task record outright. Used when a task could not be
// handed to the dispatcher and should leave no trace.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)
	return true
}

// BySession returns copies of all tasks for a session, oldest first.
func (r *Registry) BySession(sessionID string) []models.Task {
	return r.collect(func(t *models.Task) bool { return t.SessionID == sessionID })
}

// ByUser returns copies of all tasks created by a user, oldest first.
func (r *Registry) ByUser(userID string) []models.Task {
	return r.collect(func(t *models.Task) bool { return userID != "" && t.UserID == userID })
}

// EvictOlderThan removes tasks created before now-maxAge and returns how many
// were removed.
func (r *Registry) EvictOlderThan(maxAge time.Duration) int {
	cutoff := r.now().UTC().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.tasks {
		if t.CreatedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// ClearSession removes every task for a session and returns the count.
func (r *Registry) ClearSession(sessionID string) int {
	return r.clear(func(t *models.Task) bool { return t.SessionID == sessionID })
}

// ClearUser removes every task created by a user and returns the count.
func (r *Registry) ClearUser(userID string) int {
	return r.clear(func(t *models.Task) bool { return userID != "" && t.UserID == userID })
}

// Stats returns aggregate counters over a consistent snapshot of the map.
func (r *Registry) Stats() models.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s models.Stats
	for _, t := range r.tasks {
		s.Total++
		switch t.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusProcessing:
			s.Processing++
		case models.StatusCompleted:
			s.Completed++
		case models.StatusFailed:
			s.Failed++
		}
		if t.Authenticated {
			s.Authenticated++
		} else {
			s.Anonymous++
		}
	}
	return s
}

func (r *Registry) collect(match func(*models.Task) bool) []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Task
	for _, t := range r.tasks {
		if match(t) {
			out = append(out, snapshot(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) clear(match func(*models.Task) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.tasks {
		if match(t) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

func validTransition(from, to models.Status) bool {
	switch from {
	case models.StatusPending:
		return to == models.StatusProcessing
	case models.StatusProcessing:
		return to == models.StatusCompleted || to == models.StatusFailed
	default:
		return false
	}
}

func snapshot(t *models.Task) models.Task {
	c := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	if t.Warnings != nil {
		c.Warnings = append([]string(nil), t.Warnings...)
	}
	if t.ValidationErrors != nil {
		c.ValidationErrors = append([]string(nil), t.ValidationErrors...)
	}
	return c
}
