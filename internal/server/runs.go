package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run is a grading in flight.
type Run struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"questionId"`
	Transport  string    `json:"transport"` // "http" or "websocket"
	StartedAt  time.Time `json:"startedAt"`

	cancel context.CancelFunc
}

// RunTracker tracks in-flight gradings so they can be listed and cancelled.
type RunTracker struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunTracker creates an empty tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{
		runs: make(map[string]*Run),
	}
}

// Start registers a run and returns a context that is cancelled by Cancel,
// CloseAll or the parent. Callers must call Finish with the run's ID.
func (rt *RunTracker) Start(parent context.Context, questionID, transport string) (context.Context, *Run) {
	ctx, cancel := context.WithCancel(parent)
	run := &Run{
		ID:         uuid.New().String(),
		QuestionID: questionID,
		Transport:  transport,
		StartedAt:  time.Now().UTC(),
		cancel:     cancel,
	}

	rt.mu.Lock()
	rt.runs[run.ID] = run
	rt.mu.Unlock()
	return ctx, run
}

// Finish removes a run and releases its context.
func (rt *RunTracker) Finish(id string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if run, ok := rt.runs[id]; ok {
		run.cancel()
		delete(rt.runs, id)
	}
}

// Get returns a run if it is in flight.
func (rt *RunTracker) Get(id string) (*Run, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	run, ok := rt.runs[id]
	return run, ok
}

// List returns in-flight runs, oldest first.
func (rt *RunTracker) List() []Run {
	rt.mu.RLock()
	out := make([]Run, 0, len(rt.runs))
	for _, run := range rt.runs {
		out = append(out, *run)
	}
	rt.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Cancel aborts a run. It reports false if no such run is in flight.
func (rt *RunTracker) Cancel(id string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	run, ok := rt.runs[id]
	if ok {
		run.cancel()
	}
	return ok
}

// CloseAll cancels every run.
func (rt *RunTracker) CloseAll() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for id, run := range rt.runs {
		run.cancel()
		delete(rt.runs, id)
	}
}
