package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ControlResult is the envelope every control operation returns.
type ControlResult struct {
	Status  string `json:"status"` // "ok" | "error"
	Message string `json:"message"`
}

func ok(format string, args ...interface{}) ControlResult {
	return ControlResult{Status: "ok", Message: fmt.Sprintf(format, args...)}
}

func controlErr(format string, args ...interface{}) ControlResult {
	return ControlResult{Status: "error", Message: fmt.Sprintf(format, args...)}
}

// StartWatcher starts the folder watcher. Idempotent: starting a running
// watcher reports ok.
func (o *Orchestrator) StartWatcher() ControlResult {
	o.mu.Lock()
	w := o.watcher
	o.mu.Unlock()
	if w == nil {
		return controlErr("no watcher configured")
	}
	if w.Running() {
		return ok("watcher already running")
	}
	if err := w.Start(); err != nil {
		return controlErr("failed to start watcher: %v", err)
	}
	return ok("watcher started")
}

// StopWatcher stops the folder watcher. Idempotent.
func (o *Orchestrator) StopWatcher() ControlResult {
	o.mu.Lock()
	w := o.watcher
	o.mu.Unlock()
	if w == nil {
		return controlErr("no watcher configured")
	}
	if !w.Running() {
		return ok("watcher already stopped")
	}
	w.Stop()
	return ok("watcher stopped")
}

// AbortSubmission flags an in-flight submission to stop at the next phase
// boundary. The pipeline finishes the phase it is in, records status
// "aborted" and routes the file to the errors folder. A submission that is
// not in flight (unknown, or already finished) cannot be aborted.
func (o *Orchestrator) AbortSubmission(submissionID string) ControlResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range o.inflight {
		if id == submissionID {
			o.aborts[submissionID] = true
			return ok("abort requested for submission %s", submissionID)
		}
	}
	return controlErr("submission %s is not in flight", submissionID)
}

// ProcessPending synchronously runs every file currently in incoming that is
// not already in flight. Used by operators as a manual kick.
func (o *Orchestrator) ProcessPending(ctx context.Context) ControlResult {
	entries, err := os.ReadDir(o.cfg.Dirs.Incoming)
	if err != nil {
		return controlErr("failed to read incoming: %v", err)
	}

	processed, failed := 0, 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(o.cfg.Dirs.Incoming, e.Name())
		if o.InFlight(path) {
			continue
		}
		if _, err := o.Process(ctx, path, "operator"); err != nil {
			failed++
		} else {
			processed++
		}
	}
	return ok("processed %d file(s), %d failed", processed, failed)
}

// ClearErrors removes every file from the errors folder. The submission rows
// stay: the database remains the history, the folder is just the work surface.
func (o *Orchestrator) ClearErrors() ControlResult {
	entries, err := os.ReadDir(o.cfg.Dirs.Errors)
	if err != nil {
		return controlErr("failed to read errors folder: %v", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(o.cfg.Dirs.Errors, e.Name())
		if err := os.Remove(path); err != nil {
			o.logger.Warn("failed to remove error file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return ok("removed %d file(s) from errors", removed)
}
