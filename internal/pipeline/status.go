package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status is the snapshot published for external monitoring. Folder counts are
// taken from the filesystem so the numbers operators see match what the
// folders actually hold.
type Status struct {
	IncomingCount  int       `json:"incoming_count"`
	ProcessedCount int       `json:"processed_count"`
	LibraryCount   int       `json:"library_count"`
	ReviewCount    int       `json:"review_count"`
	ErrorCount     int       `json:"error_count"`
	InFlightCount  int       `json:"in_flight_count"`
	WatcherStatus  string    `json:"watcher_status"`
	Timestamp      time.Time `json:"timestamp"`
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		n++
	}
	return n
}

// Status builds a fresh snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	inflight := len(o.inflight)
	watcher := o.watcher
	o.mu.Unlock()

	watcherStatus := "not_configured"
	if watcher != nil {
		if watcher.Running() {
			watcherStatus = "running"
		} else {
			watcherStatus = "stopped"
		}
	}

	return Status{
		IncomingCount:  countFiles(o.cfg.Dirs.Incoming),
		ProcessedCount: countFiles(o.cfg.Dirs.Processed),
		LibraryCount:   countFiles(o.cfg.Dirs.Library),
		ReviewCount:    countFiles(o.cfg.Dirs.Review),
		ErrorCount:     countFiles(o.cfg.Dirs.Errors),
		InFlightCount:  inflight,
		WatcherStatus:  watcherStatus,
		Timestamp:      time.Now().UTC(),
	}
}

// publishStatus projects the snapshot to <logs>/status.json so an external
// viewer can read it without going through HTTP. Best-effort: a failed write
// is logged, never escalated.
func (o *Orchestrator) publishStatus() {
	st := o.Status()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(o.cfg.Dirs.Logs, "status.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		o.logger.Warn("failed to write status file", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		o.logger.Warn("failed to finalize status file", zap.Error(err))
	}
}
