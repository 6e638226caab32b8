// Package watcher turns filesystem activity in the incoming folder into
// exactly-once processing dispatches. Creation events are debounced and
// checked for size stability; a periodic rescan catches files that predate
// the watcher or whose events were dropped by the OS.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Dispatch hands one stable file to the pipeline. An error leaves the file in
// place; the next periodic scan retries it.
type Dispatch func(ctx context.Context, path string) error

type Watcher struct {
	mu          sync.RWMutex
	fsw         *fsnotify.Watcher
	incomingDir string
	dispatch    Dispatch
	logger      *zap.Logger

	scanInterval time.Duration
	settleDelay  time.Duration

	inflight map[string]bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool

	stats Stats
}

// Stats tracks watcher activity for the status surface and debugging.
type Stats struct {
	EventsSeen     int
	ScansRun       int
	Dispatched     int
	DispatchErrors int
	SkippedBusy    int
	LastEventPath  string
	LastEventTime  time.Time
}

func New(incomingDir string, scanInterval time.Duration, dispatch Dispatch, logger *zap.Logger) *Watcher {
	return &Watcher{
		incomingDir:  incomingDir,
		dispatch:     dispatch,
		logger:       logger.Named("watcher"),
		scanInterval: scanInterval,
		settleDelay:  500 * time.Millisecond,
		inflight:     make(map[string]bool),
	}
}

// Start begins watching. Non-blocking; event handling and periodic scans run
// in a goroutine until Stop.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fsw.Add(w.incomingDir); err != nil {
		fsw.Close()
		w.mu.Unlock()
		return err
	}

	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	w.logger.Info("watching incoming directory", zap.String("dir", w.incomingDir))
	go w.run()
	return nil
}

// Stop stops the watcher and waits for the run loop to exit. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
}

func (w *Watcher) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	defer w.fsw.Close()

	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	// Pick up whatever was already sitting in incoming before we started;
	// no creation event will ever fire for those.
	w.Scan()

	for {
		select {
		case <-w.stopCh:
			return

		case ev, okCh := <-w.fsw.Events:
			if !okCh {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.mu.Lock()
			w.stats.EventsSeen++
			w.stats.LastEventPath = ev.Name
			w.stats.LastEventTime = time.Now()
			w.mu.Unlock()
			w.OnFileAppeared(ev.Name)

		case err, okCh := <-w.fsw.Errors:
			if !okCh {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))

		case <-ticker.C:
			w.Scan()
		}
	}
}

// OnFileAppeared handles one candidate path from an OS event. Mid-write files
// are skipped via a size-stability probe; the in-flight set guarantees the
// event path and the periodic scan never double-dispatch the same file.
func (w *Watcher) OnFileAppeared(path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return
	}

	if !w.tryAcquire(path) {
		w.mu.Lock()
		w.stats.SkippedBusy++
		w.mu.Unlock()
		return
	}

	go func() {
		defer w.release(path)

		if !w.waitStable(path) {
			return
		}
		if err := w.dispatch(context.Background(), path); err != nil {
			// Leave the file in place; the next scan will retry it.
			w.mu.Lock()
			w.stats.DispatchErrors++
			w.mu.Unlock()
			w.logger.Warn("dispatch failed, leaving file for next scan",
				zap.String("path", path), zap.Error(err))
			return
		}
		w.mu.Lock()
		w.stats.Dispatched++
		w.mu.Unlock()
	}()
}

// Scan re-enumerates the incoming directory. Safety net for missed events and
// for files present before the watcher started.
func (w *Watcher) Scan() {
	w.mu.Lock()
	w.stats.ScansRun++
	w.mu.Unlock()

	entries, err := os.ReadDir(w.incomingDir)
	if err != nil {
		w.logger.Warn("scan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.OnFileAppeared(filepath.Join(w.incomingDir, e.Name()))
	}
}

func (w *Watcher) tryAcquire(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[path] {
		return false
	}
	w.inflight[path] = true
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, path)
}

// waitStable returns true once two size probes agree and the file still
// exists. A file that keeps growing is mid-copy; skip it and let the next
// scan pick it up.
func (w *Watcher) waitStable(path string) bool {
	info1, err := os.Stat(path)
	if err != nil {
		return false
	}
	time.Sleep(w.settleDelay)
	info2, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info1.Size() == info2.Size()
}
