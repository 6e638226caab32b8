// Package pipeline sequences the phases for one submission: extract →
// classify → sync, with verified artifact handoffs, bounded retries and
// folder routing. The submission status row is the source of truth; folder
// placement is a projection of it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilops/bastion/internal/chunk"
	"github.com/vigilops/bastion/internal/config"
	"github.com/vigilops/bastion/internal/extract"
	"github.com/vigilops/bastion/internal/model"
	"github.com/vigilops/bastion/internal/store"
	"github.com/vigilops/bastion/internal/syncer"
	"github.com/vigilops/bastion/internal/taxonomy"
)

var (
	// ErrAlreadyProcessing rejects a second concurrent attempt on a path.
	ErrAlreadyProcessing = errors.New("file is already being processed")
	// ErrAborted marks an operator-requested abort between phases.
	ErrAborted = errors.New("submission aborted by operator")
)

// Outcome reports where one submission ended up.
type Outcome struct {
	SubmissionID  string
	Status        model.Status
	FinalPath     string
	RecordCount   int
	AvgConfidence float64
	SyncResult    syncer.Result
}

type Orchestrator struct {
	cfg        *config.Config
	store      *store.Store
	chunker    *chunk.Chunker
	extractor  *extract.Extractor
	classifier *taxonomy.Classifier
	syncer     *syncer.Syncer
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[string]string // abs path -> submission id
	aborts   map[string]bool   // submission id -> abort requested

	watcher WatcherControl
}

// WatcherControl is what the control surface needs from the folder watcher.
// The concrete watcher lives one package over and is injected to avoid a
// dependency cycle.
type WatcherControl interface {
	Start() error
	Stop()
	Running() bool
}

func NewOrchestrator(cfg *config.Config, st *store.Store, ch *chunk.Chunker, ex *extract.Extractor, cl *taxonomy.Classifier, sy *syncer.Syncer, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      st,
		chunker:    ch,
		extractor:  ex,
		classifier: cl,
		syncer:     sy,
		logger:     logger.Named("pipeline"),
		inflight:   make(map[string]string),
		aborts:     make(map[string]bool),
	}
}

// SetWatcher wires the folder watcher in after construction.
func (o *Orchestrator) SetWatcher(w WatcherControl) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.watcher = w
}

func (o *Orchestrator) abortRequested(submissionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aborts[submissionID]
}

func (o *Orchestrator) acquire(absPath, submissionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[absPath]; busy {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessing, absPath)
	}
	o.inflight[absPath] = submissionID
	return nil
}

func (o *Orchestrator) release(absPath, submissionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, absPath)
	delete(o.aborts, submissionID)
}

// InFlight reports whether a path is currently being processed.
func (o *Orchestrator) InFlight(absPath string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.inflight[absPath]
	return busy
}

// InFlightSubmission returns the submission id currently processing the path.
func (o *Orchestrator) InFlightSubmission(absPath string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, busy := o.inflight[absPath]
	return id, busy
}

// Process drives one file through the full pipeline. Exactly one active
// attempt per path is allowed; a concurrent second call fails fast with
// ErrAlreadyProcessing and leaves the file untouched.
func (o *Orchestrator) Process(ctx context.Context, path, submitter string) (Outcome, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Outcome{}, err
	}

	submissionID := uuid.New().String()
	if err := o.acquire(absPath, submissionID); err != nil {
		return Outcome{}, err
	}
	defer o.release(absPath, submissionID)
	defer o.publishStatus()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.DocumentTimeout())
	defer cancel()

	now := time.Now().UTC()
	sub := model.Submission{
		ID:        submissionID,
		Filename:  filepath.Base(absPath),
		Submitter: submitter,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateSubmission(ctx, sub); err != nil {
		// Store unreachable: leave the file in incoming for the next scan.
		return Outcome{}, err
	}

	log := o.logger.With(zap.String("submission_id", submissionID), zap.String("file", sub.Filename))
	log.Info("processing started")

	outcome, err := o.run(ctx, log, absPath, submissionID)
	if err != nil {
		status := model.StatusError
		reason := err.Error()
		if errors.Is(err, ErrAborted) {
			status = model.StatusAborted
			reason = "aborted"
		}
		// Failure bookkeeping gets its own context: the document timeout
		// may be what brought us here.
		bkCtx, bkCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer bkCancel()
		if stErr := o.store.UpdateSubmissionStatus(bkCtx, submissionID, status, reason); stErr != nil {
			log.Error("failed to record failure status", zap.Error(stErr))
		}
		finalPath, mvErr := o.moveTo(absPath, o.cfg.Dirs.Errors)
		if mvErr != nil {
			log.Error("failed to move file to errors", zap.Error(mvErr))
		}
		log.Error("processing failed", zap.String("status", string(status)), zap.Error(err))
		return Outcome{SubmissionID: submissionID, Status: status, FinalPath: finalPath}, err
	}

	log.Info("processing finished",
		zap.String("status", string(outcome.Status)),
		zap.Int("records", outcome.RecordCount),
		zap.Float64("avg_confidence", outcome.AvgConfidence))
	return outcome, nil
}

// run executes the phase sequence. Any returned error routes the file to the
// errors folder; partial artifacts are retained for diagnosis.
func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, absPath, submissionID string) (Outcome, error) {
	// Phase 1: extract.
	if err := o.store.UpdateSubmissionStatus(ctx, submissionID, model.StatusExtracting, ""); err != nil {
		return Outcome{}, err
	}

	chunks, err := o.chunker.Split(absPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("chunking failed: %w", err)
	}

	var records []model.FindingRecord
	var failures []model.ChunkFailure
	err = o.withRetry(ctx, log, "extract", func() error {
		var exErr error
		records, failures, exErr = o.extractor.Extract(ctx, filepath.Base(absPath), chunks)
		return exErr
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("extraction failed: %w", err)
	}

	phase1 := &model.PhaseArtifact{
		SubmissionID:  submissionID,
		Phase:         model.PhaseExtract,
		SchemaVersion: model.SchemaFindingsV1,
		ModelVersion:  o.extractor.LLM.ModelVersion(),
		Records:       records,
		Failures:      failures,
	}
	phase1Path, err := o.writeArtifactVerified(phase1)
	if err != nil {
		return Outcome{}, fmt.Errorf("phase 1 artifact: %w", err)
	}
	log.Info("phase complete",
		zap.String("phase", model.PhaseExtract),
		zap.Int("records", len(records)),
		zap.Int("chunk_failures", len(failures)))

	if o.abortRequested(submissionID) {
		return Outcome{}, ErrAborted
	}

	// Phase 2: classify. Reads the phase 1 artifact from disk so the step
	// is retryable and inspectable on its own.
	if err := o.store.UpdateSubmissionStatus(ctx, submissionID, model.StatusClassifying, ""); err != nil {
		return Outcome{}, err
	}

	phase1OnDisk, err := LoadArtifact(phase1Path)
	if err != nil {
		return Outcome{}, err
	}
	classified := o.classifier.ClassifyAll(phase1OnDisk.Records)
	if len(classified) != len(phase1OnDisk.Records) {
		// ClassifyAll is count-preserving by construction. If this fires
		// something is deeply wrong, and proceeding would hide it.
		return Outcome{}, fmt.Errorf("%w: classification expected %d records, produced %d",
			ErrCountMismatch, len(phase1OnDisk.Records), len(classified))
	}

	phase2 := &model.PhaseArtifact{
		SubmissionID:  submissionID,
		Phase:         model.PhaseClassify,
		SchemaVersion: model.SchemaFindingsV1,
		ModelVersion:  o.classifier.Version(),
		Records:       classified,
		Failures:      phase1OnDisk.Failures,
	}
	phase2Path, err := o.writeArtifactVerified(phase2)
	if err != nil {
		return Outcome{}, fmt.Errorf("phase 2 artifact: %w", err)
	}
	log.Info("phase complete", zap.String("phase", model.PhaseClassify), zap.Int("records", len(classified)))

	if o.abortRequested(submissionID) {
		return Outcome{}, ErrAborted
	}

	// Phase 3: sync.
	if err := o.store.UpdateSubmissionStatus(ctx, submissionID, model.StatusSyncing, ""); err != nil {
		return Outcome{}, err
	}

	phase2OnDisk, err := LoadArtifact(phase2Path)
	if err != nil {
		return Outcome{}, err
	}

	var syncRes syncer.Result
	err = o.withRetry(ctx, log, "sync", func() error {
		var syErr error
		syncRes, syErr = o.syncer.Sync(ctx, phase2OnDisk)
		return syErr
	})
	if err != nil {
		return Outcome{}, err
	}

	// Routing: inclusive threshold, ties go to the success path.
	avg := averageConfidence(classified)
	outcome := Outcome{
		SubmissionID:  submissionID,
		RecordCount:   len(classified),
		AvgConfidence: avg,
		SyncResult:    syncRes,
	}

	if avg >= o.cfg.Pipeline.ConfidenceThreshold {
		if err := o.store.UpdateSubmissionStatus(ctx, submissionID, model.StatusDone, ""); err != nil {
			return Outcome{}, err
		}
		outcome.Status = model.StatusDone
		outcome.FinalPath, err = o.moveTo(absPath, o.cfg.Dirs.Library)
	} else {
		reason := fmt.Sprintf("average confidence %.2f below threshold %.2f", avg, o.cfg.Pipeline.ConfidenceThreshold)
		if err := o.store.UpdateSubmissionStatus(ctx, submissionID, model.StatusNeedsReview, reason); err != nil {
			return Outcome{}, err
		}
		outcome.Status = model.StatusNeedsReview
		outcome.FinalPath, err = o.moveTo(absPath, o.cfg.Dirs.Review)
	}
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// moveTo relocates a file by rename only. Rename is atomic on the same
// filesystem, so a concurrent watcher scan never sees the file in two folders.
func (o *Orchestrator) moveTo(src, destDir string) (string, error) {
	dest := filepath.Join(destDir, filepath.Base(src))
	if _, err := os.Stat(dest); err == nil {
		base := filepath.Base(src)
		ext := filepath.Ext(base)
		stem := base[:len(base)-len(ext)]
		dest = filepath.Join(destDir, fmt.Sprintf("%s-%d%s", stem, time.Now().UnixNano(), ext))
	}
	if err := os.Rename(src, dest); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", src, destDir, err)
	}
	return dest, nil
}

func averageConfidence(records []model.FindingRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.Confidence
	}
	return sum / float64(len(records))
}

// withRetry runs fn with bounded linear-backoff retries for transient
// failures. Context cancellation and aborts are not retried.
func (o *Orchestrator) withRetry(ctx context.Context, log *zap.Logger, phase string, fn func() error) error {
	attempts := o.cfg.Pipeline.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < attempts {
			backoff := time.Duration(attempt) * o.cfg.RetryBackoff()
			log.Warn("phase attempt failed, retrying",
				zap.String("phase", phase),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return lastErr
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", phase, attempts, lastErr)
}
