package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vigilops/bastion/internal/model"
)

// ErrCountMismatch means an artifact read back from disk does not contain the
// records that were written. Truncated phase output must never flow onward.
var ErrCountMismatch = errors.New("artifact record count mismatch")

// artifactPath is <processed>/<submissionID>.<phase>.json.
func (o *Orchestrator) artifactPath(submissionID, phase string) string {
	return filepath.Join(o.cfg.Dirs.Processed, fmt.Sprintf("%s.%s.json", submissionID, phase))
}

// writeArtifactVerified writes the artifact and re-reads it, comparing the
// on-disk record count with the in-memory count. One rewrite is attempted on
// mismatch; after that the mismatch is a hard failure with an explicit
// expected-vs-actual diagnostic.
func (o *Orchestrator) writeArtifactVerified(artifact *model.PhaseArtifact) (string, error) {
	path := o.artifactPath(artifact.SubmissionID, artifact.Phase)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := writeArtifact(path, artifact); err != nil {
			lastErr = err
			continue
		}
		if err := o.verifyArtifact(path, len(artifact.Records)); err != nil {
			lastErr = err
			o.logger.Error("artifact verification failed",
				zap.String("submission_id", artifact.SubmissionID),
				zap.String("phase", artifact.Phase),
				zap.Int("expected", len(artifact.Records)),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		return path, nil
	}
	return path, lastErr
}

// verifyArtifact re-reads an artifact and compares the on-disk record count
// against what the writer holds in memory. A mismatch means the file was
// truncated or corrupted between write and read.
func (o *Orchestrator) verifyArtifact(path string, expected int) error {
	onDisk, err := LoadArtifact(path)
	if err != nil {
		return err
	}
	if len(onDisk.Records) != expected {
		return fmt.Errorf("%w: %s expected %d records, read back %d",
			ErrCountMismatch, filepath.Base(path), expected, len(onDisk.Records))
	}
	return nil
}

func writeArtifact(path string, artifact *model.PhaseArtifact) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	// Write to a temp name then rename so a concurrent reader never sees a
	// half-written artifact.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize artifact %s: %w", path, err)
	}
	return nil
}

// LoadArtifact reads a phase artifact from disk.
func LoadArtifact(path string) (*model.PhaseArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	var artifact model.PhaseArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	return &artifact, nil
}
