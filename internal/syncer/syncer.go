// Package syncer is Phase 3: expand one classified artifact into relational
// rows, idempotently. Re-running sync on the same artifact is a no-op beyond
// the first successful run, and a failed row write rolls the whole submission
// back so a retry starts clean.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vigilops/bastion/internal/fingerprint"
	"github.com/vigilops/bastion/internal/model"
	"github.com/vigilops/bastion/internal/store"
)

// ErrUnknownSchema means the artifact carries a schema tag this syncer does
// not speak. Routing is always by tag, never by file size or record sniffing.
var ErrUnknownSchema = errors.New("unknown artifact schema version")

type Result struct {
	SubmissionID     string `json:"submission_id"`
	InsertedVulns    int    `json:"inserted_vuln_count"`
	InsertedOptions  int    `json:"inserted_option_count"`
	MergedDuplicates int    `json:"merged_duplicate_count"`
}

type Syncer struct {
	Store  *store.Store
	logger *zap.Logger
}

func New(st *store.Store, logger *zap.Logger) *Syncer {
	return &Syncer{Store: st, logger: logger.Named("sync")}
}

// Sync persists every record of the artifact in one transaction. A record
// whose dedupe key already exists is linked to this submission instead of
// inserted, and the merge is logged, never silently absorbed.
func (s *Syncer) Sync(ctx context.Context, artifact *model.PhaseArtifact) (Result, error) {
	res := Result{SubmissionID: artifact.SubmissionID}

	if artifact.SchemaVersion != model.SchemaFindingsV1 {
		return res, fmt.Errorf("%w: %q (submission %s)", ErrUnknownSchema, artifact.SchemaVersion, artifact.SubmissionID)
	}

	err := s.Store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range artifact.Records {
			key := fingerprint.ForRecord(rec)

			vulnID, err := s.Store.GetVulnerabilityIDByKey(ctx, tx, key)
			switch {
			case err == nil:
				res.MergedDuplicates++
				s.logger.Info("dedupe merge",
					zap.String("submission_id", artifact.SubmissionID),
					zap.String("dedupe_key", key),
					zap.Int64("vulnerability_id", vulnID))
			case errors.Is(err, store.ErrNotFound):
				vulnID, err = s.Store.InsertVulnerability(ctx, tx, key, rec)
				if err != nil {
					return err
				}
				res.InsertedVulns++
				for i, opt := range rec.Options.Options {
					if err := s.Store.InsertOption(ctx, tx, vulnID, i, opt, rec.Discipline, rec.Sector); err != nil {
						return err
					}
					res.InsertedOptions++
				}
			default:
				return err
			}

			if err := s.Store.LinkSubmission(ctx, tx, artifact.SubmissionID, vulnID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{SubmissionID: artifact.SubmissionID}, fmt.Errorf("sync failed for submission %s: %w", artifact.SubmissionID, err)
	}

	s.logger.Info("sync complete",
		zap.String("submission_id", artifact.SubmissionID),
		zap.String("phase", model.PhaseSync),
		zap.Int("records", len(artifact.Records)),
		zap.Int("inserted_vulns", res.InsertedVulns),
		zap.Int("inserted_options", res.InsertedOptions),
		zap.Int("merged_duplicates", res.MergedDuplicates))
	return res, nil
}
