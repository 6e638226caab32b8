package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/bastion/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newSubmission(id string) model.Submission {
	now := time.Now().UTC()
	return model.Submission{
		ID:        id,
		Filename:  "report.pdf",
		Submitter: "tester",
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))

	sub, err := s.GetSubmission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, sub.Status)

	require.NoError(t, s.UpdateSubmissionStatus(ctx, "sub-1", model.StatusExtracting, ""))
	require.NoError(t, s.UpdateSubmissionStatus(ctx, "sub-1", model.StatusClassifying, ""))
	require.NoError(t, s.UpdateSubmissionStatus(ctx, "sub-1", model.StatusSyncing, ""))
	require.NoError(t, s.UpdateSubmissionStatus(ctx, "sub-1", model.StatusDone, ""))

	sub, err = s.GetSubmission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, sub.Status)
}

func TestIllegalTransitionRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))

	err := s.UpdateSubmissionStatus(ctx, "sub-1", model.StatusSyncing, "")
	assert.ErrorIs(t, err, ErrBadTransition)

	// Terminal states are frozen.
	require.NoError(t, s.UpdateSubmissionStatus(ctx, "sub-1", model.StatusError, "boom"))
	err = s.UpdateSubmissionStatus(ctx, "sub-1", model.StatusExtracting, "")
	assert.ErrorIs(t, err, ErrBadTransition)
}

func TestGetSubmissionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSubmission(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDedupeKeyUniqueConstraint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := model.FindingRecord{Vulnerability: "Unlocked server room", Options: model.NewOptionSet("Install a lock")}

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := s.InsertVulnerability(ctx, tx, "key-1", rec)
		return err
	})
	require.NoError(t, err)

	// The database, not just in-process logic, must refuse the duplicate.
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := s.InsertVulnerability(ctx, tx, "key-1", rec)
		return err
	})
	assert.Error(t, err)

	n, err := s.CountVulnerabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLinkSubmissionIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("sub-1")))
	rec := model.FindingRecord{Vulnerability: "v", Options: model.NewOptionSet("o")}

	var vulnID int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := s.InsertVulnerability(ctx, tx, "key-1", rec)
		if err != nil {
			return err
		}
		vulnID = id
		if err := s.LinkSubmission(ctx, tx, "sub-1", vulnID); err != nil {
			return err
		}
		return s.LinkSubmission(ctx, tx, "sub-1", vulnID)
	})
	require.NoError(t, err)

	n, err := s.CountVulnerabilitiesForSubmission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTxRollbackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := model.FindingRecord{Vulnerability: "v", Options: model.NewOptionSet("o")}
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.InsertVulnerability(ctx, tx, "key-1", rec); err != nil {
			return err
		}
		// Second insert with the same key fails and must take the first
		// one down with it.
		_, err := s.InsertVulnerability(ctx, tx, "key-1", rec)
		return err
	})
	require.Error(t, err)

	n, err := s.CountVulnerabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "failed transaction must leave no partial rows")
}
