package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/bastion/internal/chunk"
	"github.com/vigilops/bastion/internal/config"
	"github.com/vigilops/bastion/internal/extract"
	"github.com/vigilops/bastion/internal/logging"
	"github.com/vigilops/bastion/internal/model"
	"github.com/vigilops/bastion/internal/pipeline"
	"github.com/vigilops/bastion/internal/store"
	"github.com/vigilops/bastion/internal/syncer"
	"github.com/vigilops/bastion/internal/taxonomy"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default(t.TempDir())
	require.NoError(t, cfg.EnsureDirs())

	st, err := store.Open(filepath.Join(cfg.Dirs.Base, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := logging.NewNop()
	orch := pipeline.NewOrchestrator(
		cfg,
		st,
		chunk.NewChunker(cfg.Pipeline.MaxChunkBytes),
		extract.NewExtractor(nil, time.Minute, logger),
		taxonomy.NewClassifier(taxonomy.DefaultRules(), "2024.1"),
		syncer.New(st, logger),
		logger,
	)
	return NewServer(orch, st)
}

func TestGetStatus(t *testing.T) {
	s := newTestServer(t)
	r := s.SetupRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var st pipeline.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 0, st.IncomingCount)
	assert.Equal(t, "not_configured", st.WatcherStatus)
}

func TestControlUnknownCommand(t *testing.T) {
	s := newTestServer(t)
	r := s.SetupRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/control/reboot_everything", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	var res pipeline.ControlResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Message, "unknown command")
}

func TestControlClearErrors(t *testing.T) {
	s := newTestServer(t)
	r := s.SetupRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/control/clear_errors", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var res pipeline.ControlResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "ok", res.Status)
}

func TestAbortSubmissionNotInFlight(t *testing.T) {
	s := newTestServer(t)
	r := s.SetupRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/submissions/sub-9/abort", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	var res pipeline.ControlResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Message, "not in flight")
}

func TestGetSubmission(t *testing.T) {
	s := newTestServer(t)
	r := s.SetupRouter()

	now := time.Now().UTC()
	require.NoError(t, s.Store.CreateSubmission(context.Background(), model.Submission{
		ID: "sub-1", Filename: "report.pdf", Status: model.StatusDone, CreatedAt: now, UpdatedAt: now,
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submissions/sub-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var sub model.Submission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.Equal(t, model.StatusDone, sub.Status)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submissions/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
