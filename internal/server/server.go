// Package server exposes the pipeline's control and status surface over HTTP.
// It is a thin projection: all decisions live in the pipeline package.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vigilops/bastion/internal/pipeline"
	"github.com/vigilops/bastion/internal/store"
)

type Server struct {
	Orchestrator *pipeline.Orchestrator
	Store        *store.Store
}

func NewServer(orch *pipeline.Orchestrator, st *store.Store) *Server {
	return &Server{Orchestrator: orch, Store: st}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/status", s.GetStatus)
	r.POST("/control/:command", s.Control)
	r.GET("/submissions/:id", s.GetSubmission)
	r.POST("/submissions/:id/abort", s.AbortSubmission)

	return r
}

func (s *Server) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Orchestrator.Status())
}

// Control routes the four operator commands. Every command is idempotent and
// answers with a {status, message} envelope.
func (s *Server) Control(c *gin.Context) {
	var res pipeline.ControlResult
	switch c.Param("command") {
	case "start_watcher":
		res = s.Orchestrator.StartWatcher()
	case "stop_watcher":
		res = s.Orchestrator.StopWatcher()
	case "process_pending":
		res = s.Orchestrator.ProcessPending(c.Request.Context())
	case "clear_errors":
		res = s.Orchestrator.ClearErrors()
	default:
		c.JSON(http.StatusNotFound, pipeline.ControlResult{
			Status:  "error",
			Message: "unknown command: " + c.Param("command"),
		})
		return
	}

	code := http.StatusOK
	if res.Status != "ok" {
		code = http.StatusInternalServerError
	}
	c.JSON(code, res)
}

// AbortSubmission requests that an in-flight submission stop at the next
// phase boundary. Aborting a submission that is not in flight is a 404.
func (s *Server) AbortSubmission(c *gin.Context) {
	res := s.Orchestrator.AbortSubmission(c.Param("id"))
	code := http.StatusOK
	if res.Status != "ok" {
		code = http.StatusNotFound
	}
	c.JSON(code, res)
}

func (s *Server) GetSubmission(c *gin.Context) {
	sub, err := s.Store.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "submission not found"})
		return
	}
	c.JSON(http.StatusOK, sub)
}
