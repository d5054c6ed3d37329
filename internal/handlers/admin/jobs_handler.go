// internal/handlers/admin/jobs_handler.go
package admin

import (
	"net/http"

	"tariff-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// JobRunner exposes the registered background jobs.
type JobRunner interface {
	Jobs() []string
	Trigger(name string) error
}

type JobsHandler struct {
	runner JobRunner
}

func NewJobsHandler(runner JobRunner) *JobsHandler {
	return &JobsHandler{runner: runner}
}

func (h *JobsHandler) ListJobs(c *gin.Context) {
	response.Success(c, http.StatusOK, "jobs retrieved", gin.H{"jobs": h.runner.Jobs()})
}

// RunJob runs a job immediately on the caller's request; a run already in progress is
// not duplicated.
func (h *JobsHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.runner.Trigger(name); err != nil {
		response.FromError(c, "failed to run job", err)
		return
	}
	response.Success(c, http.StatusOK, "job completed", gin.H{"job": name})
}
