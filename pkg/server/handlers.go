package server

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/dealmemo/pkg/dispatch"
	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/gateway"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/logging"
	"github.com/otherjamesbrown/dealmemo/pkg/webhooks"
	"github.com/otherjamesbrown/dealmemo/pkg/workers"
)

const maxWebhookBody = 2*gateway.MaxContentBytes + 64<<10

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case dmerrors.IsValidation(err):
		return http.StatusBadRequest
	case dmerrors.IsUnauthorized(err):
		return http.StatusUnauthorized
	case dmerrors.IsNotFound(err):
		return http.StatusNotFound
	case dmerrors.IsInvalidState(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.WithContext(c.Request.Context()).Error("request failed", logging.F("path", c.FullPath()), logging.Err(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type ingestResponse struct {
	JobID uuid.UUID `json:"jobId"`
}

func (s *Server) ingest(c *gin.Context) {
	var req gateway.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	owner := ownerFrom(c)
	req.OwnerName, req.OwnerEmail = owner.Name, owner.Email

	id, err := s.deps.Gateway.Ingest(c.Request.Context(), owner.ID, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ingestResponse{JobID: id})
}

// direct runs the pipeline synchronously. The run is detached from the
// request so a dropped caller does not abort a job midway.
func (s *Server) direct(c *gin.Context) {
	var req dispatch.DirectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.JobID == uuid.Nil {
		c.JSON(http.StatusBadRequest, dispatch.DirectResponse{Error: "jobId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.cfg.DirectTimeout)
	defer cancel()

	result, err := s.deps.Runner.Run(ctx, req.JobID)
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			s.logger.Warn("direct run failed", logging.F("job_id", req.JobID.String()), logging.Err(err))
		}
		c.JSON(status, dispatch.DirectResponse{Error: err.Error()})
		return
	}
	resp := dispatch.DirectResponse{Success: true}
	if result != nil && result.MemoID != uuid.Nil {
		memoID := result.MemoID
		resp.MemoID = &memoID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) worker(c *gin.Context) {
	limit := workers.DefaultConcurrency
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	report, err := s.deps.Batch.Process(context.WithoutCancel(c.Request.Context()), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type retryResponse struct {
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
}

// retry re-submits the owner's pending jobs through /process/direct, a few
// at a time.
func (s *Server) retry(c *gin.Context) {
	owner := ownerFrom(c)
	ctx := c.Request.Context()

	pending, err := s.deps.Jobs.ListByOwner(ctx, owner.ID, jobs.StatusPending, s.cfg.RetryLimit)
	if err != nil {
		s.fail(c, err)
		return
	}

	var submitted, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(workers.MaxConcurrency)
	for _, job := range pending {
		id := job.ID
		g.Go(func() error {
			resp, err := s.deps.Retrier.Trigger(ctx, id)
			if err != nil || !resp.Success {
				failed.Add(1)
				return nil
			}
			submitted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	c.JSON(http.StatusOK, retryResponse{Submitted: int(submitted.Load()), Failed: int(failed.Load())})
}

func (s *Server) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	job, err := s.deps.Jobs.GetForOwner(c.Request.Context(), ownerFrom(c).ID, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listJobs(c *gin.Context) {
	status := jobs.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(status)})
		return
	}
	limit := queryLimit(c, 20, 100)

	list, err := s.deps.Jobs.ListByOwner(c.Request.Context(), ownerFrom(c).ID, status, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (s *Server) jobEvents(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	ctx := c.Request.Context()
	if _, err := s.deps.Jobs.GetForOwner(ctx, ownerFrom(c).ID, id); err != nil {
		s.fail(c, err)
		return
	}
	events, err := s.deps.Jobs.ListEvents(ctx, id, queryLimit(c, 100, 1000))
	if err != nil {
		s.fail(c, err)
		return
	}
	if events == nil {
		events = []jobs.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n < 1 {
		return def
	}
	return min(n, max)
}

func (s *Server) webhook(c *gin.Context) {
	provider, err := integrations.ParseProvider(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	out, err := s.deps.Webhooks.Receive(c.Request.Context(), provider, c.GetHeader(webhooks.SignatureHeader(provider)), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	if out.Ignored {
		c.JSON(http.StatusOK, out)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) healthz(c *gin.Context) {
	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	for name, check := range s.deps.Health {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}
	if resp.Status != "ok" {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

