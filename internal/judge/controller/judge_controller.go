// Package controller exposes the judge over HTTP.
package controller

import (
	"context"
	"net/http"
	"strings"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeService is the judge API the controller serves.
type JudgeService interface {
	Run(ctx context.Context, req service.RunRequest) (service.RunResult, error)
	Submit(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
	History(ctx context.Context, userID, problemID string) ([]model.Submission, error)
	Submission(ctx context.Context, userID, id string) (model.Submission, error)
	Stats() service.Stats
}

// TaskQueue accepts submissions for asynchronous judging.
type TaskQueue interface {
	Enqueue(ctx context.Context, task model.JudgeTask) (string, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// JudgeController handles judge requests.
type JudgeController struct {
	svc    JudgeService
	queue  TaskQueue
	checks map[string]HealthCheck
}

// NewJudgeController creates a new controller. queue may be nil.
func NewJudgeController(svc JudgeService, queue TaskQueue, checks map[string]HealthCheck) *JudgeController {
	return &JudgeController{svc: svc, queue: queue, checks: checks}
}

// Run executes code against custom input.
func (h *JudgeController) Run(c *gin.Context) {
	var req service.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	result, err := h.svc.Run(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Submit judges code against a problem.
func (h *JudgeController) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	req.UserID = middleware.UserID(c)
	if req.Mode != model.ModeRun && req.UserID == "" {
		response.Unauthorized(c, "login required to submit")
		return
	}
	result, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Enqueue accepts a submission for asynchronous judging.
func (h *JudgeController) Enqueue(c *gin.Context) {
	if h.queue == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "asynchronous judging is disabled")
		return
	}
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	userID := middleware.UserID(c)
	if userID == "" {
		response.Unauthorized(c, "login required to submit")
		return
	}
	taskID, err := h.queue.Enqueue(c.Request.Context(), model.JudgeTask{
		UserID:    userID,
		ProblemID: req.ProblemID,
		Language:  req.Language,
		Code:      req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Response{
		Code:    appErr.Success,
		Message: "Accepted",
		Data:    gin.H{"taskId": taskID},
		TraceID: c.GetString("trace_id"),
	})
}

// History lists the caller's submissions.
func (h *JudgeController) History(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Unauthorized(c, "")
		return
	}
	subs, err := h.svc.History(c.Request.Context(), userID, strings.TrimSpace(c.Query("problemId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, subs)
}

// GetSubmission returns one of the caller's submissions.
func (h *JudgeController) GetSubmission(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Unauthorized(c, "")
		return
	}
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	sub, err := h.svc.Submission(c.Request.Context(), userID, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

// WorkspaceStats reports live job directories.
func (h *JudgeController) WorkspaceStats(c *gin.Context) {
	response.Success(c, h.svc.Stats())
}

// Health pings every dependency.
func (h *JudgeController) Health(c *gin.Context) {
	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, response.Response{
			Code:    appErr.ServiceUnavailable,
			Message: appErr.ServiceUnavailable.Message(),
			Data:    status,
			TraceID: c.GetString("trace_id"),
		})
		return
	}
	response.Success(c, status)
}
