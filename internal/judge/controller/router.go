package controller

import (
	"codejudge/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
)

// RouterConfig selects the middleware in front of the judge routes.
type RouterConfig struct {
	Trace middleware.TraceContextConfig
	Auth  *middleware.Authenticator
}

// NewRouter builds the gin engine serving /api/v1/judge.
func NewRouter(h *JudgeController, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.TraceContextMiddlewareWithConfig(cfg.Trace), middleware.RequestLogger())
	r.GET("/healthz", h.Health)

	api := r.Group("/api/v1/judge", middleware.AuthMiddleware(cfg.Auth))
	api.GET("/healthz", h.Health)
	api.POST("/run", h.Run)
	api.POST("/submissions", h.Submit)
	api.POST("/submissions/async", h.Enqueue)
	api.GET("/submissions", h.History)
	api.GET("/submissions/:id", h.GetSubmission)
	api.GET("/workspace/stats", h.WorkspaceStats)
	return r
}
