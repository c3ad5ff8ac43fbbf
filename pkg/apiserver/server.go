package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/apiserver/handlers"
	"github.com/syllaflow/syllaflow/pkg/apiserver/middleware"
	"github.com/syllaflow/syllaflow/pkg/notify"
	"github.com/syllaflow/syllaflow/pkg/workflow"
)

type Server struct {
	router    *gin.Engine
	workflows *workflow.Service
	notifier  *notify.Service
	hub       *notify.Hub
	logger    *zap.Logger
}

func NewServer(workflows *workflow.Service, notifier *notify.Service, hub *notify.Hub, logger *zap.Logger) *Server {
	s := &Server{
		workflows: workflows,
		notifier:  notifier,
		hub:       hub,
		logger:    logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth())

		workflowHandler := handlers.NewWorkflowHandler(s.workflows, s.logger)
		api.POST("/workflows", workflowHandler.Create)
		api.GET("/workflows", workflowHandler.List)
		api.GET("/workflows/:id", workflowHandler.Get)
		api.GET("/workflows/:id/history", workflowHandler.History)
		api.POST("/workflows/:id/submit", workflowHandler.Submit)
		api.POST("/workflows/:id/approve", workflowHandler.Approve)
		api.POST("/workflows/:id/reject", workflowHandler.Reject)
		api.POST("/workflows/:id/require-edit", workflowHandler.RequireEdit)

		notificationHandler := handlers.NewNotificationHandler(s.notifier, s.hub, s.logger)
		api.GET("/notifications", notificationHandler.List)
		api.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		api.GET("/notifications/stream", notificationHandler.Stream)
		api.POST("/notifications/:id/read", notificationHandler.MarkRead)
		api.POST("/notifications/read-all", notificationHandler.MarkAllRead)

		api.PUT("/follows/:rootId", notificationHandler.Follow)
		api.DELETE("/follows/:rootId", notificationHandler.Unfollow)
		api.POST("/devices", notificationHandler.RegisterDevice)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
