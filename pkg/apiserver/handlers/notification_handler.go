package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/apiserver/middleware"
	"github.com/syllaflow/syllaflow/pkg/model"
	"github.com/syllaflow/syllaflow/pkg/notify"
)

type NotificationHandler struct {
	service *notify.Service
	hub     *notify.Hub
	logger  *zap.Logger
}

func NewNotificationHandler(service *notify.Service, hub *notify.Hub, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, hub: hub, logger: logger}
}

type notificationResponse struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Message         string  `json:"message"`
	RelatedRootID   *string `json:"related_root_id,omitempty"`
	RelatedEntityID *string `json:"related_entity_id,omitempty"`
	Read            bool    `json:"read"`
	ReadAt          *string `json:"read_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

type deviceRegisterRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform"`
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID, _, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user identity"})
		return
	}

	unreadOnly := false
	if value := strings.TrimSpace(c.Query("unread")); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unread flag"})
			return
		}
		unreadOnly = parsed
	}
	limit := parseLimit(c.Query("limit"), 50)

	notifications, err := h.service.List(c.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}

	response := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		response = append(response, mapNotification(&notifications[i]))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": response, "total": len(response)})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, _, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user identity"})
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to count unread notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	n, err := h.service.MarkRead(c.Request.Context(), notificationID)
	if err != nil {
		if errors.Is(err, notify.ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.Error("failed to mark notification read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark notification read"})
		return
	}

	c.JSON(http.StatusOK, mapNotification(n))
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, _, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user identity"})
		return
	}

	updated, err := h.service.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to mark all notifications read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark all notifications read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// Stream holds the request open as an SSE feed of the user's live
// notifications, starting with a hello event.
func (h *NotificationHandler) Stream(c *gin.Context) {
	userID, _, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user identity"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	conn := h.hub.Register(userID)
	defer h.hub.Evict(conn)

	for {
		select {
		case env := <-conn.Events():
			c.SSEvent(env.Event, env.Data)
			c.Writer.Flush()
		case <-conn.Done():
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *NotificationHandler) Follow(c *gin.Context) {
	h.setFollow(c, true)
}

func (h *NotificationHandler) Unfollow(c *gin.Context) {
	h.setFollow(c, false)
}

func (h *NotificationHandler) setFollow(c *gin.Context, follow bool) {
	userID, _, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user identity"})
		return
	}

	rootID, err := uuid.Parse(c.Param("rootId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid root id"})
		return
	}

	if follow {
		err = h.service.Follow(c.Request.Context(), userID, rootID)
	} else {
		err = h.service.Unfollow(c.Request.Context(), userID, rootID)
	}
	if err != nil {
		h.logger.Error("failed to update follow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update follow"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"root_id": rootID.String(), "following": follow})
}

func (h *NotificationHandler) RegisterDevice(c *gin.Context) {
	userID, _, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user identity"})
		return
	}

	var req deviceRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	if err := h.service.RegisterDevice(c.Request.Context(), userID, req.Token, req.Platform); err != nil {
		h.logger.Error("failed to register device", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "registered"})
}

func mapNotification(n *model.Notification) notificationResponse {
	response := notificationResponse{
		ID:        n.ID.String(),
		Type:      string(n.Type),
		Message:   n.Message,
		Read:      n.Read,
		ReadAt:    formatTime(n.ReadAt),
		CreatedAt: n.CreatedAt.UTC().Format(timeRFC3339Nano),
	}
	if n.RelatedRootID != nil {
		value := n.RelatedRootID.String()
		response.RelatedRootID = &value
	}
	if n.RelatedEntityID != nil {
		value := n.RelatedEntityID.String()
		response.RelatedEntityID = &value
	}
	return response
}
