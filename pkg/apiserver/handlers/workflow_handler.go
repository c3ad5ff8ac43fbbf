package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/apiserver/middleware"
	"github.com/syllaflow/syllaflow/pkg/model"
	"github.com/syllaflow/syllaflow/pkg/workflow"
)

type WorkflowHandler struct {
	service *workflow.Service
	logger  *zap.Logger
}

func NewWorkflowHandler(service *workflow.Service, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{service: service, logger: logger}
}

type workflowCreateRequest struct {
	EntityID   string `json:"entity_id" binding:"required"`
	EntityType string `json:"entity_type" binding:"required"`
}

type transitionRequest struct {
	Comment string `json:"comment"`
}

type workflowResponse struct {
	ID             string  `json:"id"`
	EntityID       string  `json:"entity_id"`
	EntityType     string  `json:"entity_type"`
	CurrentState   string  `json:"current_state"`
	ReviewDeadline *string `json:"review_deadline,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type historyResponse struct {
	ID        string `json:"id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Event     string `json:"event"`
	ActionBy  string `json:"action_by"`
	ActionAt  string `json:"action_at"`
	Comment   string `json:"comment,omitempty"`
}

func (h *WorkflowHandler) Create(c *gin.Context) {
	var req workflowCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	wf, err := h.service.Create(c.Request.Context(), strings.TrimSpace(req.EntityID), strings.TrimSpace(req.EntityType))
	if err != nil {
		if errors.Is(err, workflow.ErrDuplicateWorkflow) {
			c.JSON(http.StatusConflict, gin.H{"error": "workflow already exists for entity"})
			return
		}
		h.logger.Error("failed to create workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create workflow"})
		return
	}

	c.JSON(http.StatusCreated, mapWorkflow(wf))
}

func (h *WorkflowHandler) Get(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	wf, err := h.service.Get(c.Request.Context(), workflowID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		h.logger.Error("failed to get workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get workflow"})
		return
	}

	c.JSON(http.StatusOK, mapWorkflow(wf))
}

func (h *WorkflowHandler) List(c *gin.Context) {
	var state *model.WorkflowState
	if value := strings.TrimSpace(c.Query("state")); value != "" {
		parsed := model.WorkflowState(strings.ToUpper(value))
		if !isValidWorkflowState(parsed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
			return
		}
		state = &parsed
	}

	workflows, err := h.service.List(c.Request.Context(), state)
	if err != nil {
		h.logger.Error("failed to list workflows", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list workflows"})
		return
	}

	response := make([]workflowResponse, 0, len(workflows))
	for i := range workflows {
		response = append(response, mapWorkflow(&workflows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"workflows": response, "total": len(response)})
}

func (h *WorkflowHandler) History(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	history, err := h.service.GetHistory(c.Request.Context(), workflowID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		h.logger.Error("failed to load history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	response := make([]historyResponse, 0, len(history))
	for _, row := range history {
		response = append(response, historyResponse{
			ID:        row.ID.String(),
			FromState: string(row.FromState),
			ToState:   string(row.ToState),
			Event:     string(row.Event),
			ActionBy:  row.ActionBy,
			ActionAt:  row.ActionAt.UTC().Format(timeRFC3339Nano),
			Comment:   row.Comment,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *WorkflowHandler) Submit(c *gin.Context) {
	h.applyEvent(c, model.EventSubmit)
}

func (h *WorkflowHandler) Approve(c *gin.Context) {
	h.applyEvent(c, model.EventApprove)
}

func (h *WorkflowHandler) Reject(c *gin.Context) {
	h.applyEvent(c, model.EventReject)
}

func (h *WorkflowHandler) RequireEdit(c *gin.Context) {
	h.applyEvent(c, model.EventRequireEdit)
}

func (h *WorkflowHandler) applyEvent(c *gin.Context, event model.WorkflowEvent) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	userID, role, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user identity"})
		return
	}

	var req transitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
			return
		}
	}

	state, err := h.service.ApplyEvent(c.Request.Context(), workflowID, event, userID, role, req.Comment)
	if err != nil {
		h.writeTransitionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": workflowID.String(), "current_state": string(state)})
}

func (h *WorkflowHandler) writeTransitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
	case errors.Is(err, workflow.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "workflow state changed concurrently, retry"})
	case errors.Is(err, workflow.ErrRoleNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "role is not allowed to perform this action"})
	case errors.Is(err, workflow.ErrCommentRequired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "comment is required"})
	case errors.Is(err, workflow.ErrDeadlineExceeded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "review deadline exceeded"})
	default:
		h.logger.Error("failed to apply workflow event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply workflow event"})
	}
}

func mapWorkflow(wf *model.Workflow) workflowResponse {
	return workflowResponse{
		ID:             wf.ID.String(),
		EntityID:       wf.EntityID,
		EntityType:     wf.EntityType,
		CurrentState:   string(wf.CurrentState),
		ReviewDeadline: formatTime(wf.ReviewDeadline),
		CreatedAt:      wf.CreatedAt.UTC().Format(timeRFC3339Nano),
		UpdatedAt:      wf.UpdatedAt.UTC().Format(timeRFC3339Nano),
	}
}

func isValidWorkflowState(state model.WorkflowState) bool {
	switch state {
	case model.StateDraft, model.StateReview, model.StateApproved, model.StateRejected:
		return true
	default:
		return false
	}
}
