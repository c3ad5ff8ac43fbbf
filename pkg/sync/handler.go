package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/metrics"
	"github.com/syllaflow/syllaflow/pkg/model"
)

// DocumentStore is the slice of the document table the handler converges.
type DocumentStore interface {
	GetByWorkflowID(ctx context.Context, workflowID uuid.UUID) (*model.Document, error)
	Save(ctx context.Context, doc *model.Document) error
}

// Notifier fans a converged change out to interested users.
type Notifier interface {
	Notify(ctx context.Context, userID string, typ model.NotificationType,
		message string, rootID, entityID *uuid.UUID) (*model.Notification, error)
	NotifyFollowers(ctx context.Context, rootID uuid.UUID, entityID *uuid.UUID,
		typ model.NotificationType, message, excludeUserID string) error
}

// DocumentHandler applies workflow sync events to the document service's own
// status copy. It must stay idempotent: the relay delivers at least once, so
// a document already at the event's target state is a silent no-op.
type DocumentHandler struct {
	store    DocumentStore
	notifier Notifier
	logger   *zap.Logger
}

func NewDocumentHandler(store DocumentStore, notifier Notifier, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

func (h *DocumentHandler) Handle(ctx context.Context, message Message) error {
	switch message.EventType {
	case EventTypeSync:
		return h.handleSync(ctx, message)
	case EventTypeApprovalRequest:
		return h.handleApprovalRequest(ctx, message)
	default:
		// Unknown types are committed without retry so one bad producer
		// cannot wedge the partition.
		h.logger.Warn("skipping unknown sync event type",
			zap.String("event_type", message.EventType),
			zap.String("event_id", message.EventID),
		)
		return nil
	}
}

func (h *DocumentHandler) handleSync(ctx context.Context, message Message) error {
	var event WorkflowSyncEvent
	if err := decodePayload(message.Payload, &event); err != nil {
		metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "error").Inc()
		return err
	}

	doc, err := h.store.GetByWorkflowID(ctx, event.WorkflowID)
	if err != nil {
		metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "error").Inc()
		return fmt.Errorf("load document for workflow %s: %w", event.WorkflowID, err)
	}

	target := documentStatusFor(event.ToState)
	if doc.Status == target {
		metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "suppressed").Inc()
		h.logger.Debug("document already converged, suppressing redelivery",
			zap.String("event_id", message.EventID),
			zap.String("document_id", doc.ID.String()),
			zap.String("status", string(target)),
		)
		return nil
	}

	doc.Status = target
	doc.LastActionBy = event.ActionBy
	switch event.ToState {
	case model.StateReview:
		at := message.CreatedAt
		doc.SubmittedAt = &at
		doc.RejectedAt = nil
		doc.RejectionReason = ""
	case model.StateApproved:
		at := message.CreatedAt
		doc.ApprovedAt = &at
	case model.StateRejected:
		at := message.CreatedAt
		doc.RejectedAt = &at
		doc.RejectionReason = event.Comment
	}

	if err := h.store.Save(ctx, doc); err != nil {
		metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "error").Inc()
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "applied").Inc()

	if h.notifier != nil {
		text := fmt.Sprintf("Syllabus %s moved to %s", doc.SubjectCode, doc.Status)
		if err := h.notifier.NotifyFollowers(ctx, doc.RootID, &doc.ID,
			model.NotifyStatusChanged, text, event.ActionBy); err != nil {
			// The document row is already converged; notification trouble
			// must not push the event to retry and re-apply it.
			h.logger.Warn("failed to notify followers",
				zap.String("document_id", doc.ID.String()),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (h *DocumentHandler) handleApprovalRequest(ctx context.Context, message Message) error {
	var event ApprovalRequestEvent
	if err := decodePayload(message.Payload, &event); err != nil {
		metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "error").Inc()
		return err
	}

	doc, err := h.store.GetByWorkflowID(ctx, event.WorkflowID)
	if err != nil {
		metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "error").Inc()
		return fmt.Errorf("load document for workflow %s: %w", event.WorkflowID, err)
	}

	if doc.AssignedApproverID == "" || doc.AssignedApproverID == event.ActionBy {
		metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "suppressed").Inc()
		return nil
	}

	if h.notifier != nil {
		text := fmt.Sprintf("Approval requested: syllabus %s", doc.SubjectCode)
		if _, err := h.notifier.Notify(ctx, doc.AssignedApproverID,
			model.NotifyApprovalRequest, text, &doc.RootID, &doc.ID); err != nil {
			metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "error").Inc()
			return err
		}
	}

	metrics.SyncEventsConsumed.WithLabelValues(message.EventType, "applied").Inc()
	return nil
}

func documentStatusFor(state model.WorkflowState) model.DocumentStatus {
	switch state {
	case model.StateDraft:
		return model.DocumentDraft
	case model.StateReview:
		return model.DocumentPendingReview
	case model.StateApproved:
		return model.DocumentApproved
	case model.StateRejected:
		return model.DocumentRejected
	default:
		return model.DocumentDraft
	}
}

func decodePayload(payload model.JSONB, v interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("re-encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
