package sync

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/syllaflow/syllaflow/pkg/model"
)

const (
	// EventTypeSync carries every committed transition so the document
	// service converges its own status copy.
	EventTypeSync = "workflow.sync"

	// EventTypeApprovalRequest is the narrower handoff event emitted in
	// addition to the sync event when an APPROVE produces a next approver.
	EventTypeApprovalRequest = "workflow.approval_request"
)

// WorkflowSyncEvent is the wire payload for one committed transition.
// Consumers are expected to be idempotent against redelivery: workflowId plus
// fromState/toState is enough to recognize an already-applied event.
type WorkflowSyncEvent struct {
	WorkflowID uuid.UUID           `json:"workflowId"`
	EntityID   string              `json:"entityId"`
	EntityType string              `json:"entityType"`
	FromState  model.WorkflowState `json:"fromState"`
	ToState    model.WorkflowState `json:"toState"`
	ActionBy   string              `json:"actionBy"`
	Comment    string              `json:"comment,omitempty"`
}

// ApprovalRequestEvent notifies the newly-current reviewer after an APPROVE
// handoff.
type ApprovalRequestEvent struct {
	WorkflowID uuid.UUID           `json:"workflowId"`
	EntityID   string              `json:"entityId"`
	EntityType string              `json:"entityType"`
	FromState  model.WorkflowState `json:"fromState"`
	ToState    model.WorkflowState `json:"toState"`
	ActionBy   string              `json:"actionBy"`
}

// NewOutboxEvent wraps a payload into an outbox row ready to be inserted in
// the orchestrator's transaction. The routing key keys the Kafka message so
// all events of one entity land on one partition, in order.
func NewOutboxEvent(eventType, routingKey string, payload interface{}) (*model.SyncOutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	var body model.JSONB
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return &model.SyncOutboxEvent{
		EventID:    uuid.New(),
		EventType:  eventType,
		RoutingKey: routingKey,
		Payload:    body,
		Status:     model.OutboxStatusPending,
	}, nil
}
