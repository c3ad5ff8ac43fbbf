package model

import (
	"time"

	"github.com/google/uuid"
)

type WorkflowState string

const (
	StateDraft    WorkflowState = "DRAFT"
	StateReview   WorkflowState = "REVIEW"
	StateApproved WorkflowState = "APPROVED"
	StateRejected WorkflowState = "REJECTED"
)

type WorkflowEvent string

const (
	EventSubmit      WorkflowEvent = "SUBMIT"
	EventApprove     WorkflowEvent = "APPROVE"
	EventReject      WorkflowEvent = "REJECT"
	EventRequireEdit WorkflowEvent = "REQUIRE_EDIT"
)

type UserRole string

const (
	RoleLecturer UserRole = "LECTURER"
	RoleHead     UserRole = "HEAD"
	RoleRector   UserRole = "RECTOR"
)

// Workflow is the approval state record for one document. There is exactly
// one live workflow per (entity_id, entity_type) pair; the unique index
// backs the create-once contract.
type Workflow struct {
	ID             uuid.UUID     `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EntityID       string        `gorm:"not null;uniqueIndex:idx_workflows_entity"`
	EntityType     string        `gorm:"not null;uniqueIndex:idx_workflows_entity"`
	CurrentState   WorkflowState `gorm:"type:varchar(20);not null;default:'DRAFT';index"`
	ReviewDeadline *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkflowHistory rows are append-only. Replaying them in action_at order
// from DRAFT reproduces the workflow's current state.
type WorkflowHistory struct {
	ID         uuid.UUID     `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	WorkflowID uuid.UUID     `gorm:"type:uuid;not null;index"`
	FromState  WorkflowState `gorm:"type:varchar(20);not null"`
	ToState    WorkflowState `gorm:"type:varchar(20);not null"`
	Event      WorkflowEvent `gorm:"type:varchar(20);not null"`
	ActionBy   string        `gorm:"not null"`
	ActionAt   time.Time     `gorm:"autoCreateTime;not null"`
	Comment    string        `gorm:"type:text"`
}

func (WorkflowHistory) TableName() string {
	return "workflow_history"
}
