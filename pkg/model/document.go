package model

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	DocumentDraft           DocumentStatus = "DRAFT"
	DocumentPendingReview   DocumentStatus = "PENDING_REVIEW"
	DocumentPendingApproval DocumentStatus = "PENDING_APPROVAL"
	DocumentApproved        DocumentStatus = "APPROVED"
	DocumentRejected        DocumentStatus = "REJECTED"
)

// Document is the document service's own copy of a syllabus version. Its
// status is converged from committed workflow transitions by the sync
// consumer; the workflow stays the source of truth for approval state.
//
// RootID groups all versions of the same syllabus; follows and reminders
// are keyed by it.
type Document struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RootID             uuid.UUID      `gorm:"type:uuid;not null;index"`
	SubjectCode        string         `gorm:"not null"`
	Title              string
	Status             DocumentStatus `gorm:"type:varchar(30);not null;default:'DRAFT';index"`
	WorkflowID         *uuid.UUID     `gorm:"type:uuid;uniqueIndex"`
	OwnerID            string         `gorm:"not null"`
	AssignedApproverID string
	SubmittedAt        *time.Time
	ReviewedAt         *time.Time
	ApprovedAt         *time.Time
	RejectedAt         *time.Time
	RejectionReason    string `gorm:"type:text"`
	LastActionBy       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Document) TableName() string {
	return "documents"
}
