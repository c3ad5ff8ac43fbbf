package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotifyStatusChanged    NotificationType = "STATUS_CHANGED"
	NotifyApprovalRequest  NotificationType = "APPROVAL_REQUEST"
	NotifyDeadlineReminder NotificationType = "DEADLINE_REMINDER"
)

// Notification is one durable inbox row per (recipient, message). Read flips
// false to true exactly once; ReadAt is stamped on that first flip and never
// touched again.
type Notification struct {
	ID              uuid.UUID        `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID          string           `gorm:"not null;index"`
	Type            NotificationType `gorm:"type:varchar(40);not null"`
	Message         string           `gorm:"type:text;not null"`
	RelatedRootID   *uuid.UUID       `gorm:"type:uuid"`
	RelatedEntityID *uuid.UUID       `gorm:"type:uuid"`
	Read            bool             `gorm:"not null;default:false;index"`
	ReadAt          *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime;not null;index"`
}

// Follow subscribes a user to state changes of all versions of a document.
type Follow struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID         string    `gorm:"not null;uniqueIndex:idx_follows_user_root"`
	DocumentRootID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_follows_user_root;index"`
	NotifyOnChange bool      `gorm:"not null;default:true"`
	CreatedAt      time.Time
}

// DeviceToken is a registered mobile/desktop push target for a user.
type DeviceToken struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID     string    `gorm:"not null;index"`
	Token      string    `gorm:"not null;uniqueIndex"`
	Platform   string    `gorm:"type:varchar(20)"`
	Active     bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time
	LastSeenAt time.Time
}
