package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

// SyncOutboxEvent is the transactional-outbox row behind the sync protocol.
// It is inserted in the same transaction as the workflow state change and
// picked up asynchronously by the relay, so a broker outage can never roll
// back a committed transition.
type SyncOutboxEvent struct {
	EventID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EventType   string    `gorm:"not null"`
	RoutingKey  string    `gorm:"not null;index"`
	Payload     JSONB     `gorm:"type:jsonb;not null"`
	Status      string    `gorm:"not null;default:'pending';index"`
	CreatedAt   time.Time `gorm:"autoCreateTime;not null"`
	PublishedAt *time.Time
}

func (SyncOutboxEvent) TableName() string {
	return "sync_outbox_events"
}
