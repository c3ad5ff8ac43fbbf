package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReminderLedger records "last reminder sent" per (user, document root) as a
// key with a TTL equal to the cooldown window. SETNX makes the
// check-and-record atomic, so two scanner workers cannot both pass the
// cooldown gate for the same pair.
type ReminderLedger struct {
	rdb      redis.UniversalClient
	cooldown time.Duration
}

func NewReminderLedger(rdb redis.UniversalClient, cooldown time.Duration) *ReminderLedger {
	if cooldown <= 0 {
		cooldown = 12 * time.Hour
	}
	return &ReminderLedger{rdb: rdb, cooldown: cooldown}
}

// Reserve returns true when no reminder was sent to the pair inside the
// cooldown window, claiming the slot in the same round trip.
func (l *ReminderLedger) Reserve(ctx context.Context, userID string, rootID uuid.UUID) (bool, error) {
	return l.rdb.SetNX(ctx, l.key(userID, rootID), time.Now().Unix(), l.cooldown).Result()
}

// Release gives a reservation back after a failed delivery so the pair stays
// eligible for the next scan.
func (l *ReminderLedger) Release(ctx context.Context, userID string, rootID uuid.UUID) error {
	return l.rdb.Del(ctx, l.key(userID, rootID)).Err()
}

func (l *ReminderLedger) key(userID string, rootID uuid.UUID) string {
	return fmt.Sprintf("syllaflow:reminder:%s:%s", userID, rootID)
}

// EventDeduper tracks consumed sync event ids so a redelivered message is
// committed without reapplying its effects.
type EventDeduper struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewEventDeduper(rdb redis.UniversalClient, ttl time.Duration) *EventDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EventDeduper{rdb: rdb, ttl: ttl}
}

func (d *EventDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	count, err := d.rdb.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *EventDeduper) MarkSeen(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	return d.rdb.Set(ctx, d.key(eventID), time.Now().Unix(), d.ttl).Err()
}

func (d *EventDeduper) key(eventID string) string {
	return "syllaflow:sync:seen:" + eventID
}
