package notify

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/eventbus"
	"github.com/syllaflow/syllaflow/pkg/model"
)

// BusBroadcaster publishes persisted notifications on the redis bus so that
// whichever process holds the recipient's live connection can deliver them.
// The scanner and the sync consumer run in their own processes and use this
// as their Broadcaster.
type BusBroadcaster struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

func NewBusBroadcaster(bus *eventbus.Bus, logger *zap.Logger) *BusBroadcaster {
	return &BusBroadcaster{bus: bus, logger: logger}
}

func (b *BusBroadcaster) Broadcast(ctx context.Context, userID string, n *model.Notification) {
	event, err := eventbus.NewEvent(eventbus.TypeNotificationCreated, n)
	if err != nil {
		b.logger.Warn("failed to encode notification event", zap.Error(err))
		return
	}
	if err := b.bus.Publish(ctx, eventbus.ChannelNotification, event); err != nil {
		// The inbox row is already durable; losing the live push is acceptable.
		b.logger.Warn("failed to publish notification event",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// RunBridge pumps notification events from the redis bus into the local live
// hub. It returns when the context is cancelled.
func RunBridge(ctx context.Context, bus *eventbus.Bus, hub *Hub, logger *zap.Logger) {
	for event := range bus.Subscribe(ctx, eventbus.ChannelNotification) {
		if event.Type != eventbus.TypeNotificationCreated {
			continue
		}
		var n model.Notification
		if err := json.Unmarshal(event.Data, &n); err != nil {
			logger.Warn("failed to decode notification event", zap.Error(err))
			continue
		}
		hub.Push(n.UserID, &n)
	}
}
