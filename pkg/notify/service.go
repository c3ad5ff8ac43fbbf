package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/metrics"
	"github.com/syllaflow/syllaflow/pkg/model"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Store persists the durable inbox.
type Store interface {
	Create(ctx context.Context, n *model.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int64, error)
}

// FollowStore looks up and maintains per-document subscriptions.
type FollowStore interface {
	Follow(ctx context.Context, userID string, rootID uuid.UUID) error
	Unfollow(ctx context.Context, userID string, rootID uuid.UUID) error
	Followers(ctx context.Context, rootID uuid.UUID) ([]string, error)
}

// TokenStore maintains registered push-notification device tokens.
type TokenStore interface {
	Register(ctx context.Context, token *model.DeviceToken) error
	ActiveTokens(ctx context.Context, userID string) ([]model.DeviceToken, error)
}

// Broadcaster carries a freshly persisted notification to live channels. The
// hub implements it in-process; the bus broadcaster hands it to redis so the
// api-server's hub reaches users connected to another process.
type Broadcaster interface {
	Broadcast(ctx context.Context, userID string, n *model.Notification)
}

// Gateway delivers to one external push target (device token based).
type Gateway interface {
	Push(ctx context.Context, token, title, body string) error
}

type Service struct {
	store       Store
	follows     FollowStore
	tokens      TokenStore
	broadcaster Broadcaster
	gateway     Gateway
	logger      *zap.Logger
	clock       func() time.Time
}

func NewService(store Store, follows FollowStore, tokens TokenStore,
	broadcaster Broadcaster, gateway Gateway, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		follows:     follows,
		tokens:      tokens,
		broadcaster: broadcaster,
		gateway:     gateway,
		logger:      logger,
		clock:       time.Now,
	}
}

// Notify fans one message out to all of the recipient's channels: the durable
// inbox row always, then the live broadcast and the external push gateway,
// both best-effort. Channel failures never fail the call once the row is
// persisted.
func (s *Service) Notify(ctx context.Context, userID string, typ model.NotificationType,
	message string, rootID, entityID *uuid.UUID) (*model.Notification, error) {

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("message is required")
	}

	n := &model.Notification{
		ID:              uuid.New(),
		UserID:          userID,
		Type:            typ,
		Message:         strings.TrimSpace(message),
		RelatedRootID:   rootID,
		RelatedEntityID: entityID,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	metrics.NotificationsCreated.WithLabelValues(string(typ)).Inc()

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, userID, n)
	}
	s.forwardToDevices(ctx, n)

	return n, nil
}

// NotifyFollowers notifies every follower of the document, excluding the
// acting user so people are not told about their own action.
func (s *Service) NotifyFollowers(ctx context.Context, rootID uuid.UUID, entityID *uuid.UUID,
	typ model.NotificationType, message, excludeUserID string) error {

	followers, err := s.follows.Followers(ctx, rootID)
	if err != nil {
		return err
	}

	exclude := strings.TrimSpace(excludeUserID)
	seen := make(map[string]struct{}, len(followers))
	for _, userID := range followers {
		userID = strings.TrimSpace(userID)
		if userID == "" || userID == exclude {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		if _, err := s.Notify(ctx, userID, typ, message, &rootID, entityID); err != nil {
			// One follower's failure must not starve the rest.
			s.logger.Warn("failed to notify follower",
				zap.String("user_id", userID),
				zap.String("root_id", rootID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) forwardToDevices(ctx context.Context, n *model.Notification) {
	if s.gateway == nil || s.tokens == nil {
		return
	}
	tokens, err := s.tokens.ActiveTokens(ctx, n.UserID)
	if err != nil {
		s.logger.Warn("failed to load device tokens", zap.String("user_id", n.UserID), zap.Error(err))
		return
	}
	for _, token := range tokens {
		if err := s.gateway.Push(ctx, token.Token, string(n.Type), n.Message); err != nil {
			metrics.PushDeliveries.WithLabelValues("error").Inc()
			s.logger.Warn("push gateway delivery failed",
				zap.String("user_id", n.UserID),
				zap.String("platform", token.Platform),
				zap.Error(err),
			)
			continue
		}
		metrics.PushDeliveries.WithLabelValues("ok").Inc()
	}
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	return s.store.ListByUser(ctx, userID, unreadOnly, limit)
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.CountUnread(ctx, userID)
}

// MarkRead is idempotent: only the first call for a notification stamps
// ReadAt; later calls return the row unchanged.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return n, nil
	}
	readAt := s.clock()
	flipped, err := s.store.MarkRead(ctx, id, readAt)
	if err != nil {
		return nil, err
	}
	if flipped {
		n.Read = true
		n.ReadAt = &readAt
	}
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllRead(ctx, userID, s.clock())
}

func (s *Service) Follow(ctx context.Context, userID string, rootID uuid.UUID) error {
	return s.follows.Follow(ctx, userID, rootID)
}

func (s *Service) Unfollow(ctx context.Context, userID string, rootID uuid.UUID) error {
	return s.follows.Unfollow(ctx, userID, rootID)
}

func (s *Service) RegisterDevice(ctx context.Context, userID, token, platform string) error {
	if s.tokens == nil {
		return errors.New("device registration is not configured")
	}
	return s.tokens.Register(ctx, &model.DeviceToken{
		ID:       uuid.New(),
		UserID:   strings.TrimSpace(userID),
		Token:    strings.TrimSpace(token),
		Platform: platform,
		Active:   true,
	})
}
