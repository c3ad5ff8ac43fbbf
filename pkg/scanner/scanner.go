package scanner

import (
	"context"
	"fmt"
	"math"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/config"
	"github.com/syllaflow/syllaflow/pkg/metrics"
	"github.com/syllaflow/syllaflow/pkg/model"
)

// DocumentSource lists documents whose phase started inside the lookback
// window. The coarse SQL filter over-selects; the scanner does the precise
// deadline arithmetic per document.
type DocumentSource interface {
	PendingSince(ctx context.Context, statuses []model.DocumentStatus, since time.Time) ([]model.Document, error)
}

type FollowSource interface {
	Followers(ctx context.Context, rootID uuid.UUID) ([]string, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID string, typ model.NotificationType,
		message string, rootID, entityID *uuid.UUID) (*model.Notification, error)
}

// Ledger gates reminders per (user, document root). Reserve must be atomic:
// it returns true at most once per cooldown window even under concurrent
// scanners. Release gives a reservation back when the reminder was never
// delivered, so a transient notify failure does not eat the whole window.
type Ledger interface {
	Reserve(ctx context.Context, userID string, rootID uuid.UUID) (bool, error)
	Release(ctx context.Context, userID string, rootID uuid.UUID) error
}

// Scanner periodically finds documents whose review or approval deadline is
// inside the reminder lead window and notifies the followers that have not
// been reminded within the cooldown.
type Scanner struct {
	docs     DocumentSource
	follows  FollowSource
	notifier Notifier
	ledger   Ledger
	logger   *zap.Logger
	cfg      config.DeadlineConfig
	clock    func() time.Time
	running  atomic.Bool
}

func New(docs DocumentSource, follows FollowSource, notifier Notifier,
	ledger Ledger, cfg config.DeadlineConfig, logger *zap.Logger) *Scanner {
	if cfg.ReviewHours <= 0 {
		cfg.ReviewHours = 72
	}
	if cfg.ApprovalHours <= 0 {
		cfg.ApprovalHours = 72
	}
	if cfg.ReminderLeadHours <= 0 {
		cfg.ReminderLeadHours = 6
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Minute
	}
	return &Scanner{
		docs:     docs,
		follows:  follows,
		notifier: notifier,
		ledger:   ledger,
		logger:   logger,
		cfg:      cfg,
		clock:    time.Now,
	}
}

func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("deadline scanner starting",
		zap.Duration("scan_interval", s.cfg.ScanInterval),
		zap.Int("lead_hours", s.cfg.ReminderLeadHours),
	)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.Scan(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deadline scanner shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs one pass. Passes never overlap: when a slow pass is still in
// flight the next tick is skipped instead of queued.
func (s *Scanner) Scan(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous scan still in flight, skipping tick")
		return
	}
	defer s.running.Store(false)

	now := s.clock()
	lookback := time.Duration(maxInt(s.cfg.ReviewHours, s.cfg.ApprovalHours)+s.cfg.ReminderLeadHours)*time.Hour + 6*time.Hour

	docs, err := s.docs.PendingSince(ctx,
		[]model.DocumentStatus{model.DocumentPendingReview, model.DocumentPendingApproval},
		now.Add(-lookback),
	)
	if err != nil {
		s.logger.Warn("failed to list pending documents", zap.Error(err))
		return
	}

	for i := range docs {
		if err := s.remind(ctx, &docs[i], now); err != nil {
			s.logger.Warn("failed to process document",
				zap.String("document_id", docs[i].ID.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Scanner) remind(ctx context.Context, doc *model.Document, now time.Time) error {
	deadline, ok := s.deadlineFor(doc)
	if !ok {
		return nil
	}

	remaining := deadline.Sub(now)
	lead := time.Duration(s.cfg.ReminderLeadHours) * time.Hour
	if remaining < 0 || remaining > lead {
		return nil
	}
	if doc.RootID == uuid.Nil {
		return nil
	}

	followers, err := s.follows.Followers(ctx, doc.RootID)
	if err != nil {
		return fmt.Errorf("load followers: %w", err)
	}

	hours := int(math.Ceil(remaining.Hours()))
	if hours < 1 {
		hours = 1
	}
	message := fmt.Sprintf("Deadline coming: syllabus %s due in %d hour(s)", doc.SubjectCode, hours)

	for _, userID := range followers {
		reserved, err := s.ledger.Reserve(ctx, userID, doc.RootID)
		if err != nil {
			s.logger.Warn("reminder ledger unavailable",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		if !reserved {
			metrics.RemindersSuppressed.Inc()
			continue
		}

		if _, err := s.notifier.Notify(ctx, userID,
			model.NotifyDeadlineReminder, message, &doc.RootID, &doc.ID); err != nil {
			s.logger.Warn("failed to send reminder",
				zap.String("user_id", userID),
				zap.String("document_id", doc.ID.String()),
				zap.Error(err),
			)
			if releaseErr := s.ledger.Release(ctx, userID, doc.RootID); releaseErr != nil {
				s.logger.Warn("failed to release reminder reservation",
					zap.String("user_id", userID),
					zap.Error(releaseErr),
				)
			}
			continue
		}
		metrics.RemindersSent.Inc()
	}

	return nil
}

// deadlineFor derives the phase deadline from its base timestamp. A document
// whose base timestamp is missing cannot have a deadline and is skipped.
func (s *Scanner) deadlineFor(doc *model.Document) (time.Time, bool) {
	switch doc.Status {
	case model.DocumentPendingReview:
		if doc.SubmittedAt == nil {
			return time.Time{}, false
		}
		return doc.SubmittedAt.Add(time.Duration(s.cfg.ReviewHours) * time.Hour), true
	case model.DocumentPendingApproval:
		if doc.ReviewedAt == nil {
			return time.Time{}, false
		}
		return doc.ReviewedAt.Add(time.Duration(s.cfg.ApprovalHours) * time.Hour), true
	default:
		return time.Time{}, false
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// MemoryLedger is a process-local Ledger for tests.
type MemoryLedger struct {
	mu       gosync.Mutex
	entries  map[string]time.Time
	cooldown time.Duration
	clock    func() time.Time
}

func NewMemoryLedger(cooldown time.Duration) *MemoryLedger {
	if cooldown <= 0 {
		cooldown = 12 * time.Hour
	}
	return &MemoryLedger{
		entries:  make(map[string]time.Time),
		cooldown: cooldown,
		clock:    time.Now,
	}
}

func (l *MemoryLedger) Reserve(ctx context.Context, userID string, rootID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := userID + ":" + rootID.String()
	now := l.clock()
	if sentAt, ok := l.entries[key]; ok && now.Sub(sentAt) < l.cooldown {
		return false, nil
	}
	l.entries[key] = now
	return true, nil
}

func (l *MemoryLedger) Release(ctx context.Context, userID string, rootID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, userID+":"+rootID.String())
	return nil
}
