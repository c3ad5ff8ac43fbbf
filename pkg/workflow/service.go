package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/metrics"
	"github.com/syllaflow/syllaflow/pkg/model"
	"github.com/syllaflow/syllaflow/pkg/sync"
)

// Store is the persistence contract the orchestrator needs. The postgres
// implementation backs it in production; tests use an in-memory fake.
type Store interface {
	Create(ctx context.Context, wf *model.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Workflow, error)
	GetByEntity(ctx context.Context, entityID, entityType string) (*model.Workflow, error)
	ListByState(ctx context.Context, state *model.WorkflowState) ([]model.Workflow, error)
	History(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowHistory, error)

	// CommitTransition applies the state change, the history row and the
	// outbox rows as one atomic unit. It must compare-and-swap on the
	// expected from-state and return ErrStateConflict when another
	// transition won the race.
	CommitTransition(ctx context.Context, t *Transition) error
}

// Transition is everything a committed state change writes.
type Transition struct {
	WorkflowID     uuid.UUID
	FromState      model.WorkflowState
	ToState        model.WorkflowState
	Event          model.WorkflowEvent
	ActionBy       string
	Comment        string
	ReviewDeadline *time.Time
	ClearDeadline  bool
	Outbox         []*model.SyncOutboxEvent
}

type Service struct {
	store  Store
	logger *zap.Logger
	clock  func() time.Time

	reviewWindow time.Duration
}

func NewService(store Store, logger *zap.Logger, reviewWindow time.Duration) *Service {
	if reviewWindow <= 0 {
		reviewWindow = 7 * 24 * time.Hour
	}
	return &Service{
		store:        store,
		logger:       logger,
		clock:        time.Now,
		reviewWindow: reviewWindow,
	}
}

// Create opens the approval workflow for an entity. Creation is
// idempotent-by-entity: a second call for the same pair fails with
// ErrDuplicateWorkflow, backed by a lookup here and a unique index in the
// store.
func (s *Service) Create(ctx context.Context, entityID, entityType string) (*model.Workflow, error) {
	if existing, err := s.store.GetByEntity(ctx, entityID, entityType); err == nil && existing != nil {
		return nil, ErrDuplicateWorkflow
	}

	wf := &model.Workflow{
		ID:           uuid.New(),
		EntityID:     entityID,
		EntityType:   entityType,
		CurrentState: model.StateDraft,
	}
	if err := s.store.Create(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, state *model.WorkflowState) ([]model.Workflow, error) {
	return s.store.ListByState(ctx, state)
}

func (s *Service) GetHistory(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowHistory, error) {
	if _, err := s.store.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, workflowID)
}

// ApplyEvent validates and commits one transition. On success exactly one
// history row is appended, the state is swapped, and the sync events are
// staged in the outbox within the same transaction. On any error the prior
// state survives untouched.
func (s *Service) ApplyEvent(ctx context.Context, workflowID uuid.UUID, event model.WorkflowEvent,
	actionBy string, role model.UserRole, comment string) (model.WorkflowState, error) {

	wf, err := s.store.GetByID(ctx, workflowID)
	if err != nil {
		return "", err
	}
	from := wf.CurrentState
	now := s.clock()

	if err := s.validateCommand(wf, event, role, comment, now); err != nil {
		metrics.TransitionRejections.WithLabelValues(rejectionReason(err)).Inc()
		return "", err
	}

	to, err := Next(from, event)
	if err != nil {
		metrics.TransitionRejections.WithLabelValues("illegal_transition").Inc()
		return "", err
	}

	t := &Transition{
		WorkflowID: workflowID,
		FromState:  from,
		ToState:    to,
		Event:      event,
		ActionBy:   actionBy,
		Comment:    comment,
	}

	switch event {
	case model.EventSubmit:
		deadline := now.Add(s.reviewWindow)
		t.ReviewDeadline = &deadline
	case model.EventApprove, model.EventReject:
		t.ClearDeadline = true
	}

	syncEvent, err := sync.NewOutboxEvent(sync.EventTypeSync, wf.EntityID, sync.WorkflowSyncEvent{
		WorkflowID: workflowID,
		EntityID:   wf.EntityID,
		EntityType: wf.EntityType,
		FromState:  from,
		ToState:    to,
		ActionBy:   actionBy,
		Comment:    comment,
	})
	if err != nil {
		return "", err
	}
	t.Outbox = append(t.Outbox, syncEvent)

	if event == model.EventApprove {
		approvalEvent, err := sync.NewOutboxEvent(sync.EventTypeApprovalRequest, wf.EntityID, sync.ApprovalRequestEvent{
			WorkflowID: workflowID,
			EntityID:   wf.EntityID,
			EntityType: wf.EntityType,
			FromState:  from,
			ToState:    to,
			ActionBy:   actionBy,
		})
		if err != nil {
			return "", err
		}
		t.Outbox = append(t.Outbox, approvalEvent)
	}

	if err := s.store.CommitTransition(ctx, t); err != nil {
		if err == ErrStateConflict {
			metrics.TransitionRejections.WithLabelValues("state_conflict").Inc()
		}
		return "", err
	}

	metrics.TransitionsTotal.WithLabelValues(string(event), string(to)).Inc()
	s.logger.Info("workflow transition committed",
		zap.String("workflow_id", workflowID.String()),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(to)),
		zap.String("event", string(event)),
		zap.String("action_by", actionBy),
	)

	return to, nil
}

func (s *Service) validateCommand(wf *model.Workflow, event model.WorkflowEvent,
	role model.UserRole, comment string, now time.Time) error {

	if (event == model.EventApprove || event == model.EventReject) &&
		wf.ReviewDeadline != nil && now.After(*wf.ReviewDeadline) {
		return ErrDeadlineExceeded
	}

	if (event == model.EventReject || event == model.EventRequireEdit) &&
		strings.TrimSpace(comment) == "" {
		return ErrCommentRequired
	}

	switch event {
	case model.EventSubmit:
		if role != model.RoleLecturer {
			return ErrRoleNotAllowed
		}
	case model.EventApprove, model.EventReject, model.EventRequireEdit:
		if role != model.RoleHead && role != model.RoleRector {
			return ErrRoleNotAllowed
		}
	}
	return nil
}

func rejectionReason(err error) string {
	switch err {
	case ErrDeadlineExceeded:
		return "deadline_exceeded"
	case ErrCommentRequired:
		return "comment_required"
	case ErrRoleNotAllowed:
		return "role_not_allowed"
	default:
		return "invalid"
	}
}
