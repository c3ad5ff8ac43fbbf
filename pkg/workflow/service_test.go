package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/model"
	syncpkg "github.com/syllaflow/syllaflow/pkg/sync"
)

// memStore is an in-memory Store with the same CAS semantics the postgres
// implementation enforces.
type memStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*model.Workflow
	history   map[uuid.UUID][]model.WorkflowHistory
	outbox    []*model.SyncOutboxEvent
}

func newMemStore() *memStore {
	return &memStore{
		workflows: make(map[uuid.UUID]*model.Workflow),
		history:   make(map[uuid.UUID][]model.WorkflowHistory),
	}
}

func (s *memStore) Create(ctx context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.workflows {
		if existing.EntityID == wf.EntityID && existing.EntityType == wf.EntityType {
			return ErrDuplicateWorkflow
		}
	}
	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	copied := *wf
	s.workflows[wf.ID] = &copied
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *wf
	return &copied, nil
}

func (s *memStore) GetByEntity(ctx context.Context, entityID, entityType string) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wf := range s.workflows {
		if wf.EntityID == entityID && wf.EntityType == entityType {
			copied := *wf
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ListByState(ctx context.Context, state *model.WorkflowState) ([]model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Workflow
	for _, wf := range s.workflows {
		if state == nil || wf.CurrentState == *state {
			out = append(out, *wf)
		}
	}
	return out, nil
}

func (s *memStore) History(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := append([]model.WorkflowHistory(nil), s.history[workflowID]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].ActionAt.Before(rows[j].ActionAt) })
	return rows, nil
}

func (s *memStore) CommitTransition(ctx context.Context, t *Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[t.WorkflowID]
	if !ok {
		return ErrNotFound
	}
	if wf.CurrentState != t.FromState {
		return ErrStateConflict
	}
	wf.CurrentState = t.ToState
	wf.UpdatedAt = time.Now()
	if t.ClearDeadline {
		wf.ReviewDeadline = nil
	} else if t.ReviewDeadline != nil {
		wf.ReviewDeadline = t.ReviewDeadline
	}
	s.history[t.WorkflowID] = append(s.history[t.WorkflowID], model.WorkflowHistory{
		ID:         uuid.New(),
		WorkflowID: t.WorkflowID,
		FromState:  t.FromState,
		ToState:    t.ToState,
		Event:      t.Event,
		ActionBy:   t.ActionBy,
		ActionAt:   time.Now(),
		Comment:    t.Comment,
	})
	s.outbox = append(s.outbox, t.Outbox...)
	return nil
}

func newTestService(store *memStore) *Service {
	return NewService(store, zap.NewNop(), 72*time.Hour)
}

func TestCreateIsIdempotentByEntity(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	wf, err := svc.Create(ctx, "S1", "SYLLABUS")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if wf.CurrentState != model.StateDraft {
		t.Fatalf("new workflow state = %s, want DRAFT", wf.CurrentState)
	}

	if _, err := svc.Create(ctx, "S1", "SYLLABUS"); !errors.Is(err, ErrDuplicateWorkflow) {
		t.Fatalf("second Create: expected ErrDuplicateWorkflow, got %v", err)
	}
}

func TestApplyEventSubmitEmitsSyncEvent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	wf, _ := svc.Create(ctx, "S1", "SYLLABUS")

	state, err := svc.ApplyEvent(ctx, wf.ID, model.EventSubmit, "lecturer-1", model.RoleLecturer, "")
	if err != nil {
		t.Fatalf("ApplyEvent(SUBMIT) error: %v", err)
	}
	if state != model.StateReview {
		t.Fatalf("state = %s, want REVIEW", state)
	}

	history, _ := store.History(ctx, wf.ID)
	if len(history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(history))
	}
	if history[0].FromState != model.StateDraft || history[0].ToState != model.StateReview ||
		history[0].Event != model.EventSubmit {
		t.Fatalf("unexpected history row: %+v", history[0])
	}

	if len(store.outbox) != 1 {
		t.Fatalf("outbox rows = %d, want 1", len(store.outbox))
	}
	event := store.outbox[0]
	if event.EventType != syncpkg.EventTypeSync {
		t.Fatalf("event type = %s, want %s", event.EventType, syncpkg.EventTypeSync)
	}
	if event.Payload["fromState"] != "DRAFT" || event.Payload["toState"] != "REVIEW" {
		t.Fatalf("unexpected sync payload: %v", event.Payload)
	}

	updated, _ := store.GetByID(ctx, wf.ID)
	if updated.ReviewDeadline == nil {
		t.Fatal("SUBMIT should stamp the review deadline")
	}
}

func TestApplyEventApproveChainsApprovalRequest(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	wf, _ := svc.Create(ctx, "S1", "SYLLABUS")
	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventSubmit, "lecturer-1", model.RoleLecturer, ""); err != nil {
		t.Fatalf("SUBMIT error: %v", err)
	}

	state, err := svc.ApplyEvent(ctx, wf.ID, model.EventApprove, "head-1", model.RoleHead, "")
	if err != nil {
		t.Fatalf("APPROVE error: %v", err)
	}
	if state != model.StateApproved {
		t.Fatalf("state = %s, want APPROVED", state)
	}

	var types []string
	for _, event := range store.outbox {
		types = append(types, event.EventType)
	}
	want := []string{syncpkg.EventTypeSync, syncpkg.EventTypeSync, syncpkg.EventTypeApprovalRequest}
	if len(types) != len(want) {
		t.Fatalf("outbox event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("outbox event types = %v, want %v", types, want)
		}
	}

	updated, _ := store.GetByID(ctx, wf.ID)
	if updated.ReviewDeadline != nil {
		t.Fatal("APPROVE should clear the review deadline")
	}
}

func TestApplyEventIllegalTransitionLeavesStateUntouched(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	wf, _ := svc.Create(ctx, "S1", "SYLLABUS")
	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventSubmit, "lecturer-1", model.RoleLecturer, ""); err != nil {
		t.Fatalf("SUBMIT error: %v", err)
	}
	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventRequireEdit, "head-1", model.RoleHead, "fix CLO mapping"); err != nil {
		t.Fatalf("REQUIRE_EDIT error: %v", err)
	}

	// APPROVE is not legal from DRAFT.
	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventApprove, "head-1", model.RoleHead, ""); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	updated, _ := store.GetByID(ctx, wf.ID)
	if updated.CurrentState != model.StateDraft {
		t.Fatalf("state = %s, want DRAFT preserved", updated.CurrentState)
	}
	history, _ := store.History(ctx, wf.ID)
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want 2 (no row for rejected command)", len(history))
	}
}

func TestApplyEventValidation(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	wf, _ := svc.Create(ctx, "S1", "SYLLABUS")

	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventSubmit, "head-1", model.RoleHead, ""); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("SUBMIT as head: expected ErrRoleNotAllowed, got %v", err)
	}
	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventSubmit, "lecturer-1", model.RoleLecturer, ""); err != nil {
		t.Fatalf("SUBMIT error: %v", err)
	}
	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventReject, "head-1", model.RoleHead, "  "); !errors.Is(err, ErrCommentRequired) {
		t.Fatalf("REJECT without comment: expected ErrCommentRequired, got %v", err)
	}
	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventApprove, "lecturer-1", model.RoleLecturer, ""); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("APPROVE as lecturer: expected ErrRoleNotAllowed, got %v", err)
	}
}

func TestApplyEventDeadlineExceededBlocksDecision(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	wf, _ := svc.Create(ctx, "S1", "SYLLABUS")
	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventSubmit, "lecturer-1", model.RoleLecturer, ""); err != nil {
		t.Fatalf("SUBMIT error: %v", err)
	}

	svc.clock = func() time.Time { return time.Now().Add(100 * 24 * time.Hour) }

	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventApprove, "head-1", model.RoleHead, ""); !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}
}

func TestApplyEventUnknownWorkflow(t *testing.T) {
	svc := newTestService(newMemStore())

	if _, err := svc.ApplyEvent(context.Background(), uuid.New(), model.EventSubmit, "u", model.RoleLecturer, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentAppliersOnlyOneWins(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	wf, _ := svc.Create(ctx, "S1", "SYLLABUS")
	if _, err := svc.ApplyEvent(ctx, wf.ID, model.EventSubmit, "lecturer-1", model.RoleLecturer, ""); err != nil {
		t.Fatalf("SUBMIT error: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.ApplyEvent(ctx, wf.ID, model.EventApprove, "head-1", model.RoleHead, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, ErrStateConflict) && !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("unexpected error from losing applier: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded appliers = %d, want exactly 1", succeeded)
	}

	history, _ := store.History(ctx, wf.ID)
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want 2", len(history))
	}
}

func TestHistoryReplayMatchesCurrentState(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	wf, _ := svc.Create(ctx, "S1", "SYLLABUS")
	steps := []struct {
		event   model.WorkflowEvent
		role    model.UserRole
		comment string
	}{
		{model.EventSubmit, model.RoleLecturer, ""},
		{model.EventRequireEdit, model.RoleHead, "needs references"},
		{model.EventSubmit, model.RoleLecturer, ""},
		{model.EventApprove, model.RoleRector, ""},
	}
	for _, step := range steps {
		if _, err := svc.ApplyEvent(ctx, wf.ID, step.event, "u", step.role, step.comment); err != nil {
			t.Fatalf("ApplyEvent(%s) error: %v", step.event, err)
		}
	}

	history, err := svc.GetHistory(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetHistory error: %v", err)
	}
	replayed, err := Replay(history)
	if err != nil {
		t.Fatalf("Replay error: %v", err)
	}
	current, _ := store.GetByID(ctx, wf.ID)
	if replayed != current.CurrentState {
		t.Fatalf("replayed state %s != stored state %s", replayed, current.CurrentState)
	}
}
