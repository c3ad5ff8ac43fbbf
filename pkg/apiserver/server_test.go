package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/model"
	"github.com/syllaflow/syllaflow/pkg/workflow"
)

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type memWorkflowStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*model.Workflow
	history   map[uuid.UUID][]model.WorkflowHistory
}

func newMemWorkflowStore() *memWorkflowStore {
	return &memWorkflowStore{
		workflows: make(map[uuid.UUID]*model.Workflow),
		history:   make(map[uuid.UUID][]model.WorkflowHistory),
	}
}

func (s *memWorkflowStore) Create(ctx context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *wf
	s.workflows[wf.ID] = &copied
	return nil
}

func (s *memWorkflowStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	copied := *wf
	return &copied, nil
}

func (s *memWorkflowStore) GetByEntity(ctx context.Context, entityID, entityType string) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wf := range s.workflows {
		if wf.EntityID == entityID && wf.EntityType == entityType {
			copied := *wf
			return &copied, nil
		}
	}
	return nil, workflow.ErrNotFound
}

func (s *memWorkflowStore) ListByState(ctx context.Context, state *model.WorkflowState) ([]model.Workflow, error) {
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

func (s *memWorkflowStore) History(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.WorkflowHistory(nil), s.history[workflowID]...), nil
}

func (s *memWorkflowStore) CommitTransition(ctx context.Context, t *workflow.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[t.WorkflowID]
	if !ok {
		return workflow.ErrNotFound
	}
	if wf.CurrentState != t.FromState {
		return workflow.ErrStateConflict
	}
	wf.CurrentState = t.ToState
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
		Comment:    t.Comment,
	})
	return nil
}

func newTestServer() *Server {
	service := workflow.NewService(newMemWorkflowStore(), zap.NewNop(), 0)
	return NewServer(service, nil, nil, zap.NewNop())
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()

	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	var response healthResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Fatalf("expected status ok, got %q", response.Status)
	}
}

func TestAPIAuthRequired(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	recorder := httptest.NewRecorder()

	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}

	var response errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Error != "missing authorization" {
		t.Fatalf("expected missing authorization error, got %q", response.Error)
	}
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	server := newTestServer()
	lecturer := map[string]string{"X-User-Id": "lecturer-1", "X-User-Role": "LECTURER"}
	head := map[string]string{"X-User-Id": "head-1", "X-User-Role": "HEAD"}

	recorder := doJSON(t, server, http.MethodPost, "/api/v1/workflows",
		map[string]string{"entity_id": "syllabus-1", "entity_type": "syllabus"}, lecturer)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create: expected %d, got %d (%s)", http.StatusCreated, recorder.Code, recorder.Body.String())
	}
	var created struct {
		ID           string `json:"id"`
		CurrentState string `json:"current_state"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.CurrentState != "DRAFT" {
		t.Fatalf("new workflow state = %q, want DRAFT", created.CurrentState)
	}

	// Duplicate create for the same entity conflicts.
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows",
		map[string]string{"entity_id": "syllabus-1", "entity_type": "syllabus"}, lecturer)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate create: expected %d, got %d", http.StatusConflict, recorder.Code)
	}

	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows/"+created.ID+"/submit", nil, lecturer)
	if recorder.Code != http.StatusOK {
		t.Fatalf("submit: expected %d, got %d (%s)", http.StatusOK, recorder.Code, recorder.Body.String())
	}

	// Approving twice: the second APPROVE has no legal transition.
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows/"+created.ID+"/approve", nil, head)
	if recorder.Code != http.StatusOK {
		t.Fatalf("approve: expected %d, got %d (%s)", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows/"+created.ID+"/approve", nil, head)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("second approve: expected %d, got %d", http.StatusConflict, recorder.Code)
	}

	recorder = doJSON(t, server, http.MethodGet, "/api/v1/workflows/"+created.ID+"/history", nil, lecturer)
	if recorder.Code != http.StatusOK {
		t.Fatalf("history: expected %d, got %d", http.StatusOK, recorder.Code)
	}
	var history []map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want 2", len(history))
	}
}

func TestTransitionValidationOverHTTP(t *testing.T) {
	server := newTestServer()
	lecturer := map[string]string{"X-User-Id": "lecturer-1", "X-User-Role": "LECTURER"}
	head := map[string]string{"X-User-Id": "head-1", "X-User-Role": "HEAD"}

	recorder := doJSON(t, server, http.MethodPost, "/api/v1/workflows",
		map[string]string{"entity_id": "syllabus-2", "entity_type": "syllabus"}, lecturer)
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows/"+created.ID+"/submit", nil, lecturer)
	if recorder.Code != http.StatusOK {
		t.Fatalf("submit: expected %d, got %d", http.StatusOK, recorder.Code)
	}

	// Lecturers cannot decide.
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows/"+created.ID+"/approve", nil, lecturer)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("lecturer approve: expected %d, got %d", http.StatusForbidden, recorder.Code)
	}

	// Rejection without a comment is refused.
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows/"+created.ID+"/reject", nil, head)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reject without comment: expected %d, got %d", http.StatusUnprocessableEntity, recorder.Code)
	}

	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows/"+created.ID+"/reject",
		map[string]string{"comment": "missing bibliography"}, head)
	if recorder.Code != http.StatusOK {
		t.Fatalf("reject with comment: expected %d, got %d (%s)", http.StatusOK, recorder.Code, recorder.Body.String())
	}

	// Identity headers are required for transitions.
	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows/"+created.ID+"/submit", nil, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("missing identity: expected %d, got %d", http.StatusBadRequest, recorder.Code)
	}

	recorder = doJSON(t, server, http.MethodPost, "/api/v1/workflows/"+uuid.NewString()+"/submit", nil, lecturer)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("unknown workflow: expected %d, got %d", http.StatusNotFound, recorder.Code)
	}
}
