package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/syllaflow/syllaflow/pkg/model"
	"github.com/syllaflow/syllaflow/pkg/workflow"
)

// WorkflowRepository implements workflow.Store on top of gorm/postgres.
// Per-workflow serialization is a compare-and-swap on current_state inside
// CommitTransition, not a row lock held across the request.
type WorkflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) Create(ctx context.Context, wf *model.Workflow) error {
	err := r.db.WithContext(ctx).Create(wf).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return workflow.ErrDuplicateWorkflow
	}
	return err
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	var wf model.Workflow
	err := r.db.WithContext(ctx).First(&wf, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *WorkflowRepository) GetByEntity(ctx context.Context, entityID, entityType string) (*model.Workflow, error) {
	var wf model.Workflow
	err := r.db.WithContext(ctx).
		First(&wf, "entity_id = ? AND entity_type = ?", entityID, entityType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *WorkflowRepository) ListByState(ctx context.Context, state *model.WorkflowState) ([]model.Workflow, error) {
	var workflows []model.Workflow
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if state != nil {
		query = query.Where("current_state = ?", *state)
	}
	err := query.Find(&workflows).Error
	return workflows, err
}

func (r *WorkflowRepository) History(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowHistory, error) {
	var rows []model.WorkflowHistory
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("action_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *WorkflowRepository) CommitTransition(ctx context.Context, t *workflow.Transition) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"current_state": t.ToState,
			"updated_at":    time.Now(),
		}
		if t.ClearDeadline {
			updates["review_deadline"] = nil
		} else if t.ReviewDeadline != nil {
			updates["review_deadline"] = t.ReviewDeadline
		}

		result := tx.Model(&model.Workflow{}).
			Where("id = ? AND current_state = ?", t.WorkflowID, t.FromState).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Either the workflow vanished or another transition won the CAS.
			var count int64
			if err := tx.Model(&model.Workflow{}).Where("id = ?", t.WorkflowID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return workflow.ErrNotFound
			}
			return workflow.ErrStateConflict
		}

		history := &model.WorkflowHistory{
			ID:         uuid.New(),
			WorkflowID: t.WorkflowID,
			FromState:  t.FromState,
			ToState:    t.ToState,
			Event:      t.Event,
			ActionBy:   t.ActionBy,
			Comment:    t.Comment,
		}
		if err := tx.Create(history).Error; err != nil {
			return err
		}

		for _, event := range t.Outbox {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
