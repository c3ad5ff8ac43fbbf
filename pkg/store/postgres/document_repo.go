package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/syllaflow/syllaflow/pkg/model"
)

// ErrDocumentNotFound is returned when neither the workflow id nor the
// entity id resolves to a document row.
var ErrDocumentNotFound = errors.New("document not found")

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByWorkflowID(ctx context.Context, workflowID uuid.UUID) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).First(&doc, "workflow_id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) Save(ctx context.Context, doc *model.Document) error {
	doc.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(doc).Error
}

// PendingSince is the coarse first stage of the deadline scan: documents in
// the given statuses whose phase base timestamp falls inside the lookback
// window. Precise deadline arithmetic happens per item in the scanner.
func (r *DocumentRepository) PendingSince(ctx context.Context, statuses []model.DocumentStatus, since time.Time) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Where("(status = ? AND submitted_at >= ?) OR (status = ? AND reviewed_at >= ?)",
			model.DocumentPendingReview, since, model.DocumentPendingApproval, since).
		Find(&docs).Error
	return docs, err
}
