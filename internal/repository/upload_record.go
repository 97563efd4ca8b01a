package repository

import (
	"context"

	"photovault/internal/domain"
)

// UploadRecordRepository stores the terminal outcome of every upload item
// as durable history.
type UploadRecordRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, record *domain.UploadRecord) (int64, error)
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.UploadRecord, error)
	DeleteByIdentity(ctx context.Context, identityID string) error
}
