package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"photovault/internal/domain"
	"photovault/internal/repository"
)

const createUploadRecordsTable = `
CREATE TABLE IF NOT EXISTS upload_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_id TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	skipped INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_upload_records_identity ON upload_records(identity_id, id);
`

type UploadRecordRepository struct {
	db *sql.DB
}

func NewUploadRecordRepository(db *sql.DB) repository.UploadRecordRepository {
	return &UploadRecordRepository{db: db}
}

func (r *UploadRecordRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUploadRecordsTable); err != nil {
		return fmt.Errorf("create upload records table: %w", err)
	}
	return nil
}

func (r *UploadRecordRepository) Create(ctx context.Context, record *domain.UploadRecord) (int64, error) {
	record.CreatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
INSERT INTO upload_records (identity_id, batch_id, object_key, size, status, skipped, error_message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.IdentityID,
		record.BatchID,
		record.Key,
		record.Size,
		string(record.Status),
		boolToInt(record.Skipped),
		record.ErrorMessage,
		record.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert upload record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("upload record last insert id: %w", err)
	}
	record.ID = id
	return id, nil
}

func (r *UploadRecordRepository) ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.UploadRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, identity_id, batch_id, object_key, size, status, skipped, error_message, created_at
FROM upload_records
WHERE identity_id = ?
ORDER BY id DESC
LIMIT ?`,
		identityID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query upload records: %w", err)
	}
	defer rows.Close()

	var records []domain.UploadRecord
	for rows.Next() {
		record, err := scanUploadRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

func (r *UploadRecordRepository) DeleteByIdentity(ctx context.Context, identityID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM upload_records WHERE identity_id = ?`, identityID); err != nil {
		return fmt.Errorf("delete upload records: %w", err)
	}
	return nil
}

func scanUploadRecord(scanner interface {
	Scan(dest ...any) error
}) (*domain.UploadRecord, error) {
	var (
		record    domain.UploadRecord
		status    string
		skipped   int
		createdAt time.Time
	)
	if err := scanner.Scan(
		&record.ID,
		&record.IdentityID,
		&record.BatchID,
		&record.Key,
		&record.Size,
		&status,
		&skipped,
		&record.ErrorMessage,
		&createdAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("upload record not found")
		}
		return nil, fmt.Errorf("scan upload record: %w", err)
	}

	record.Status = domain.ItemStatus(status)
	record.Skipped = skipped != 0
	record.CreatedAt = createdAt.Local()
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
