package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"photovault/internal/domain"
	"photovault/internal/repository"
)

const createPrefixesTable = `
CREATE TABLE IF NOT EXISTS storage_prefixes (
	identity_id TEXT PRIMARY KEY,
	prefix TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

type PrefixRepository struct {
	db *sql.DB
}

func NewPrefixRepository(db *sql.DB) repository.PrefixRepository {
	return &PrefixRepository{db: db}
}

func (r *PrefixRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createPrefixesTable); err != nil {
		return fmt.Errorf("create storage prefixes table: %w", err)
	}
	return nil
}

func (r *PrefixRepository) Get(ctx context.Context, identityID string) (*domain.StoredPrefix, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT identity_id, prefix, created_at
FROM storage_prefixes
WHERE identity_id = ?`,
		identityID,
	)

	var stored domain.StoredPrefix
	if err := row.Scan(&stored.IdentityID, &stored.Prefix, &stored.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan storage prefix: %w", err)
	}
	return &stored, nil
}

func (r *PrefixRepository) Save(ctx context.Context, stored *domain.StoredPrefix) error {
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO storage_prefixes (identity_id, prefix, created_at)
VALUES (?, ?, ?)
ON CONFLICT(identity_id) DO UPDATE SET prefix = excluded.prefix`,
		stored.IdentityID,
		stored.Prefix,
		stored.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save storage prefix: %w", err)
	}
	return nil
}

func (r *PrefixRepository) Delete(ctx context.Context, identityID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM storage_prefixes WHERE identity_id = ?`, identityID); err != nil {
		return fmt.Errorf("delete storage prefix: %w", err)
	}
	return nil
}
