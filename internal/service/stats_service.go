package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"photovault/internal/domain"
	"photovault/internal/storage"
)

var (
	// ErrForbidden indicates a caller asked for a prefix owned by a
	// different identity.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidPrefix indicates a malformed or empty prefix.
	ErrInvalidPrefix = errors.New("invalid prefix")
	// ErrStoreUnavailable indicates the object store could not be reached;
	// the whole accounting call may be retried.
	ErrStoreUnavailable = errors.New("object store unavailable")
)

const statsPageSize = 1000

// StatsService computes per-prefix storage statistics by full enumeration.
type StatsService interface {
	GetStats(ctx context.Context, prefix string, caller domain.Identity) (domain.StorageStats, error)
}

type statsService struct {
	store  storage.Service
	bucket string
	logger *logrus.Logger
}

func NewStatsService(store storage.Service, bucket string, logger *logrus.Logger) StatsService {
	if logger == nil {
		logger = logrus.New()
	}
	return &statsService{
		store:  store,
		bucket: bucket,
		logger: logger,
	}
}

// GetStats recomputes the stats snapshot from scratch on every call. The
// caller's verified identity must match the identity embedded in the
// prefix; the prefix string itself is untrusted input.
func (s *statsService) GetStats(ctx context.Context, prefix string, caller domain.Identity) (domain.StorageStats, error) {
	if caller.ID == "" {
		return domain.StorageStats{}, ErrNotAuthenticated
	}
	if prefix == "" {
		return domain.StorageStats{}, fmt.Errorf("%w: prefix is required", ErrInvalidPrefix)
	}

	ownerID, err := domain.PrefixIdentityID(prefix)
	if err != nil {
		return domain.StorageStats{}, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
	}
	if ownerID != caller.ID {
		s.logger.WithFields(logrus.Fields{
			"caller": caller.ID,
			"prefix": prefix,
		}).Warn("storage stats denied: prefix owned by another identity")
		return domain.StorageStats{}, ErrForbidden
	}

	// running totals only; the key list is never materialized
	var stats domain.StorageStats
	cursor := ""
	for {
		page, err := s.store.ListPage(ctx, s.bucket, prefix, cursor, statsPageSize)
		if err != nil {
			return domain.StorageStats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, obj := range page.Objects {
			stats.ObjectCount++
			stats.TotalSizeBytes += obj.Size
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return stats, nil
}
