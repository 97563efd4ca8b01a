package service

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photovault/internal/domain"
	"photovault/internal/storage"
)

// fakeListStore serves a fixed object listing page by page through the
// cursor protocol the real store uses.
type fakeListStore struct {
	storage.Service
	objects  []storage.ObjectInfo
	listErr  error
	maxSeen  int32
	pageHits int
}

func (f *fakeListStore) ListPage(ctx context.Context, bucket, prefix, cursor string, maxKeys int32) (storage.ObjectPage, error) {
	if f.listErr != nil {
		return storage.ObjectPage{}, f.listErr
	}
	f.pageHits++
	if maxKeys > f.maxSeen {
		f.maxSeen = maxKeys
	}

	start := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return storage.ObjectPage{}, err
		}
		start = parsed
	}
	end := start + int(maxKeys)
	if end > len(f.objects) {
		end = len(f.objects)
	}

	page := storage.ObjectPage{Objects: f.objects[start:end]}
	if end < len(f.objects) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func TestGetStatsPaginatesPastOnePage(t *testing.T) {
	const objectCount = 2500
	store := &fakeListStore{}
	var wantSize int64
	for i := 0; i < objectCount; i++ {
		size := int64(i + 1)
		wantSize += size
		store.objects = append(store.objects, storage.ObjectInfo{
			Key:  "u@ex.com_abc123/2024-03/obj" + strconv.Itoa(i),
			Size: size,
		})
	}

	svc := NewStatsService(store, "vault", quietTestLogger())
	stats, err := svc.GetStats(context.Background(), "u@ex.com_abc123", domain.Identity{ID: "abc123", Email: "u@ex.com"})
	require.NoError(t, err)

	assert.Equal(t, int64(objectCount), stats.ObjectCount)
	assert.Equal(t, wantSize, stats.TotalSizeBytes)
	assert.Equal(t, 3, store.pageHits, "2500 objects need three pages of 1000")
}

func TestGetStatsEmptyPrefix(t *testing.T) {
	svc := NewStatsService(&fakeListStore{}, "vault", quietTestLogger())

	_, err := svc.GetStats(context.Background(), "", domain.Identity{ID: "abc123"})
	assert.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestGetStatsMalformedPrefix(t *testing.T) {
	svc := NewStatsService(&fakeListStore{}, "vault", quietTestLogger())

	_, err := svc.GetStats(context.Background(), "no-identity-separator", domain.Identity{ID: "abc123"})
	assert.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestGetStatsForbiddenForOtherIdentity(t *testing.T) {
	store := &fakeListStore{
		objects: []storage.ObjectInfo{{Key: "a@ex.com_userA/2024-03/x.jpg", Size: 42}},
	}
	svc := NewStatsService(store, "vault", quietTestLogger())

	stats, err := svc.GetStats(context.Background(), "a@ex.com_userA", domain.Identity{ID: "userB", Email: "b@ex.com"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, stats.ObjectCount, "a denied call must not leak counts")
	assert.Zero(t, stats.TotalSizeBytes)
	assert.Zero(t, store.pageHits, "authorization is checked before any enumeration")
}

func TestGetStatsRequiresIdentity(t *testing.T) {
	svc := NewStatsService(&fakeListStore{}, "vault", quietTestLogger())

	_, err := svc.GetStats(context.Background(), "u@ex.com_abc123", domain.Identity{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestGetStatsStoreUnavailable(t *testing.T) {
	store := &fakeListStore{listErr: errors.New("dial tcp: connection refused")}
	svc := NewStatsService(store, "vault", quietTestLogger())

	_, err := svc.GetStats(context.Background(), "u@ex.com_abc123", domain.Identity{ID: "abc123"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestGetStatsEmptyStore(t *testing.T) {
	svc := NewStatsService(&fakeListStore{}, "vault", quietTestLogger())

	stats, err := svc.GetStats(context.Background(), "u@ex.com_abc123", domain.Identity{ID: "abc123"})
	require.NoError(t, err)
	assert.Zero(t, stats.ObjectCount)
	assert.Zero(t, stats.TotalSizeBytes)
}
