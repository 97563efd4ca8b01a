package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photovault/internal/domain"
	"photovault/internal/service"
	"photovault/internal/uploader"
)

const testSecret = "test-secret"

type stubStatsService struct {
	stats domain.StorageStats
	err   error

	gotPrefix string
	gotCaller domain.Identity
}

func (s *stubStatsService) GetStats(ctx context.Context, prefix string, caller domain.Identity) (domain.StorageStats, error) {
	s.gotPrefix = prefix
	s.gotCaller = caller
	if s.err != nil {
		return domain.StorageStats{}, s.err
	}
	return s.stats, nil
}

type stubIdentityService struct {
	service.IdentityService
	prefix string
}

func (s *stubIdentityService) GetOrCreatePrefix(ctx context.Context, identity domain.Identity) (string, error) {
	return s.prefix, nil
}

type stubCoordinator struct {
	uploader.Coordinator
	startErr error
	batch    *domain.Batch
	staged   int
}

func (s *stubCoordinator) StageItem(identityID, name string, r io.Reader) (domain.BatchItem, error) {
	s.staged++
	size, err := io.Copy(io.Discard, r)
	if err != nil {
		return domain.BatchItem{}, err
	}
	return domain.BatchItem{Name: name, Size: size, Status: domain.ItemStatusPending}, nil
}

func (s *stubCoordinator) StartBatch(identity domain.Identity, prefix string, items []domain.BatchItem) (*domain.Batch, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	if s.batch != nil {
		return s.batch, nil
	}
	return &domain.Batch{
		ID:         "batch-1",
		IdentityID: identity.ID,
		Prefix:     prefix,
		Status:     domain.BatchStatusRunning,
		Items:      items,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (s *stubCoordinator) BatchSnapshot(identityID string) (*domain.Batch, bool) {
	return s.batch, s.batch != nil
}

func newTestRouter(stats service.StatsService, coord uploader.Coordinator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(
		nil,
		&stubIdentityService{prefix: "u@ex.com_abc123"},
		stats,
		coord,
		nil,
		nil,
		"vault",
		testSecret,
		time.Hour,
	)
	handler.RegisterRoutes(router)
	return router
}

func bearerToken(t *testing.T) string {
	t.Helper()
	token, err := issueToken(domain.Identity{ID: "abc123", Email: "u@ex.com"}, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func postStats(t *testing.T, router *gin.Engine, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/storage/stats", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStorageStatsRequiresAuth(t *testing.T) {
	router := newTestRouter(&stubStatsService{}, nil)

	rec := postStats(t, router, "", `{"prefix":"u@ex.com_abc123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStorageStatsRejectsBadToken(t *testing.T) {
	router := newTestRouter(&stubStatsService{}, nil)

	forged, err := issueToken(domain.Identity{ID: "abc123"}, "other-secret", time.Hour)
	require.NoError(t, err)
	rec := postStats(t, router, "Bearer "+forged, `{"prefix":"u@ex.com_abc123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStorageStatsMissingPrefix(t *testing.T) {
	router := newTestRouter(&stubStatsService{}, nil)

	rec := postStats(t, router, bearerToken(t), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "prefix is required")
}

func TestStorageStatsForbidden(t *testing.T) {
	router := newTestRouter(&stubStatsService{err: service.ErrForbidden}, nil)

	rec := postStats(t, router, bearerToken(t), `{"prefix":"other@ex.com_zzz"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStorageStatsOK(t *testing.T) {
	stats := &stubStatsService{stats: domain.StorageStats{ObjectCount: 12, TotalSizeBytes: 34567}}
	router := newTestRouter(stats, nil)

	rec := postStats(t, router, bearerToken(t), `{"prefix":"u@ex.com_abc123"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ObjectCount int64 `json:"objectCount"`
		TotalSize   int64 `json:"totalSize"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(12), body.ObjectCount)
	assert.Equal(t, int64(34567), body.TotalSize)

	// the caller identity comes from the verified token, not the body
	assert.Equal(t, "abc123", stats.gotCaller.ID)
	assert.Equal(t, "u@ex.com_abc123", stats.gotPrefix)
}

func TestStorageStatsStoreFailure(t *testing.T) {
	router := newTestRouter(&stubStatsService{err: service.ErrStoreUnavailable}, nil)

	rec := postStats(t, router, bearerToken(t), `{"prefix":"u@ex.com_abc123"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func multipartBody(t *testing.T, fieldFiles map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range fieldFiles {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestCreateBatchAccepted(t *testing.T) {
	coord := &stubCoordinator{}
	router := newTestRouter(&stubStatsService{}, coord)

	body, contentType := multipartBody(t, map[string][]byte{"shot.jpg": []byte("bytes")})
	req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, coord.staged)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "u@ex.com_abc123", resp.Prefix)
}

func TestCreateBatchConflictWhileRunning(t *testing.T) {
	coord := &stubCoordinator{startErr: uploader.ErrBatchRunning}
	router := newTestRouter(&stubStatsService{}, coord)

	body, contentType := multipartBody(t, map[string][]byte{"shot.jpg": []byte("bytes")})
	req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateBatchRequiresFiles(t *testing.T) {
	router := newTestRouter(&stubStatsService{}, &stubCoordinator{})

	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCurrentBatchShowsProgress(t *testing.T) {
	progress := domain.ProgressPercent(512, 2048)
	coord := &stubCoordinator{batch: &domain.Batch{
		ID:              "batch-1",
		Prefix:          "u@ex.com_abc123",
		Status:          domain.BatchStatusRunning,
		CurrentProgress: &progress,
		Items:           []domain.BatchItem{{Name: "shot.jpg", Status: domain.ItemStatusUploading}},
		CreatedAt:       time.Now().UTC(),
	}}
	router := newTestRouter(&stubStatsService{}, coord)

	req := httptest.NewRequest(http.MethodGet, "/api/batches/current", nil)
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.CurrentProgress)
	assert.Equal(t, int64(512), resp.CurrentProgress.BytesUploaded)
	assert.Equal(t, int64(2048), resp.CurrentProgress.TotalBytes)
	assert.Equal(t, 25, resp.CurrentProgress.Percent)
	assert.False(t, resp.CurrentProgress.Indeterminate)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&stubStatsService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenRoundTrip(t *testing.T) {
	router := newTestRouter(&stubStatsService{}, nil)

	// expired tokens are rejected at the middleware
	expired, err := issueToken(domain.Identity{ID: "abc123"}, testSecret, -time.Minute)
	require.NoError(t, err)
	rec := postStats(t, router, "Bearer "+expired, `{"prefix":"u@ex.com_abc123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
