package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"photovault/internal/domain"
	"photovault/internal/repository"
	"photovault/internal/service"
	"photovault/internal/storage"
	"photovault/internal/uploader"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	users       service.UserService
	identity    service.IdentityService
	stats       service.StatsService
	coordinator uploader.Coordinator
	records     repository.UploadRecordRepository
	storage     storage.Service
	bucket      string
	jwtSecret   string
	tokenTTL    time.Duration
}

func NewHandler(
	users service.UserService,
	identity service.IdentityService,
	stats service.StatsService,
	coordinator uploader.Coordinator,
	records repository.UploadRecordRepository,
	store storage.Service,
	bucket string,
	jwtSecret string,
	tokenTTL time.Duration,
) *Handler {
	return &Handler{
		users:       users,
		identity:    identity,
		stats:       stats,
		coordinator: coordinator,
		records:     records,
		storage:     store,
		bucket:      bucket,
		jwtSecret:   jwtSecret,
		tokenTTL:    tokenTTL,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/auth/register", h.register)
		api.POST("/auth/login", h.login)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		authed := api.Group("", authMiddleware(h.jwtSecret))
		{
			authed.POST("/auth/logout", h.logout)
			authed.POST("/storage/stats", h.storageStats)
			authed.GET("/storage/objects", h.listObjects)
			authed.DELETE("/storage", h.wipeStorage)
			authed.POST("/batches", h.createBatch)
			authed.GET("/batches/current", h.currentBatch)
			authed.POST("/batches/retry", h.retryBatch)
			authed.DELETE("/batches/current", h.cancelBatch)
			authed.GET("/uploads", h.listUploads)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type registerRequest struct {
	Email            string `json:"email" binding:"required"`
	Password         string `json:"password" binding:"required"`
	RegisterPassword string `json:"register_password" binding:"required"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Email, req.Password, req.RegisterPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidRegistrationPassword):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "email": user.Email})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := issueToken(user.Identity(), h.jwtSecret, h.tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "email": user.Email})
}

func (h *Handler) logout(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	if err := h.identity.ForgetPrefix(c.Request.Context(), identity.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": identity.Email})
}

type storageStatsRequest struct {
	Prefix string `json:"prefix"`
}

func (h *Handler) storageStats(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req storageStatsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prefix == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prefix is required"})
		return
	}

	stats, err := h.stats.GetStats(c.Request.Context(), req.Prefix, identity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotAuthenticated):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidPrefix):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"objectCount": stats.ObjectCount,
		"totalSize":   stats.TotalSizeBytes,
	})
}

func (h *Handler) listObjects(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	prefix, err := h.identity.GetOrCreatePrefix(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	limit := int32(100)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = int32(parsed)
	}

	page, err := h.storage.ListPage(c.Request.Context(), h.bucket, prefix, c.Query("cursor"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	objects := make([]StorageObjectResponse, len(page.Objects))
	for i := range page.Objects {
		objects[i] = objectToResponse(page.Objects[i])
	}
	c.JSON(http.StatusOK, gin.H{"objects": objects, "next_cursor": page.NextCursor})
}

func (h *Handler) wipeStorage(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	prefix, err := h.identity.GetOrCreatePrefix(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	wipeCtx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()
	if err := h.storage.DeletePrefix(wipeCtx, h.bucket, prefix); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.records.DeleteByIdentity(c.Request.Context(), identity.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"wiped": prefix})
}

func (h *Handler) createBatch(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	prefix, err := h.identity.GetOrCreatePrefix(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required"})
		return
	}

	items := make([]domain.BatchItem, 0, len(files))
	for _, file := range files {
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		item, err := h.coordinator.StageItem(identity.ID, file.Filename, src)
		src.Close()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items = append(items, item)
	}

	batch, err := h.coordinator.StartBatch(identity, prefix, items)
	if err != nil {
		if errors.Is(err, uploader.ErrBatchRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, batchToResponse(batch))
}

func (h *Handler) currentBatch(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	batch, ok := h.coordinator.BatchSnapshot(identity.ID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no batch for this user"})
		return
	}
	c.JSON(http.StatusOK, batchToResponse(batch))
}

func (h *Handler) retryBatch(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	prefix, err := h.identity.GetOrCreatePrefix(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	batch, err := h.coordinator.RetryFailed(identity, prefix)
	if err != nil {
		if errors.Is(err, uploader.ErrBatchRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, batchToResponse(batch))
}

func (h *Handler) cancelBatch(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.coordinator.CancelBatch(cancelCtx, identity.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (h *Handler) listUploads(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := h.records.ListByIdentity(c.Request.Context(), identity.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]UploadRecordResponse, len(records))
	for i := range records {
		resp[i] = recordToResponse(records[i])
	}
	c.JSON(http.StatusOK, resp)
}

type BatchItemResponse struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Status       string `json:"status"`
	Key          string `json:"key,omitempty"`
	RemoteURL    string `json:"remote_url,omitempty"`
	Skipped      bool   `json:"skipped"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type UploadProgressResponse struct {
	BytesUploaded int64 `json:"bytes_uploaded"`
	TotalBytes    int64 `json:"total_bytes"`
	Percent       int   `json:"percent"`
	Indeterminate bool  `json:"indeterminate"`
}

type BatchResponse struct {
	ID              string                  `json:"id"`
	Prefix          string                  `json:"prefix"`
	Status          string                  `json:"status"`
	UploadedCount   int                     `json:"uploaded_count"`
	SkippedCount    int                     `json:"skipped_count"`
	FailedCount     int                     `json:"failed_count"`
	CurrentProgress *UploadProgressResponse `json:"current_progress,omitempty"`
	Items           []BatchItemResponse     `json:"items"`
	CreatedAt       string                  `json:"created_at"`
	FinishedAt      *string                 `json:"finished_at,omitempty"`
}

func batchToResponse(batch *domain.Batch) BatchResponse {
	resp := BatchResponse{
		ID:            batch.ID,
		Prefix:        batch.Prefix,
		Status:        string(batch.Status),
		UploadedCount: batch.UploadedCount,
		SkippedCount:  batch.SkippedCount,
		FailedCount:   batch.FailedCount,
		Items:         make([]BatchItemResponse, len(batch.Items)),
		CreatedAt:     batch.CreatedAt.Format(time.RFC3339),
	}
	if batch.FinishedAt != nil {
		v := batch.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &v
	}
	if batch.CurrentProgress != nil {
		resp.CurrentProgress = &UploadProgressResponse{
			BytesUploaded: batch.CurrentProgress.BytesUploaded,
			TotalBytes:    batch.CurrentProgress.TotalBytes,
			Percent:       batch.CurrentProgress.Percent,
			Indeterminate: batch.CurrentProgress.Indeterminate,
		}
	}
	for i := range batch.Items {
		item := batch.Items[i]
		resp.Items[i] = BatchItemResponse{
			Index:        item.Index,
			Name:         item.Name,
			Size:         item.Size,
			Status:       string(item.Status),
			Key:          item.Key,
			RemoteURL:    item.RemoteURL,
			Skipped:      item.Skipped,
			ErrorKind:    string(item.ErrorKind),
			ErrorMessage: item.ErrorMessage,
		}
	}
	return resp
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}

type UploadRecordResponse struct {
	ID           int64  `json:"id"`
	BatchID      string `json:"batch_id"`
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	Status       string `json:"status"`
	Skipped      bool   `json:"skipped"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func recordToResponse(record domain.UploadRecord) UploadRecordResponse {
	return UploadRecordResponse{
		ID:           record.ID,
		BatchID:      record.BatchID,
		Key:          record.Key,
		Size:         record.Size,
		Status:       string(record.Status),
		Skipped:      record.Skipped,
		ErrorMessage: record.ErrorMessage,
		CreatedAt:    record.CreatedAt.Format(time.RFC3339),
	}
}
