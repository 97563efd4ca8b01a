package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"photovault/internal/domain"
	"photovault/internal/media"
	"photovault/internal/repository"
)

// ErrBatchRunning is returned when an identity already has an active batch.
var ErrBatchRunning = errors.New("a batch is already running for this user")

// Coordinator sequences media uploads batch by batch, one in-flight item
// at a time, and aggregates per-item outcomes.
type Coordinator interface {
	Start(ctx context.Context) error
	Shutdown()
	StageItem(identityID, name string, r io.Reader) (domain.BatchItem, error)
	StartBatch(identity domain.Identity, prefix string, items []domain.BatchItem) (*domain.Batch, error)
	RetryFailed(identity domain.Identity, prefix string) (*domain.Batch, error)
	BatchSnapshot(identityID string) (*domain.Batch, bool)
	CancelBatch(ctx context.Context, identityID string) error
}

type Config struct {
	StagingRoot string
	ItemTimeout time.Duration
	Logger      *logrus.Logger
}

type coordinator struct {
	cfg     Config
	engine  *Engine
	records repository.UploadRecordRepository

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[string]*batchHandle
}

type batchHandle struct {
	mu       sync.Mutex
	batch    *domain.Batch
	progress domain.UploadProgress
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewCoordinator(cfg Config, engine *Engine, records repository.UploadRecordRepository) Coordinator {
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &coordinator{
		cfg:     cfg,
		engine:  engine,
		records: records,
		active:  make(map[string]*batchHandle),
	}
}

func (c *coordinator) Start(ctx context.Context) error {
	if err := os.MkdirAll(c.cfg.StagingRoot, 0o755); err != nil {
		return fmt.Errorf("create staging root: %w", err)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.cfg.Logger.Infof("upload coordinator started, staging dir: %s", c.cfg.StagingRoot)
	return nil
}

func (c *coordinator) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.cfg.Logger.Info("upload coordinator stopped")
}

// StageItem copies a client stream into the local staging area so the bytes
// are stable for the later existence probe and transfer.
func (c *coordinator) StageItem(identityID, name string, r io.Reader) (domain.BatchItem, error) {
	dir := filepath.Join(c.cfg.StagingRoot, identityID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.BatchItem{}, fmt.Errorf("create staging dir: %w", err)
	}

	base := filepath.Base(name)
	if base == "" || base == "." || base == "/" {
		base = "upload"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s", uuid.NewString(), base))

	f, err := os.Create(path)
	if err != nil {
		return domain.BatchItem{}, fmt.Errorf("create staged file: %w", err)
	}
	size, err := io.Copy(f, r)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(path)
		return domain.BatchItem{}, fmt.Errorf("stage upload data: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return domain.BatchItem{}, fmt.Errorf("close staged file: %w", closeErr)
	}

	return domain.BatchItem{
		Name:        base,
		StagingPath: path,
		Size:        size,
		Status:      domain.ItemStatusPending,
	}, nil
}

// StartBatch launches a batch detached from any request scope; the batch
// context derives from the coordinator's lifecycle, so the run outlives the
// HTTP call that started it.
func (c *coordinator) StartBatch(identity domain.Identity, prefix string, items []domain.BatchItem) (*domain.Batch, error) {
	if len(items) == 0 {
		return nil, errors.New("batch requires at least one item")
	}

	batch := &domain.Batch{
		ID:         uuid.NewString(),
		IdentityID: identity.ID,
		Prefix:     prefix,
		Status:     domain.BatchStatusRunning,
		Items:      make([]domain.BatchItem, len(items)),
		CreatedAt:  time.Now().UTC(),
	}
	for i := range items {
		items[i].Index = i
		items[i].Status = domain.ItemStatusPending
		batch.Items[i] = items[i]
	}

	batchCtx, cancel := context.WithCancel(c.ctx)
	handle := &batchHandle{
		batch:  batch,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	reused := make(map[string]struct{}, len(items))
	for i := range items {
		reused[items[i].StagingPath] = struct{}{}
	}

	c.mu.Lock()
	if prev, ok := c.active[identity.ID]; ok {
		if prev.batch.Status == domain.BatchStatusRunning {
			c.mu.Unlock()
			cancel()
			return nil, ErrBatchRunning
		}
		// starting a new batch destroys the previous one and its staging,
		// except for artifacts the new batch retries
		c.destroyStaging(prev, reused)
	}
	c.active[identity.ID] = handle
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(handle.done)
		c.run(batchCtx, handle)
	}()

	return handle.snapshot(), nil
}

// RetryFailed starts a new batch over exactly the failed items of the
// identity's previous batch. Succeeded, skipped and cancelled items are
// never re-attempted; their staging artifacts are already gone.
func (c *coordinator) RetryFailed(identity domain.Identity, prefix string) (*domain.Batch, error) {
	c.mu.Lock()
	handle, ok := c.active[identity.ID]
	if !ok {
		c.mu.Unlock()
		return nil, errors.New("no previous batch to retry")
	}
	if handle.batch.Status == domain.BatchStatusRunning {
		c.mu.Unlock()
		return nil, ErrBatchRunning
	}
	c.mu.Unlock()

	prev := handle.snapshot()
	failed := prev.FailedItems()
	if len(failed) == 0 {
		return nil, errors.New("previous batch has no failed items")
	}

	items := make([]domain.BatchItem, len(failed))
	for i, item := range failed {
		items[i] = domain.BatchItem{
			Name:        item.Name,
			StagingPath: item.StagingPath,
			Size:        item.Size,
		}
	}
	return c.StartBatch(identity, prefix, items)
}

func (c *coordinator) BatchSnapshot(identityID string) (*domain.Batch, bool) {
	c.mu.Lock()
	handle, ok := c.active[identityID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return handle.snapshot(), true
}

func (c *coordinator) CancelBatch(ctx context.Context, identityID string) error {
	c.mu.Lock()
	handle, ok := c.active[identityID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	handle.mu.Lock()
	cancel := handle.cancel
	handle.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives the batch strictly in submission order. Item N+1 never starts
// before item N reaches a terminal state, and nothing starts after the
// batch context is cancelled.
func (c *coordinator) run(ctx context.Context, handle *batchHandle) {
	batch := handle.batch
	logger := c.cfg.Logger.WithField("batch_id", batch.ID)
	logger.Infof("batch started: %d items for prefix %s", len(batch.Items), batch.Prefix)

	for i := range batch.Items {
		if ctx.Err() != nil {
			c.finishCancelled(handle, logger)
			return
		}

		handle.setItemStatus(i, domain.ItemStatusUploading)
		outcome := c.uploadItem(ctx, handle, i)
		cancelled := c.applyOutcome(handle, i, outcome, logger)
		if cancelled {
			c.finishCancelled(handle, logger)
			return
		}
	}

	handle.finish(domain.BatchStatusCompleted)
	done := handle.snapshot()
	logger.Infof("batch finished: %d uploaded, %d skipped, %d failed",
		done.UploadedCount, done.SkippedCount, done.FailedCount)
}

func (c *coordinator) uploadItem(ctx context.Context, handle *batchHandle, index int) domain.UploadOutcome {
	batch := handle.batch
	handle.mu.Lock()
	item := batch.Items[index]
	handle.mu.Unlock()

	logger := c.cfg.Logger.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"item":     item.Name,
	})

	ts, err := extractItemTimestamp(item.StagingPath)
	if err != nil {
		return domain.UploadOutcome{
			Err: domain.NewUploadError(domain.ErrorKindTransferFailed, fmt.Sprintf("read staged file: %v", err)),
		}
	}
	if !ts.FromMetadata {
		logger.Debug("no capture metadata, using wall-clock timestamp")
	}

	itemCtx, cancel := context.WithTimeout(ctx, c.cfg.ItemTimeout)
	defer cancel()

	progressLogger := newUploadProgressLogger(logger)
	return c.engine.UploadOne(itemCtx, item.StagingPath, item.Size, batch.Prefix, ts, media.ExtFromName(item.Name), func(p domain.UploadProgress) {
		handle.setProgress(p)
		progressLogger(p.BytesUploaded, p.TotalBytes)
	})
}

// applyOutcome records one terminal item outcome. A cancelled outcome gets
// its own status and keeps the counters untouched: counters and the
// retryable set reflect only items that completed before the cancellation.
func (c *coordinator) applyOutcome(handle *batchHandle, index int, outcome domain.UploadOutcome, logger *logrus.Entry) (cancelled bool) {
	handle.mu.Lock()
	batch := handle.batch
	item := &batch.Items[index]
	item.Key = outcome.Key
	item.RemoteURL = outcome.RemoteURL

	switch {
	case outcome.Err == nil && outcome.Skipped:
		item.Status = domain.ItemStatusSkipped
		item.Skipped = true
		batch.SkippedCount++
	case outcome.Err == nil:
		item.Status = domain.ItemStatusSucceeded
		batch.UploadedCount++
	case outcome.Err.Kind == domain.ErrorKindCancelled:
		item.Status = domain.ItemStatusCancelled
		item.ErrorKind = outcome.Err.Kind
		item.ErrorMessage = outcome.Err.Message
		cancelled = true
	default:
		item.Status = domain.ItemStatusFailed
		item.ErrorKind = outcome.Err.Kind
		item.ErrorMessage = outcome.Err.Message
		batch.FailedCount++
	}
	recorded := *item
	handle.mu.Unlock()

	switch recorded.Status {
	case domain.ItemStatusSucceeded:
		logger.WithField("item", recorded.Name).Infof("uploaded to %s", recorded.Key)
		c.removeStaging(recorded.StagingPath, logger)
	case domain.ItemStatusSkipped:
		logger.WithField("item", recorded.Name).Infof("duplicate of %s, skipped", recorded.Key)
		c.removeStaging(recorded.StagingPath, logger)
	case domain.ItemStatusCancelled:
		logger.WithField("item", recorded.Name).Info("upload interrupted by cancellation")
	default:
		logger.WithField("item", recorded.Name).Warnf("upload failed (%s): %s", recorded.ErrorKind, recorded.ErrorMessage)
	}

	c.recordOutcome(batch, recorded, logger)
	return cancelled
}

func (c *coordinator) finishCancelled(handle *batchHandle, logger *logrus.Entry) {
	handle.finish(domain.BatchStatusCancelled)
	// cancellation leaves nothing behind in the staging area
	handle.mu.Lock()
	paths := make([]string, 0, len(handle.batch.Items))
	for i := range handle.batch.Items {
		if handle.batch.Items[i].StagingPath != "" &&
			handle.batch.Items[i].Status != domain.ItemStatusSucceeded &&
			handle.batch.Items[i].Status != domain.ItemStatusSkipped {
			paths = append(paths, handle.batch.Items[i].StagingPath)
		}
	}
	handle.mu.Unlock()
	for _, path := range paths {
		c.removeStaging(path, logger)
	}
	logger.Info("batch cancelled")
}

func (c *coordinator) recordOutcome(batch *domain.Batch, item domain.BatchItem, logger *logrus.Entry) {
	if c.records == nil {
		return
	}
	record := &domain.UploadRecord{
		IdentityID:   batch.IdentityID,
		BatchID:      batch.ID,
		Key:          item.Key,
		Size:         item.Size,
		Status:       item.Status,
		Skipped:      item.Skipped,
		ErrorMessage: item.ErrorMessage,
	}
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.records.Create(recordCtx, record); err != nil {
		logger.Warnf("persist upload record: %v", err)
	}
}

func (c *coordinator) removeStaging(path string, logger *logrus.Entry) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("remove staged file %s: %v", path, err)
	}
}

func (c *coordinator) destroyStaging(handle *batchHandle, keep map[string]struct{}) {
	for i := range handle.batch.Items {
		path := handle.batch.Items[i].StagingPath
		if path == "" {
			continue
		}
		if _, ok := keep[path]; ok {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.cfg.Logger.Warnf("remove staged file %s: %v", path, err)
		}
	}
}

func (h *batchHandle) setItemStatus(index int, status domain.ItemStatus) {
	h.mu.Lock()
	h.batch.Items[index].Status = status
	h.progress = domain.UploadProgress{}
	h.mu.Unlock()
}

func (h *batchHandle) setProgress(p domain.UploadProgress) {
	h.mu.Lock()
	h.progress = p
	h.mu.Unlock()
}

func (h *batchHandle) finish(status domain.BatchStatus) {
	now := time.Now().UTC()
	h.mu.Lock()
	h.batch.Status = status
	h.batch.FinishedAt = &now
	h.mu.Unlock()
}

func (h *batchHandle) snapshot() *domain.Batch {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *h.batch
	cp.Items = make([]domain.BatchItem, len(h.batch.Items))
	copy(cp.Items, h.batch.Items)
	if h.batch.Status == domain.BatchStatusRunning {
		p := h.progress
		cp.CurrentProgress = &p
	}
	return &cp
}

// extractItemTimestamp reads EXIF from its own file handle so the later
// transfer re-reads the staged bytes from the start.
func extractItemTimestamp(path string) (media.TimestampInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return media.TimestampInfo{}, err
	}
	defer f.Close()
	return media.ExtractTimestamp(f), nil
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if total <= 0 {
			if now.Sub(lastLog) < 500*time.Millisecond && done != 0 {
				return
			}
			lastLog = now
			logger.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}

		percent := float64(done) / float64(total) * 100
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		logger.Infof("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}

var _ Coordinator = (*coordinator)(nil)
