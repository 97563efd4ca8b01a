package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"photovault/internal/domain"
	"photovault/internal/media"
	"photovault/internal/storage"
)

// Engine performs one check-then-put upload against the object store.
// Every call resolves exactly one terminal UploadOutcome; the function
// return is the single resolution point.
type Engine struct {
	store  storage.Service
	bucket string
	urlTTL time.Duration
	logger *logrus.Logger
}

func NewEngine(store storage.Service, bucket string, urlTTL time.Duration, logger *logrus.Logger) *Engine {
	if urlTTL <= 0 {
		urlTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		store:  store,
		bucket: bucket,
		urlTTL: urlTTL,
		logger: logger,
	}
}

// UploadOne derives the object key for one staged media file, probes the
// store for an existing object under that key, and transfers the bytes only
// when the probe finds nothing. A populated key short-circuits to a skipped
// success without moving any bytes: at most one upload ever happens per
// (prefix, capture timestamp) pair.
func (e *Engine) UploadOne(ctx context.Context, stagingPath string, size int64, prefix string, ts media.TimestampInfo, ext string, progress func(domain.UploadProgress)) domain.UploadOutcome {
	key := media.DeriveKey(prefix, ts, ext)
	outcome := domain.UploadOutcome{Key: key, Size: size}

	existing, err := e.store.StatObject(ctx, e.bucket, key)
	if err != nil {
		outcome.Err = classifyProbeError(err)
		return outcome
	}
	if existing != nil {
		// duplicate: never assume non-existence, never re-upload
		outcome.Skipped = true
		outcome.Size = existing.Size
		outcome.RemoteURL = e.remoteURL(ctx, key)
		return outcome
	}

	f, err := os.Open(stagingPath)
	if err != nil {
		outcome.Err = domain.NewUploadError(domain.ErrorKindTransferFailed, fmt.Sprintf("open staged file: %v", err))
		return outcome
	}
	defer f.Close()

	err = e.store.Upload(ctx, storage.UploadInput{
		Bucket: e.bucket,
		Key:    key,
		Body:   f,
		Size:   size,
		ProgressCallback: func(done, total int64) {
			if progress != nil {
				progress(domain.ProgressPercent(done, total))
			}
		},
	})
	if err != nil {
		outcome.Err = classifyTransferError(ctx, err)
		return outcome
	}

	outcome.RemoteURL = e.remoteURL(ctx, key)
	return outcome
}

func (e *Engine) remoteURL(ctx context.Context, key string) string {
	url, err := e.store.GetObjectURL(ctx, e.bucket, key, e.urlTTL)
	if err != nil {
		e.logger.WithField("key", key).Warnf("presign object url: %v", err)
		return fmt.Sprintf("s3://%s/%s", e.bucket, key)
	}
	return url
}

func classifyProbeError(err error) *domain.UploadError {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.NewUploadError(domain.ErrorKindCancelled, "upload canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewUploadError(domain.ErrorKindTimeout, "existence probe timed out")
	case errors.Is(err, storage.ErrPermissionDenied):
		return domain.NewUploadError(domain.ErrorKindPermissionDenied, err.Error())
	default:
		return domain.NewUploadError(domain.ErrorKindUnknown, err.Error())
	}
}

func classifyTransferError(ctx context.Context, err error) *domain.UploadError {
	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		return domain.NewUploadError(domain.ErrorKindCancelled, "upload canceled")
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return domain.NewUploadError(domain.ErrorKindTimeout, "upload timed out")
	default:
		return domain.NewUploadError(domain.ErrorKindTransferFailed, err.Error())
	}
}
