package domain

import "time"

// ErrorKind classifies terminal upload and accounting failures.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindNotAuthenticated ErrorKind = "not_authenticated"
	ErrorKindForbidden        ErrorKind = "forbidden"
	ErrorKindPermissionDenied ErrorKind = "permission_denied"
	ErrorKindTransferFailed   ErrorKind = "transfer_failed"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindCancelled        ErrorKind = "cancelled"
	ErrorKindUnavailable      ErrorKind = "unavailable"
	ErrorKindInvalidArgument  ErrorKind = "invalid_argument"
	ErrorKindUnknown          ErrorKind = "unknown"
)

// UploadError is a classified failure carried inside an UploadOutcome.
type UploadError struct {
	Kind    ErrorKind
	Message string
}

func (e *UploadError) Error() string {
	return e.Message
}

// NewUploadError builds a classified upload error.
func NewUploadError(kind ErrorKind, message string) *UploadError {
	return &UploadError{Kind: kind, Message: message}
}

// UploadOutcome is the single terminal result of one upload attempt.
// Err is nil on success; Skipped marks a duplicate that was never
// re-transferred.
type UploadOutcome struct {
	Key       string
	RemoteURL string
	Size      int64
	Skipped   bool
	Err       *UploadError
}

// UploadProgress is an in-flight transfer snapshot. Indeterminate is set
// when the total size is unknown, in which case Percent is meaningless.
type UploadProgress struct {
	BytesUploaded int64
	TotalBytes    int64
	Percent       int
	Indeterminate bool
}

// ProgressPercent computes floor(done/total*100) clamped to [0,100].
// A zero or unknown total yields an indeterminate snapshot, never a
// divide by zero.
func ProgressPercent(done, total int64) UploadProgress {
	p := UploadProgress{BytesUploaded: done, TotalBytes: total}
	if total <= 0 {
		p.Indeterminate = true
		return p
	}
	percent := int(done * 100 / total)
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	p.Percent = percent
	return p
}

// ItemStatus tracks one batch item through its lifecycle.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusUploading ItemStatus = "uploading"
	ItemStatusSucceeded ItemStatus = "succeeded"
	ItemStatusSkipped   ItemStatus = "skipped"
	ItemStatusFailed    ItemStatus = "failed"
	ItemStatusCancelled ItemStatus = "cancelled"
)

// BatchStatus tracks the batch as a whole.
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

// BatchItem is one media file queued for upload within a batch.
type BatchItem struct {
	Index        int
	Name         string
	StagingPath  string
	Size         int64
	Status       ItemStatus
	Key          string
	RemoteURL    string
	Skipped      bool
	ErrorKind    ErrorKind
	ErrorMessage string
}

// Batch aggregates the ordered items of one upload run together with the
// cumulative counters the coordinator maintains. CurrentProgress is the
// in-flight item's transfer snapshot, present only while the batch runs.
type Batch struct {
	ID              string
	IdentityID      string
	Prefix          string
	Status          BatchStatus
	Items           []BatchItem
	UploadedCount   int
	SkippedCount    int
	FailedCount     int
	CurrentProgress *UploadProgress
	CreatedAt       time.Time
	FinishedAt      *time.Time
}

// FailedItems returns the retryable subset in submission order. An item
// interrupted by cancellation is not in it: it never reached a genuine
// failure and its staging artifact is already gone.
func (b *Batch) FailedItems() []BatchItem {
	var failed []BatchItem
	for i := range b.Items {
		if b.Items[i].Status == ItemStatusFailed {
			failed = append(failed, b.Items[i])
		}
	}
	return failed
}

// StorageStats is a fresh snapshot of one prefix's stored objects.
type StorageStats struct {
	ObjectCount    int64
	TotalSizeBytes int64
}

// UploadRecord is the persisted history row for one terminal item outcome.
type UploadRecord struct {
	ID           int64
	IdentityID   string
	BatchID      string
	Key          string
	Size         int64
	Status       ItemStatus
	Skipped      bool
	ErrorMessage string
	CreatedAt    time.Time
}
