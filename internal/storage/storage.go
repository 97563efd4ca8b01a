package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrPermissionDenied marks a store rejection that must not be confused
// with "object absent". An existence probe hitting it never falls through
// to the transfer branch.
var ErrPermissionDenied = errors.New("permission denied by object store")

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// ObjectPage is one page of a cursor-based listing. An empty NextCursor
// means the enumeration is complete.
type ObjectPage struct {
	Objects    []ObjectInfo
	NextCursor string
}

// UploadInput conveys one object transfer to the store.
type UploadInput struct {
	Bucket string
	Key    string
	Body   io.Reader
	// Size is the total byte count when known, or <= 0 for streaming
	// sources of unknown length.
	Size             int64
	ProgressCallback func(done, total int64)
}

// Service abstracts the object store used for media uploads.
type Service interface {
	// StatObject probes for an existing object. A missing object returns
	// (nil, nil); any other failure returns an error, wrapped with
	// ErrPermissionDenied when the store refused the probe.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	Upload(ctx context.Context, in UploadInput) error
	ListPage(ctx context.Context, bucket, prefix, cursor string, maxKeys int32) (ObjectPage, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}
