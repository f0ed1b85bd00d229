// Package storage provides the object-storage transfer port and its S3
// implementation. The rest of the daemon only sees the Transferer interface;
// chunking, concurrency and credential handling live behind it.
package storage

import (
	"context"
	"errors"
	"time"
)

// Static errors for storage operations.
var (
	// ErrBucketNotFound is returned when the destination bucket does not exist
	// or is not accessible. It is permanent: retrying cannot succeed.
	ErrBucketNotFound = errors.New("storage: bucket not found")
)

// TransferOptions controls how a single file is moved to object storage.
type TransferOptions struct {
	// MultipartThresholdBytes is the file size at or above which the
	// multipart transfer manager is used instead of a single PutObject.
	MultipartThresholdBytes int64
	// ChunkSizeBytes is the part size for multipart transfers.
	ChunkSizeBytes int64
	// MaxConcurrency is the number of parts uploaded in parallel.
	MaxConcurrency int
}

// Transferer is the port for moving a local file into object storage.
type Transferer interface {
	// PutFile uploads the file at localPath under the given object key.
	// The destination bucket is fixed at construction time.
	PutFile(ctx context.Context, localPath, key string) error
}

// Preflighter verifies the destination is reachable before the daemon starts.
type Preflighter interface {
	// CheckBucket confirms the configured bucket exists and is accessible.
	CheckBucket(ctx context.Context) error
}

// ObjectStats summarizes the contents of the configured bucket prefix.
type ObjectStats struct {
	// TotalObjects is the number of objects under the prefix.
	TotalObjects int64
	// TotalBytes is the combined size of all objects.
	TotalBytes int64
	// ByExtension maps a lowercase file extension to its count and bytes.
	ByExtension map[string]ExtensionStats
	// OldestKey and NewestKey are the keys with the earliest and latest
	// last-modified timestamps; empty when the prefix holds no objects.
	OldestKey string
	NewestKey string
	// OldestModified and NewestModified are the matching timestamps.
	OldestModified time.Time
	NewestModified time.Time
}

// ExtensionStats holds per-extension aggregates.
type ExtensionStats struct {
	Count int64
	Bytes int64
}

// permanentError wraps errors that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// IsPermanent returns true if the error must not be retried.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
