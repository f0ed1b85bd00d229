// Package uploader drives upload attempts against object storage, retrying
// transient failures with exponential backoff until success or exhaustion.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"camsink/internal/storage"
)

// State represents the upload state machine position.
type State string

const (
	// StateAttempting indicates an upload attempt is in progress.
	StateAttempting State = "ATTEMPTING"
	// StateSucceeded indicates the file was uploaded. Terminal.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed indicates every allowed attempt failed. Terminal.
	StateFailed State = "FAILED"
)

// Attempt is a snapshot of the state machine, published to the observer
// before each attempt and after each transition.
type Attempt struct {
	// Path is the local file being uploaded.
	Path string
	// Number is the 1-based attempt counter.
	Number int
	// State is the machine state at the time of the snapshot.
	State State
	// LastErr is the most recent attempt error, nil before the first failure.
	LastErr error
	// NextDelay is the sleep before the following attempt; zero when terminal.
	NextDelay time.Duration
}

// Outcome is the terminal result of driving one file's upload.
type Outcome struct {
	// Path is the local file.
	Path string
	// Key is the destination object key.
	Key string
	// Bytes is the file size at upload time.
	Bytes int64
	// Attempts is how many attempts were made.
	Attempts int
	// State is StateSucceeded or StateFailed.
	State State
	// LastErr is the final attempt's error when failed.
	LastErr error
}

// BackoffPolicy maps a completed attempt number to the delay before the next
// attempt.
type BackoffPolicy func(attempt int) time.Duration

// ExponentialBackoff doubles the base delay with each failed attempt:
// base, 2*base, 4*base, ... No jitter is applied, so retry timing is
// deterministic and directly assertable in tests.
func ExponentialBackoff(base time.Duration) BackoffPolicy {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base << (attempt - 1)
	}
}

// Driver runs the retry state machine for one file at a time. It is
// stateless between calls and safe for concurrent use across files.
type Driver struct {
	transfer   storage.Transferer
	watchDir   string
	keyPrefix  string
	maxRetries int
	backoff    BackoffPolicy
	observer   func(Attempt)
	logger     *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithBackoffPolicy replaces the default exponential policy.
func WithBackoffPolicy(p BackoffPolicy) DriverOption {
	return func(d *Driver) {
		d.backoff = p
	}
}

// WithAttemptObserver registers a callback invoked on every state machine
// snapshot. Used by tests to inspect transitions without mocking sleeps.
func WithAttemptObserver(fn func(Attempt)) DriverOption {
	return func(d *Driver) {
		d.observer = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// NewDriver creates a Driver. maxRetries is the total attempt budget and
// backoffBase seeds the exponential delay between attempts.
func NewDriver(transfer storage.Transferer, watchDir, keyPrefix string, maxRetries int, backoffBase time.Duration, opts ...DriverOption) *Driver {
	d := &Driver{
		transfer:   transfer,
		watchDir:   watchDir,
		keyPrefix:  keyPrefix,
		maxRetries: maxRetries,
		backoff:    ExponentialBackoff(backoffBase),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// UploadWithRetry uploads the file at path, retrying transient failures up to
// the attempt budget. The terminal result is reported through the Outcome;
// the error is non-nil only when the context is cancelled mid-flight.
func (d *Driver) UploadWithRetry(ctx context.Context, path string) (Outcome, error) {
	out := Outcome{Path: path, State: StateAttempting}

	info, err := os.Stat(path)
	if err != nil {
		// Certified earlier but gone now; nothing to retry.
		out.State = StateFailed
		out.Attempts = 0
		out.LastErr = err
		d.logger.Error("upload_failed",
			slog.String("path", path),
			slog.String("reason", err.Error()),
		)
		return out, nil
	}
	out.Bytes = info.Size()
	out.Key = ObjectKey(d.keyPrefix, d.watchDir, path, info.ModTime())

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if attempt > 1 {
			delay := d.backoff(attempt - 1)
			d.notify(Attempt{Path: path, Number: attempt - 1, State: StateAttempting, LastErr: lastErr, NextDelay: delay})
			select {
			case <-ctx.Done():
				return out, fmt.Errorf("uploader: upload %s: %w", path, ctx.Err())
			case <-time.After(delay):
			}
		}

		out.Attempts = attempt
		d.logger.Info("upload_attempt",
			slog.String("path", path),
			slog.String("key", out.Key),
			slog.Int64("bytes", out.Bytes),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", d.maxRetries),
		)

		err := d.transfer.PutFile(ctx, path, out.Key)
		if err == nil {
			out.State = StateSucceeded
			d.notify(Attempt{Path: path, Number: attempt, State: StateSucceeded})
			d.logger.Info("upload_succeeded",
				slog.String("path", path),
				slog.String("key", out.Key),
				slog.Int64("bytes", out.Bytes),
				slog.Int("attempts", attempt),
			)
			return out, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return out, fmt.Errorf("uploader: upload %s: %w", path, ctx.Err())
		}
		if storage.IsPermanent(err) {
			d.logger.Error("upload_attempt_failed",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.Bool("permanent", true),
				slog.String("error", err.Error()),
			)
			break
		}
		d.logger.Warn("upload_attempt_failed",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	out.State = StateFailed
	out.LastErr = lastErr
	d.notify(Attempt{Path: path, Number: out.Attempts, State: StateFailed, LastErr: lastErr})
	d.logger.Error("upload_failed",
		slog.String("path", path),
		slog.String("key", out.Key),
		slog.Int("attempts", out.Attempts),
		slog.String("reason", lastErr.Error()),
	)
	return out, nil
}

func (d *Driver) notify(a Attempt) {
	if d.observer != nil {
		d.observer(a)
	}
}

// ObjectKey derives the destination key for a local file. The key preserves
// the path relative to the watch directory and inserts the file's UTC
// modification date, so recorders that reuse filenames across days do not
// overwrite earlier footage. The derivation is deterministic: re-uploading an
// unchanged file overwrites the same object.
func ObjectKey(keyPrefix, watchDir, path string, modified time.Time) string {
	rel, err := filepath.Rel(watchDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}

	prefix := keyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return prefix + modified.UTC().Format("2006/01/02") + "/" + filepath.ToSlash(rel)
}
