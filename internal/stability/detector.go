// Package stability decides when a file has finished being written.
// A file is certified ready once its size has been unchanged across a
// required number of consecutive polls and it can be opened for reading,
// which together indicate the producing process has closed it.
package stability

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

// Status represents the terminal outcome of a certification attempt.
type Status string

const (
	// StatusReady indicates the file is fully written and readable.
	StatusReady Status = "READY"
	// StatusTimedOut indicates the file never stabilized within the wait budget.
	StatusTimedOut Status = "TIMED_OUT"
	// StatusNotFound indicates the file disappeared while polling.
	StatusNotFound Status = "NOT_FOUND"
)

// Certification is the result of watching a single file settle.
type Certification struct {
	// Path is the file that was observed.
	Path string
	// Status is the terminal outcome.
	Status Status
	// Size is the last observed size in bytes; authoritative when ready.
	Size int64
	// Waited is how long the detector observed the file.
	Waited time.Duration
}

// Detector polls a file's size until it settles. A single Detector is
// shared by all in-flight files; per-file state lives on the goroutine
// running CertifyReady, so no locking is needed.
type Detector struct {
	pollInterval time.Duration
	stableChecks int
	maxWait      time.Duration
	logger       *slog.Logger
}

// New creates a Detector. A file is ready once its size is unchanged for
// stableChecks consecutive polls spaced pollInterval apart and the file can
// be opened; certification gives up after maxWait.
func New(pollInterval time.Duration, stableChecks int, maxWait time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		pollInterval: pollInterval,
		stableChecks: stableChecks,
		maxWait:      maxWait,
		logger:       logger,
	}
}

// CertifyReady blocks until the file at path is ready, vanishes, or the wait
// budget is exhausted. The returned error is non-nil only when the context is
// cancelled; all filesystem outcomes are reported through the Certification.
func (d *Detector) CertifyReady(ctx context.Context, path string) (Certification, error) {
	cert := Certification{Path: path}
	start := time.Now()

	d.logger.Info("stability_waiting",
		slog.String("path", path),
		slog.Duration("poll_interval", d.pollInterval),
		slog.Int("stable_checks", d.stableChecks),
	)

	var lastSize int64 = -1
	checks := 0

	for {
		if time.Since(start) > d.maxWait {
			cert.Status = StatusTimedOut
			cert.Size = lastSize
			cert.Waited = time.Since(start)
			return cert, nil
		}

		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			cert.Status = StatusNotFound
			cert.Waited = time.Since(start)
			return cert, nil
		case err != nil:
			// Transient stat failure: forget what we knew and keep polling.
			checks = 0
			lastSize = -1
		default:
			size := info.Size()
			switch {
			case size > 0 && size == lastSize:
				checks++
			case size > 0:
				checks = 1
			default:
				checks = 0
			}
			lastSize = size

			if checks >= d.stableChecks {
				if openErr := probeOpen(path); openErr == nil {
					cert.Status = StatusReady
					cert.Size = size
					cert.Waited = time.Since(start)
					d.logger.Info("stability_ready",
						slog.String("path", path),
						slog.Int64("bytes", size),
						slog.Duration("waited", cert.Waited),
					)
					return cert, nil
				}
				// Still locked by the writer: treat as transient and start over.
				checks = 0
				lastSize = -1
			}
		}

		select {
		case <-ctx.Done():
			return cert, fmt.Errorf("stability: certify %s: %w", path, ctx.Err())
		case <-time.After(d.pollInterval):
		}
	}
}

// probeOpen verifies the file is not locked by its writer by opening it and
// reading a single byte.
func probeOpen(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1)
	if _, err := f.Read(buf); err != nil {
		return err
	}
	return nil
}
