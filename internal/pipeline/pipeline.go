// Package pipeline ties the watcher, stability detector and upload driver
// together: one unit of work per discovered file, certify-then-upload run
// strictly in sequence per file, files independent of each other.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"camsink/internal/stability"
	"camsink/internal/uploader"
	"camsink/internal/watcher"
)

// Certifier decides when a file is safe to read.
type Certifier interface {
	CertifyReady(ctx context.Context, path string) (stability.Certification, error)
}

// Uploader moves a certified file to object storage.
type Uploader interface {
	UploadWithRetry(ctx context.Context, path string) (uploader.Outcome, error)
}

// Pipeline dispatches one goroutine per discovered file. Duplicate events
// for a path already in flight are coalesced; a later re-notification simply
// re-runs the cycle, which overwrites the same object.
type Pipeline struct {
	certifier Certifier
	driver    Uploader
	grace     time.Duration
	logger    *slog.Logger

	workCtx    context.Context
	cancelWork context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a Pipeline. grace bounds how long Shutdown waits for in-flight
// work before abandoning it.
func New(certifier Certifier, driver Uploader, grace time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	workCtx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		certifier:  certifier,
		driver:     driver,
		grace:      grace,
		logger:     logger,
		workCtx:    workCtx,
		cancelWork: cancel,
		inFlight:   make(map[string]struct{}),
	}
}

// Run consumes events until the context is cancelled or the channel closes.
// In-flight work is not cancelled here; call Shutdown afterwards.
func (p *Pipeline) Run(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Dispatch(ev)
		}
	}
}

// Dispatch starts the certify-then-upload cycle for one event. It returns
// false when the path is already in flight and the event was coalesced.
func (p *Pipeline) Dispatch(ev watcher.Event) bool {
	p.mu.Lock()
	if _, busy := p.inFlight[ev.Path]; busy {
		p.mu.Unlock()
		p.logger.Debug("duplicate_event_coalesced", slog.String("path", ev.Path))
		return false
	}
	p.inFlight[ev.Path] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, ev.Path)
			p.mu.Unlock()
		}()
		p.process(ev)
	}()
	return true
}

// InFlight reports how many files are currently being processed.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// Shutdown waits up to the grace period for in-flight work, then cancels
// whatever remains. Abandoned uploads are not resumed on restart.
func (p *Pipeline) Shutdown() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.grace):
		p.logger.Warn("shutdown_grace_elapsed",
			slog.Int("abandoned", p.InFlight()),
		)
	}

	p.cancelWork()
	p.wg.Wait()
}

// process runs the per-file sequence: certification first, upload only once
// the file is certified ready.
func (p *Pipeline) process(ev watcher.Event) {
	cert, err := p.certifier.CertifyReady(p.workCtx, ev.Path)
	if err != nil {
		p.logger.Warn("file_abandoned",
			slog.String("path", ev.Path),
			slog.String("stage", "stability"),
			slog.String("error", err.Error()),
		)
		return
	}

	switch cert.Status {
	case stability.StatusNotFound:
		p.logger.Warn("file_vanished", slog.String("path", ev.Path))
		return
	case stability.StatusTimedOut:
		p.logger.Warn("stability_timeout",
			slog.String("path", ev.Path),
			slog.Int64("last_size", cert.Size),
			slog.Duration("waited", cert.Waited),
		)
		return
	case stability.StatusReady:
	}

	// Terminal upload outcomes are logged by the driver itself; only
	// mid-flight cancellation needs reporting here.
	if _, err := p.driver.UploadWithRetry(p.workCtx, ev.Path); err != nil {
		p.logger.Warn("file_abandoned",
			slog.String("path", ev.Path),
			slog.String("stage", "upload"),
			slog.String("error", err.Error()),
		)
	}
}
