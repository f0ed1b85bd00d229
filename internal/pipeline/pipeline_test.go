package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camsink/internal/stability"
	"camsink/internal/uploader"
	"camsink/internal/watcher"
)

// fakeCertifier returns a canned certification, optionally blocking until
// released or the context is cancelled.
type fakeCertifier struct {
	status  stability.Status
	block   chan struct{}
	mu      sync.Mutex
	calls   int
	lastErr error
}

func (f *fakeCertifier) CertifyReady(ctx context.Context, path string) (stability.Certification, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			f.mu.Lock()
			f.lastErr = ctx.Err()
			f.mu.Unlock()
			return stability.Certification{}, ctx.Err()
		}
	}
	return stability.Certification{Path: path, Status: f.status, Size: 42}, nil
}

func (f *fakeCertifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeUploader struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeUploader) UploadWithRetry(_ context.Context, path string) (uploader.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return uploader.Outcome{Path: path, State: uploader.StateSucceeded, Attempts: 1}, nil
}

func (f *fakeUploader) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func TestDispatch_ReadyFileIsUploaded(t *testing.T) {
	cert := &fakeCertifier{status: stability.StatusReady}
	up := &fakeUploader{}
	p := New(cert, up, time.Second, nil)

	require.True(t, p.Dispatch(watcher.Event{Path: "/cam/a.mp4", Type: watcher.FileTypeVideo}))
	p.Shutdown()

	assert.Equal(t, 1, cert.callCount())
	assert.Equal(t, []string{"/cam/a.mp4"}, up.uploaded())
}

func TestDispatch_TimedOutFileIsNotUploaded(t *testing.T) {
	cert := &fakeCertifier{status: stability.StatusTimedOut}
	up := &fakeUploader{}
	p := New(cert, up, time.Second, nil)

	p.Dispatch(watcher.Event{Path: "/cam/a.mp4"})
	p.Shutdown()

	assert.Empty(t, up.uploaded())
}

func TestDispatch_VanishedFileIsNotUploaded(t *testing.T) {
	cert := &fakeCertifier{status: stability.StatusNotFound}
	up := &fakeUploader{}
	p := New(cert, up, time.Second, nil)

	p.Dispatch(watcher.Event{Path: "/cam/a.mp4"})
	p.Shutdown()

	assert.Empty(t, up.uploaded())
}

func TestDispatch_CoalescesDuplicatePaths(t *testing.T) {
	release := make(chan struct{})
	cert := &fakeCertifier{status: stability.StatusReady, block: release}
	up := &fakeUploader{}
	p := New(cert, up, time.Second, nil)

	ev := watcher.Event{Path: "/cam/a.mp4"}
	require.True(t, p.Dispatch(ev))

	// Wait for the worker to be in flight, then duplicate events coalesce.
	require.Eventually(t, func() bool { return p.InFlight() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, p.Dispatch(ev))
	assert.False(t, p.Dispatch(ev))

	close(release)
	p.Shutdown()

	assert.Equal(t, 1, cert.callCount())
	assert.Equal(t, []string{"/cam/a.mp4"}, up.uploaded())
}

func TestDispatch_FilesRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	cert := &fakeCertifier{status: stability.StatusReady, block: release}
	up := &fakeUploader{}
	p := New(cert, up, time.Second, nil)

	p.Dispatch(watcher.Event{Path: "/cam/a.mp4"})
	p.Dispatch(watcher.Event{Path: "/cam/b.mp4"})
	p.Dispatch(watcher.Event{Path: "/cam/c.mp4"})

	require.Eventually(t, func() bool { return p.InFlight() == 3 }, time.Second, 5*time.Millisecond)

	close(release)
	p.Shutdown()

	assert.Len(t, up.uploaded(), 3)
	assert.Equal(t, 0, p.InFlight())
}

func TestRun_ConsumesUntilChannelCloses(t *testing.T) {
	cert := &fakeCertifier{status: stability.StatusReady}
	up := &fakeUploader{}
	p := New(cert, up, time.Second, nil)

	events := make(chan watcher.Event, 2)
	events <- watcher.Event{Path: "/cam/a.mp4"}
	events <- watcher.Event{Path: "/cam/b.mp4"}
	close(events)

	p.Run(context.Background(), events)
	p.Shutdown()

	assert.ElementsMatch(t, []string{"/cam/a.mp4", "/cam/b.mp4"}, up.uploaded())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cert := &fakeCertifier{status: stability.StatusReady}
	up := &fakeUploader{}
	p := New(cert, up, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx, make(chan watcher.Event))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_AbandonsStuckWorkAfterGrace(t *testing.T) {
	// Never released: the worker only exits when Shutdown cancels it.
	cert := &fakeCertifier{status: stability.StatusReady, block: make(chan struct{})}
	up := &fakeUploader{}
	p := New(cert, up, 50*time.Millisecond, nil)

	p.Dispatch(watcher.Event{Path: "/cam/stuck.mp4"})
	require.Eventually(t, func() bool { return p.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	p.Shutdown()

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Empty(t, up.uploaded())
	assert.Equal(t, 0, p.InFlight())
}
