// Package watcher emits events for media files created under a watched
// directory tree. It wraps fsnotify, adds recursive watching, and filters
// out files the daemon does not care about.
package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileType classifies a watched file by its extension.
type FileType string

const (
	// FileTypeVideo covers recorder video formats.
	FileTypeVideo FileType = "video"
	// FileTypeImage covers still snapshots.
	FileTypeImage FileType = "image"
	// FileTypeUnknown covers everything else that passed the extension filter.
	FileTypeUnknown FileType = "unknown"
)

var videoExtensions = map[string]struct{}{
	".avi": {}, ".mov": {}, ".mp4": {}, ".mkv": {}, ".bvr": {}, ".dat": {},
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {},
}

// Classify returns the FileType for a path based on its extension.
func Classify(path string) FileType {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := videoExtensions[ext]; ok {
		return FileTypeVideo
	}
	if _, ok := imageExtensions[ext]; ok {
		return FileTypeImage
	}
	return FileTypeUnknown
}

// Event is a notification that a new file appeared under the watch root.
type Event struct {
	// Path is the absolute path of the created file.
	Path string
	// Type is the media classification.
	Type FileType
}

// Watcher watches a directory tree for created files. Delivery is
// at-least-once; consumers must tolerate duplicate events for a path.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	accept   map[string]struct{}
	excluded []string
	events   chan Event
	errs     chan error
	done     chan struct{}
	logger   *slog.Logger
}

// New creates a Watcher rooted at dir. Only files whose lowercase extension
// is in extensions are reported; files whose base name starts with one of
// excludedPrefixes are skipped. The existing subtree is registered before
// New returns, so no directory present at startup is missed.
func New(dir string, extensions, excludedPrefixes []string, logger *slog.Logger) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watcher: %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	accept := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		accept[strings.ToLower(ext)] = struct{}{}
	}

	w := &Watcher{
		fsw:      fsw,
		root:     dir,
		accept:   accept,
		excluded: excludedPrefixes,
		events:   make(chan Event, 64),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}

	if err := w.addTree(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Events returns the channel of created-file notifications.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops watching and closes the event channel.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

// addTree registers dir and every subdirectory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watcher: add %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer close(w.events)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			w.handleCreate(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
				w.logger.Warn("watch_error_dropped", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Watcher) handleCreate(path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Already gone; the stability detector would reject it anyway.
		return
	}

	if info.IsDir() {
		// New recorder subdirectory: register it and its children.
		if err := w.addTree(path); err != nil {
			w.logger.Warn("watch_subdir_failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if !w.wants(path) {
		return
	}

	select {
	case w.events <- Event{Path: path, Type: Classify(path)}:
	default:
		// Consumer stalled or gone; dropping beats deadlocking Close.
		w.logger.Warn("event_dropped", slog.String("path", path))
	}
}

// wants applies the extension and excluded-prefix filters.
func (w *Watcher) wants(path string) bool {
	base := filepath.Base(path)
	for _, prefix := range w.excluded {
		if strings.HasPrefix(base, prefix) {
			w.logger.Debug("skipping_excluded_file", slog.String("path", path))
			return false
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	_, ok := w.accept[ext]
	return ok
}
