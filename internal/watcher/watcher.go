// Package watcher wraps fsnotify with per-directory watch objects. The
// server owns one Hub (the shared notify handle); each project registers a
// Watch per source directory and receives classified events through the
// hub's callback.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a directory entry change.
type EventKind int

const (
	// EntryCreate fires for a new entry (including moved-in entries).
	EntryCreate EventKind = iota
	// EntryModify fires for content changes of an entry.
	EntryModify
	// EntryDelete fires when an entry is removed or moved away.
	EntryDelete
	// SelfDelete fires when the watched directory itself vanishes.
	SelfDelete
)

func (k EventKind) String() string {
	switch k {
	case EntryCreate:
		return "create"
	case EntryModify:
		return "modify"
	case EntryDelete:
		return "delete"
	case SelfDelete:
		return "self-delete"
	default:
		return "unknown"
	}
}

// Event is one classified change inside a watched directory.
type Event struct {
	WatchID int64
	Dir     string // watched directory (absolute)
	Name    string // entry name within Dir; "" for SelfDelete
	Kind    EventKind
	IsDir   bool
}

// artifactPatterns match short-lived editor artifacts that must never reach
// the indexer. 4913 is vim's permission probe.
var artifactPatterns = []string{
	"4913",
	"*.sw?",
	"*~",
	".#*",
}

// IsArtifact reports whether an entry name matches a skip pattern.
func IsArtifact(name string) bool {
	for _, p := range artifactPatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Hub is the process-wide notify handle. Raw fsnotify events are classified
// and handed to the OnEvent callback from the pump goroutine.
type Hub struct {
	fw      *fsnotify.Watcher
	OnEvent func(Event)

	mu     sync.Mutex
	nextID int64
	byDir  map[string]int64
	byID   map[int64]string
	done   chan struct{}
	closed bool
}

// NewHub opens the shared notify handle. Call Run to start delivering
// events.
func NewHub() (*Hub, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	return &Hub{
		fw:    fw,
		byDir: make(map[string]int64),
		byID:  make(map[int64]string),
		done:  make(chan struct{}),
	}, nil
}

// Run pumps raw events until Close. Meant to run in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case ev, ok := <-h.fw.Events:
			if !ok {
				return
			}
			h.dispatch(ev)
		case err, ok := <-h.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("watch error", "err", err)
		case <-h.done:
			return
		}
	}
}

// Close stops the pump and releases the notify handle. Watches registered
// on a closed hub deregister as a no-op.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()
	return h.fw.Close()
}

// dispatch classifies one raw event and invokes the callback.
func (h *Hub) dispatch(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	h.mu.Lock()
	selfID, isWatchedDir := h.byDir[path]
	dir := filepath.Dir(path)
	dirID, dirWatched := h.byDir[dir]
	h.mu.Unlock()

	cb := h.OnEvent
	if cb == nil {
		return
	}

	// The watched directory itself went away.
	if isWatchedDir && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		cb(Event{WatchID: selfID, Dir: path, Kind: SelfDelete, IsDir: true})
		return
	}

	if !dirWatched {
		return
	}

	name := filepath.Base(path)
	if IsArtifact(name) {
		return
	}

	isDir := false
	if info, err := os.Stat(path); err == nil {
		isDir = info.IsDir()
	} else if isWatchedDir {
		// already gone but we watched it, so it was a directory
		isDir = true
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		cb(Event{WatchID: dirID, Dir: dir, Name: name, Kind: EntryCreate, IsDir: isDir})
	case ev.Op&fsnotify.Write != 0:
		cb(Event{WatchID: dirID, Dir: dir, Name: name, Kind: EntryModify, IsDir: isDir})
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		cb(Event{WatchID: dirID, Dir: dir, Name: name, Kind: EntryDelete, IsDir: isDir})
	}
}

// Watch is one directory subscription. Construction registers, Close
// removes.
type Watch struct {
	hub *Hub
	id  int64
	dir string
}

// NewWatch registers a watch on an absolute directory path.
func (h *Hub) NewWatch(dir string) (*Watch, error) {
	dir = filepath.Clean(dir)
	if err := h.fw.Add(dir); err != nil {
		return nil, fmt.Errorf("watcher: add %s: %w", dir, err)
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.byDir[dir] = id
	h.byID[id] = dir
	h.mu.Unlock()

	return &Watch{hub: h, id: id, dir: dir}, nil
}

// ID returns the opaque watch identifier.
func (w *Watch) ID() int64 {
	return w.id
}

// Dir returns the watched directory's absolute path.
func (w *Watch) Dir() string {
	return w.dir
}

// Close deregisters the watch. Best effort when the hub is already closed.
func (w *Watch) Close() {
	w.hub.mu.Lock()
	closed := w.hub.closed
	delete(w.hub.byDir, w.dir)
	delete(w.hub.byID, w.id)
	w.hub.mu.Unlock()

	if closed {
		return
	}
	if err := w.hub.fw.Remove(w.dir); err != nil {
		slog.Debug("watch remove", "dir", w.dir, "err", err)
	}
}
