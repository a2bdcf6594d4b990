// Package watcher implements the Watcher & Reconciler (spec §4.8): a
// recursive filesystem watcher rooted at a configured directory, merged
// with an editor-hint channel, feeding a single reconciler goroutine that
// reparses changed files and commits their diff into the Metadata Store,
// Graph Store, and Full-Text Index, publishing the result on the Event
// Bus. Disk events come from github.com/fsnotify/fsnotify (the same
// package-level watcher loop shape the pack's mddb server uses for its
// own self-watch), matching original_source/src/watcher.rs's use of the
// Rust `notify` crate for the equivalent job.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind distinguishes disk-originated events from editor hints once
// merged onto the single reconciliation queue.
type EventKind int

const (
	// KindFileChanged covers both fsnotify write/create events and an
	// editor's file-modified hint — the reconciler treats both the same
	// way: reparse the path.
	KindFileChanged EventKind = iota
	// KindNodeOpened is an editor-hint-only event with no disk component.
	KindNodeOpened
)

// Event is one item on the reconciliation queue.
type Event struct {
	Kind EventKind
	Path string // valid for KindFileChanged
	ID   string // valid for KindNodeOpened
}

// Watcher recursively watches root_dir for org-file changes, coalescing
// bursts of events on the same path within a 150ms window, and merges in
// editor hints received via HintFileModified and HintNodeOpened.
type Watcher struct {
	root string
	log  *slog.Logger

	fsw *fsnotify.Watcher

	mu             sync.Mutex
	timers         map[string]*time.Timer
	coalesceWindow time.Duration

	out chan Event
}

// New creates a Watcher rooted at root. Call Start to begin watching;
// Events() returns the merged, coalesced event stream.
func New(root string, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		root:           root,
		log:            log,
		fsw:            fsw,
		timers:         map[string]*time.Timer{},
		coalesceWindow: 150 * time.Millisecond,
		out:            make(chan Event, 256),
	}
	return w, nil
}

// Events returns the channel of coalesced, merged reconciliation events.
func (w *Watcher) Events() <-chan Event { return w.out }

// Start walks root_dir adding every directory to the underlying fsnotify
// watch set, then runs the event loop in a new goroutine until Stop
// closes the fsnotify watcher.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if addErr := w.fsw.Add(path); addErr != nil {
				w.log.Warn("watcher: failed to watch directory", "path", path, "err", addErr)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	go w.loop()
	return nil
}

// Stop closes the underlying fsnotify watcher, ending the event loop.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				close(w.out)
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				continue
			}
			w.log.Warn("watcher: fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if addErr := w.fsw.Add(ev.Name); addErr != nil {
				w.log.Warn("watcher: failed to watch new directory", "path", ev.Name, "err", addErr)
			}
			return
		}
	}
	if !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
		return
	}
	w.scheduleCoalesced(ev.Name)
}

// scheduleCoalesced resets a per-path timer on every new event for that
// path; only when the timer fires (150ms of silence on that path) does an
// Event actually reach the reconciliation queue, per spec §4.8.
func (w *Watcher) scheduleCoalesced(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.coalesceWindow, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.out <- Event{Kind: KindFileChanged, Path: path}
	})
}

// HintFileModified enqueues a reconciliation for path from an editor hint,
// bypassing fsnotify and its coalescing window (spec §6.3
// editor_hint_modified).
func (w *Watcher) HintFileModified(path string) {
	w.out <- Event{Kind: KindFileChanged, Path: path}
}

// HintNodeOpened enqueues a node_visited notification from an editor hint
// (spec §6.3 editor_hint_opened). It carries no disk-reconciliation work.
func (w *Watcher) HintNodeOpened(id string) {
	w.out <- Event{Kind: KindNodeOpened, ID: id}
}
