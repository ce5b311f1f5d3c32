// Package watch re-runs work when files matching a set of globs change.
//
// Events are debounced: a burst of filesystem events (an editor save often
// produces several) becomes one batch. Batches for one watcher never run
// concurrently; changes that arrive while a batch is running are collected
// and delivered as a single follow-up batch.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

var ErrWatcherClosed = errors.New("watcher is closed")

// Handler receives the sorted list of changed files of one batch.
type Handler func(ctx context.Context, files []string)

// Config holds watcher options.
type Config struct {
	Root     string
	Patterns []string
	Debounce time.Duration
}

// Watcher watches the base directories of its patterns recursively.
type Watcher struct {
	fsw      *fsnotify.Watcher
	patterns []Pattern
	delay    time.Duration

	mu     sync.Mutex
	dirs   map[string]bool
	closed bool
}

// New creates a watcher for cfg. For a base directory that does not exist
// yet its nearest existing ancestor is watched, and the base is picked up
// once it is created.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	delay := cfg.Debounce
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	w := &Watcher{
		fsw:      fsw,
		patterns: ParsePatterns(cfg.Root, cfg.Patterns),
		delay:    delay,
		dirs:     make(map[string]bool),
	}
	if err := w.watchBases(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// watchBases watches every existing base recursively and the nearest
// existing ancestor of every missing one.
func (w *Watcher) watchBases() error {
	for _, p := range w.patterns {
		dir := nearestDir(p.Base)
		if dir == p.Base {
			if err := w.addTree(dir); err != nil {
				return err
			}
			continue
		}
		if dir == "" {
			continue
		}
		log.Debug().Str("base", p.Base).Str("dir", dir).Msg("watch base does not exist yet")
		if err := w.add(dir); err != nil {
			return err
		}
	}
	return nil
}

func nearestDir(path string) string {
	for p := path; ; {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return ""
		}
		p = parent
	}
}

// inBase reports whether dir is a pattern base or lies below one.
func (w *Watcher) inBase(dir string) bool {
	for _, p := range w.patterns {
		if within(p.Base, dir) {
			return true
		}
	}
	return false
}

// aboveBase reports whether dir is a strict ancestor of a pattern base.
func (w *Watcher) aboveBase(dir string) bool {
	for _, p := range w.patterns {
		if dir != p.Base && within(dir, p.Base) {
			return true
		}
	}
	return false
}

func within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// follow starts watching a directory created after the watcher, and returns
// the matching files already inside it.
func (w *Watcher) follow(dir string) ([]string, error) {
	switch {
	case w.inBase(dir):
		if err := w.addTree(dir); err != nil {
			return nil, err
		}
	case w.aboveBase(dir):
		if err := w.watchBases(); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !w.inBase(p) && !w.aboveBase(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if AnyMatch(w.patterns, p) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

// Dirs returns the watched directories.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("dir", dir).Msg("watch base does not exist yet")
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return w.add(dir)
	}
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.add(p)
		}
		return nil
	})
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if w.dirs[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fsw.Close()
}

// relevant filters raw events down to changes of matching files.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return AnyMatch(w.patterns, ev.Name)
}

// Run delivers batches to h until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	defer w.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	done := make(chan struct{}, 1)
	running := false

	flush := func() {
		if running || len(pending) == 0 {
			return
		}
		files := make([]string, 0, len(pending))
		for f := range pending {
			files = append(files, f)
		}
		sort.Strings(files)
		pending = make(map[string]struct{})
		running = true
		go func() {
			defer func() { done <- struct{}{} }()
			h(ctx, files)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return ErrWatcherClosed
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					files, err := w.follow(ev.Name)
					if err != nil {
						log.Warn().Err(err).Str("dir", ev.Name).Msg("watch new directory")
					}
					for _, f := range files {
						pending[f] = struct{}{}
					}
					if len(files) > 0 {
						timer.Reset(w.delay)
					}
				}
			}
			if !w.relevant(ev) {
				continue
			}
			log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("file changed")
			pending[ev.Name] = struct{}{}
			timer.Reset(w.delay)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			log.Warn().Err(err).Msg("watcher error")
		case <-timer.C:
			flush()
		case <-done:
			running = false
			if len(pending) > 0 {
				timer.Reset(w.delay)
			}
		}
	}
}
