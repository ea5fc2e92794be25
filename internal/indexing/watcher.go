package indexing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/lsi/internal/config"
	"github.com/standardbeagle/lsi/internal/core"
	"github.com/standardbeagle/lsi/internal/debug"
	"github.com/standardbeagle/lsi/internal/types"
)

const (
	walkMaxAttempts = 10
	walkBackoffStep = time.Second
)

// Watcher is the sync stage: it bootstraps the index with one walk of the
// tree and then relays live filesystem notifications, as one serialized
// stream of FileSyncEvents stamped from the logical clock.
//
// The bootstrap order is load-bearing. The subscription is set up before the
// walk so nothing changing mid-walk is lost, and notifications arriving
// during the walk are buffered until the walk has finished so a stale
// initial CREATE can never be applied over a newer live MODIFY (the clock
// gives every buffered notification a later stamp than every walk event).
type Watcher struct {
	cfg   *config.Config
	clock *atomic.Uint64
	addrs *core.Interner

	events chan<- types.FileSyncEvent
	status chan<- types.StatusUpdate

	// OnWalkError, when set, observes initial-walk attempt failures that
	// are about to be retried.
	OnWalkError func(err error)
}

func NewWatcher(
	cfg *config.Config,
	clock *atomic.Uint64,
	addrs *core.Interner,
	events chan<- types.FileSyncEvent,
	status chan<- types.StatusUpdate,
) *Watcher {
	return &Watcher{
		cfg:    cfg,
		clock:  clock,
		addrs:  addrs,
		events: events,
		status: status,
	}
}

// Run drives the sync stage until the context is cancelled or a fatal error
// occurs. Overflow and a vanished root are fatal; the supervisor responds by
// restarting the generation.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.cfg.Index.EnableWatcher {
		return w.runSnapshot(ctx)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting notifier: %w", err)
	}
	defer fsw.Close()

	// Subscribe before walking.
	if err := w.addWatches(ctx, fsw, w.cfg.Project.Root); err != nil {
		return err
	}
	if !w.sendStatus(ctx, types.StatusWatcherStarted) {
		return ctx.Err()
	}

	// Buffer live notifications while the walk runs. The collector also
	// keeps the notifier's channels drained so the kernel queue does not
	// back up during a long walk.
	walkDone := make(chan struct{})
	collected := make(chan collectResult, 1)
	go w.collect(ctx, fsw, walkDone, collected)

	walkErr := w.initialWalk(ctx)
	close(walkDone)
	if walkErr != nil {
		return walkErr
	}
	if !w.sendStatus(ctx, types.StatusAllFilesDiscovered) {
		return ctx.Err()
	}

	res := <-collected
	if res.err != nil {
		return res.err
	}

	// Release the buffered notifications, then go live.
	for _, ev := range res.buffered {
		if err := w.handleNotification(ctx, fsw, ev); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return w.live(ctx, fsw)
}

// runSnapshot is watcher-off mode: one walk, then park until cancelled. The
// index is a one-shot snapshot of the tree.
func (w *Watcher) runSnapshot(ctx context.Context) error {
	if err := w.initialWalk(ctx); err != nil {
		return err
	}
	if !w.sendStatus(ctx, types.StatusAllFilesDiscovered) {
		return ctx.Err()
	}
	<-ctx.Done()
	return ctx.Err()
}

type collectResult struct {
	buffered []fsnotify.Event
	err      error
}

// collect buffers notifications until walkDone closes. Overflow during the
// walk is already fatal; anything else on the error channel is logged and
// tolerated, matching live-phase behavior.
func (w *Watcher) collect(ctx context.Context, fsw *fsnotify.Watcher, walkDone <-chan struct{}, out chan<- collectResult) {
	var res collectResult
	defer func() { out <- res }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-walkDone:
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			res.buffered = append(res.buffered, ev)
			if w.relevantFile(ev.Name) {
				w.sendStatus(ctx, types.StatusWatcherDiscoveredFileDuringInit)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				res.err = fmt.Errorf("%w: %v", ErrOverflow, err)
				return
			}
			log.Printf("watcher: notifier error during initial sync: %v", err)
		}
	}
}

// live relays notifications until cancellation or a fatal notifier error.
func (w *Watcher) live(ctx context.Context, fsw *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return ctx.Err()
			}
			if err := w.handleNotification(ctx, fsw, ev); err != nil {
				return err
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return ctx.Err()
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				return fmt.Errorf("%w: %v", ErrOverflow, err)
			}
			log.Printf("watcher: notifier error: %v", err)
		}
	}
}

// handleNotification maps one native notification onto the event stream.
func (w *Watcher) handleNotification(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) error {
	path := ev.Name
	debug.Tracef("watcher: %s %s", ev.Op, path)

	info, statErr := os.Stat(path)
	if statErr == nil && info.IsDir() {
		// A new directory needs its own watch; its contents announce
		// themselves as subsequent creates.
		if ev.Op&fsnotify.Create != 0 && !w.excluded(path, true) {
			if err := fsw.Add(path); err != nil {
				log.Printf("watcher: failed to watch new directory %s: %v", path, err)
			}
		}
		return nil
	}

	if w.excluded(path, false) {
		return nil
	}

	var evType types.EventType
	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		evType = types.EventDelete
	case statErr != nil:
		// Already gone; the pending remove notification will clean up.
		return nil
	case !info.Mode().IsRegular():
		return nil
	case ev.Op&fsnotify.Create != 0:
		evType = types.EventCreate
	case ev.Op&fsnotify.Write != 0:
		evType = types.EventModify
	default:
		return nil // chmod and friends
	}

	// The root itself disappearing ends the generation.
	if evType == types.EventDelete {
		if _, err := os.Stat(w.cfg.Project.Root); err != nil && os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrRootNotFound, w.cfg.Project.Root)
		}
	}

	w.emit(ctx, path, types.SourceWatcher, evType)
	return nil
}

// initialWalk enumerates every regular file once, emitting CREATE events
// with the initial-sync source. Concurrent tree modification can fail a
// walk; it is retried with a linear backoff. Re-emitted CREATEs from a
// retried walk are harmless: the clock stamps them newer and reindexing is
// idempotent.
func (w *Watcher) initialWalk(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= walkMaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * walkBackoffStep
			debug.Tracef("watcher: retrying initial walk in %s (attempt %d)", backoff, attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := w.walkOnce(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if errors.Is(err, fs.ErrNotExist) {
			if _, statErr := os.Stat(w.cfg.Project.Root); statErr != nil {
				return fmt.Errorf("%w: %s: %v", ErrRootNotFound, w.cfg.Project.Root, err)
			}
		}

		lastErr = err
		if w.OnWalkError != nil {
			w.OnWalkError(err)
		}
		log.Printf("watcher: initial walk attempt %d failed: %v", attempt, err)
	}
	return fmt.Errorf("initial walk failed after %d attempts: %w", walkMaxAttempts, lastErr)
}

func (w *Watcher) walkOnce(ctx context.Context) error {
	root := w.cfg.Project.Root
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && w.excluded(path, true) {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || w.excluded(path, false) {
			return nil
		}

		w.emit(ctx, path, types.SourceInitialSync, types.EventCreate)
		return nil
	})
}

// emit stamps, interns, and sends one file-sync event, announcing it on the
// status queue first so the modification total never trails the handled
// count.
func (w *Watcher) emit(ctx context.Context, path string, source types.EventSource, evType types.EventType) {
	addr := w.address(path)
	t := w.clock.Add(1)

	w.sendStatus(ctx, types.StatusFileUpdated)
	select {
	case w.events <- types.FileSyncEvent{Time: t, Addr: addr, Source: source, Type: evType}:
	case <-ctx.Done():
	}
}

func (w *Watcher) sendStatus(ctx context.Context, kind types.StatusKind) bool {
	select {
	case w.status <- types.StatusUpdate{Kind: kind}:
		return true
	case <-ctx.Done():
		return false
	}
}

// address normalizes a path to its canonical absolute form and interns it.
func (w *Watcher) address(path string) types.FileAddress {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return types.FileAddress(w.addrs.Intern(abs))
}

func (w *Watcher) excluded(path string, isDir bool) bool {
	rel, err := filepath.Rel(w.cfg.Project.Root, path)
	if err != nil {
		return false
	}
	return w.cfg.Excluded(rel, isDir)
}

// relevantFile mirrors the live-phase filtering for the pre-init discovery
// counter: only notifications that could become file events count.
func (w *Watcher) relevantFile(path string) bool {
	if w.excluded(path, false) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return true // likely a delete of a file we may have indexed
	}
	return info.Mode().IsRegular()
}

// addWatches subscribes to every directory under root, guarding against
// symlink cycles with a visited set of resolved paths.
func (w *Watcher) addWatches(ctx context.Context, fsw *fsnotify.Watcher, root string) error {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return fmt.Errorf("checking root %s: %w", root, err)
	}

	visited := make(map[string]bool)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if !d.IsDir() {
			return nil
		}

		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		if path != root && w.excluded(path, true) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			log.Printf("watcher: failed to watch %s: %v", path, err)
		}
		return nil
	})
}
