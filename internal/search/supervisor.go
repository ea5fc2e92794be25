package search

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/lsi/internal/config"
	"github.com/standardbeagle/lsi/internal/core"
	"github.com/standardbeagle/lsi/internal/debug"
	"github.com/standardbeagle/lsi/internal/indexing"
	"github.com/standardbeagle/lsi/internal/queue"
	"github.com/standardbeagle/lsi/internal/types"
)

// Options are the optional supervisor hooks.
type Options struct {
	// HandleWatcherError observes the failure that ended a generation.
	HandleWatcherError func(err error)

	// HandleInitialFileSyncError observes initial-walk attempt failures
	// that are about to be retried.
	HandleInitialFileSyncError func(err error)

	// RestartDelay paces the resurrect loop so a persistent failure (a
	// vanished root, say) does not spin. Zero means the default.
	RestartDelay time.Duration
}

const defaultRestartDelay = time.Second

// Supervisor runs the watcher + indexer pool + index actor trio as one child
// scope and resurrects it on failure. All index state lives inside a
// generation; a restart discards it and rebuilds from a fresh walk.
type Supervisor struct {
	cfg  *config.Config
	opts Options
	bc   *Broadcaster

	// gen is the currently running generation, nil between generations.
	// The search engine reads it on every request.
	gen atomic.Pointer[generation]

	// ForceFailure makes the current generation fail with the given
	// error, for exercising the restart path from the command surface.
	forceFail chan error
}

// generation is the per-incarnation handle the engine talks through.
type generation struct {
	id       string
	requests chan types.UserRequest
	done     chan struct{}
}

func NewSupervisor(cfg *config.Config, opts Options) *Supervisor {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = defaultRestartDelay
	}
	return &Supervisor{
		cfg:       cfg,
		opts:      opts,
		bc:        NewBroadcaster(),
		forceFail: make(chan error),
	}
}

// StatusStream subscribes to the lifecycle broadcast.
func (s *Supervisor) StatusStream() (<-chan types.IndexStateUpdate, func()) {
	return s.bc.Subscribe()
}

// ForceFailure injects a fatal error into the running generation.
func (s *Supervisor) ForceFailure(err error) {
	select {
	case s.forceFail <- err:
	default:
		// No generation listening; nothing to break.
	}
}

// current returns the active generation, or nil between generations.
func (s *Supervisor) current() *generation {
	return s.gen.Load()
}

// Run loops generations until the context is cancelled. Cancellation from
// above is the only non-restarting exit: it publishes Terminated and
// completes the status stream.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.bc.Close()

	terminate := func() error {
		s.bc.Publish(types.IndexStateUpdate{
			Kind:   types.StateTerminated,
			At:     time.Now(),
			Reason: context.Cause(ctx),
		})
		return ctx.Err()
	}

	for {
		if ctx.Err() != nil {
			return terminate()
		}

		gen := &generation{
			id:       uuid.NewString(),
			requests: make(chan types.UserRequest),
			done:     make(chan struct{}),
		}

		s.bc.Publish(types.IndexStateUpdate{
			Kind:       types.StateInitializing,
			At:         time.Now(),
			Generation: gen.id,
		})

		s.gen.Store(gen)
		err := s.runGeneration(ctx, gen)
		s.gen.Store(nil)
		close(gen.done)

		if ctx.Err() != nil {
			return terminate()
		}

		log.Printf("index: generation %s failed: %v", gen.id, err)
		if s.opts.HandleWatcherError != nil {
			s.opts.HandleWatcherError(err)
		}
		s.bc.Publish(types.IndexStateUpdate{
			Kind:       types.StateIndexFailed,
			At:         time.Now(),
			Generation: gen.id,
			Reason:     err,
		})
		s.bc.Publish(types.IndexStateUpdate{Kind: types.StateRestarting, At: time.Now()})

		select {
		case <-time.After(s.opts.RestartDelay):
		case <-ctx.Done():
		}
	}
}

// runGeneration wires one incarnation of the pipeline and blocks until a
// child fails or the context is cancelled. The first failure cancels the
// surviving children; teardown is complete when this returns.
func (s *Supervisor) runGeneration(ctx context.Context, gen *generation) error {
	debug.Tracef("index: starting generation %s", gen.id)

	mode := core.Mode(s.cfg.Index.Mode)
	tokenizer := core.NewTokenizer(mode)

	// Generation-local state: the logical clock and the address interner
	// belong to the sync stage, the token interner to the indexer pool,
	// the maps to the actor. Nothing survives into the next generation.
	var clock atomic.Uint64
	addrs := core.NewInterner()
	tokens := core.NewInterner()

	// The watcher cannot afford to drop or block, so its two outbound
	// queues are unbounded; the update queue is rendezvous so slow
	// indexing throttles the readers.
	events := queue.NewUnbounded[types.FileSyncEvent]()
	status := queue.NewUnbounded[types.StatusUpdate]()
	updates := make(chan types.IndexUpdateRequest)
	// By teardown every producer and consumer is gone; discard whatever
	// is still buffered instead of waiting for receivers that will never
	// come.
	defer events.Stop()
	defer status.Stop()

	watcher := indexing.NewWatcher(s.cfg, &clock, addrs, events.In(), status.In())
	watcher.OnWalkError = s.opts.HandleInitialFileSyncError
	indexer := indexing.NewIndexer(s.cfg, tokenizer, tokens, events.Out(), updates)
	actor := core.NewActor(mode, status.Out(), updates, gen.requests, func(u types.IndexStateUpdate) {
		u.Generation = gen.id
		s.bc.Publish(u)
	})

	g, genCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(genCtx) })
	g.Go(func() error { return indexer.Run(genCtx) })
	g.Go(func() error { return actor.Run(genCtx) })
	g.Go(func() error {
		select {
		case err := <-s.forceFail:
			return err
		case <-genCtx.Done():
			return genCtx.Err()
		}
	})

	return g.Wait()
}
