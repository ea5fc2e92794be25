package indexing

import (
	"bytes"
	"context"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/lsi/internal/config"
	"github.com/standardbeagle/lsi/internal/core"
	"github.com/standardbeagle/lsi/internal/debug"
	"github.com/standardbeagle/lsi/internal/types"
)

// Indexer drains the file-sync event stream with a pool of parallel workers.
// File reads dominate indexing latency on cold caches, so reading and
// tokenizing fan out; correctness is preserved by the single-threaded index
// actor downstream, which orders results by their logical-clock stamps.
type Indexer struct {
	cfg       *config.Config
	tokenizer core.Tokenizer
	tokens    *core.Interner

	events  <-chan types.FileSyncEvent
	updates chan<- types.IndexUpdateRequest
}

func NewIndexer(
	cfg *config.Config,
	tokenizer core.Tokenizer,
	tokens *core.Interner,
	events <-chan types.FileSyncEvent,
	updates chan<- types.IndexUpdateRequest,
) *Indexer {
	return &Indexer{
		cfg:       cfg,
		tokenizer: tokenizer,
		tokens:    tokens,
		events:    events,
		updates:   updates,
	}
}

// Run blocks until the event stream closes or the context is cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < ix.cfg.Index.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ix.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (ix *Indexer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ix.events:
			if !ok {
				return
			}
			ix.process(ctx, ev)
		}
	}
}

// process turns one file-sync event into at most one index update. Any I/O
// failure drops the event: the file vanished or is unreadable, and a
// follow-up notification will reconcile the index.
func (ix *Indexer) process(ctx context.Context, ev types.FileSyncEvent) {
	defer func() {
		if r := recover(); r != nil {
			debug.Tracef("indexer: dropping event for %s after panic: %v", ev.Addr, r)
		}
	}()

	switch ev.Type {
	case types.EventDelete:
		ix.send(ctx, types.RemoveFile{Time: ev.Time, Addr: ev.Addr})
		return
	case types.EventCreate, types.EventModify:
	default:
		return
	}

	path := string(ev.Addr)
	info, err := os.Stat(path)
	if err != nil {
		debug.Tracef("indexer: skipping %s: %v", path, err)
		return
	}
	if info.Size() > ix.cfg.Index.MaxFileSize {
		debug.Tracef("indexer: skipping oversized %s (%d bytes)", path, info.Size())
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		debug.Tracef("indexer: skipping %s: %v", path, err)
		return
	}

	ix.send(ctx, types.UpdateFileContent{
		Time:        ev.Time,
		Addr:        ev.Addr,
		Tokens:      ix.tokenize(content),
		ContentHash: xxhash.Sum64(content),
	})
}

// tokenize builds the deduplicated, interned token set of a file.
func (ix *Indexer) tokenize(content []byte) types.TokenSet {
	set := make(types.TokenSet)
	for _, line := range bytes.Split(content, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		for _, tok := range ix.tokenizer.TokenizeLine(string(line)) {
			set[types.Token(ix.tokens.Intern(tok))] = struct{}{}
		}
	}
	return set
}

// send hands an update to the actor. The update queue is rendezvous so slow
// indexing throttles the readers instead of piling results up in memory.
func (ix *Indexer) send(ctx context.Context, up types.IndexUpdateRequest) {
	select {
	case ix.updates <- up:
	case <-ctx.Done():
	}
}
