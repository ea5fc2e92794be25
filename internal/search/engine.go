package search

import (
	"bufio"
	"context"
	"os"

	"github.com/standardbeagle/lsi/internal/core"
	"github.com/standardbeagle/lsi/internal/debug"
	"github.com/standardbeagle/lsi/internal/types"
)

// Warning texts surfaced around a find, never inside its result stream.
const (
	WarnIncomplete = "results may be incomplete"
	WarnChanged    = "directory changed during search"
)

// maxLineBytes bounds the verification scanner; indexed files are capped
// well below this, so no indexable line can exceed it.
const maxLineBytes = 16 * 1024 * 1024

// Engine is the query front-end. It obtains candidate files from the index
// actor of the current generation, then verifies each candidate by
// re-reading it and applying the mode's match predicate, so index-level
// false positives never reach the caller.
type Engine struct {
	sup       *Supervisor
	tokenizer core.Tokenizer
}

func NewEngine(sup *Supervisor) *Engine {
	return &Engine{
		sup:       sup,
		tokenizer: core.NewTokenizer(core.Mode(sup.cfg.Index.Mode)),
	}
}

// FindWarnings are the staleness warnings attached to one find call.
type FindWarnings struct {
	Before string // set when the index was incomplete before streaming
	After  string // set when the index changed while streaming
}

// IndexStatus snapshots the index counters. Between generations it reports
// the fixed broken status: all counters zero, IsBroken set.
func (e *Engine) IndexStatus(ctx context.Context) types.StatusResult {
	gen := e.sup.current()
	if gen == nil {
		return types.BrokenStatus()
	}

	req := types.StatusRequest{Reply: make(chan types.StatusResult, 1)}
	select {
	case gen.requests <- req:
	case <-gen.done:
		return types.BrokenStatus()
	case <-ctx.Done():
		return types.BrokenStatus()
	}

	select {
	case res := <-req.Reply:
		return res
	case <-gen.done:
		return types.BrokenStatus()
	case <-ctx.Done():
		return types.BrokenStatus()
	}
}

// Find streams verified matches to fn until the candidates are exhausted,
// fn returns false, or ctx is cancelled. Between generations it yields
// nothing.
func (e *Engine) Find(ctx context.Context, query string, fn func(types.SearchResult) bool) (FindWarnings, error) {
	var warns FindWarnings

	before := e.IndexStatus(ctx)
	incomplete := before.InitialSyncTime == nil ||
		before.HandledModifications != before.TotalModifications ||
		before.IsBroken
	if incomplete {
		warns.Before = WarnIncomplete
	}

	gen := e.sup.current()
	if gen == nil {
		return warns, nil
	}

	req := types.FindRequest{
		Query: query,
		Out:   make(chan types.FileAddress),
		Probe: &types.Probe{},
	}

	select {
	case gen.requests <- req:
	case <-gen.done:
		// Message loss on a dead generation: the stream is closed
		// unused, which is the cancellation report to the consumer.
		req.Lost()
		return warns, nil
	case <-ctx.Done():
		return warns, ctx.Err()
	}

	err := e.consume(ctx, query, req, fn)

	if !incomplete {
		after := e.IndexStatus(ctx)
		if after.IsBroken ||
			after.HandledModifications != before.HandledModifications ||
			after.TotalModifications != before.TotalModifications {
			warns.After = WarnChanged
		}
	}
	return warns, err
}

// consume drains the candidate stream, verifying each file on disk. On an
// early stop it cancels the probe and keeps draining so the actor's producer
// is released promptly.
func (e *Engine) consume(ctx context.Context, query string, req types.FindRequest, fn func(types.SearchResult) bool) error {
	defer func() {
		req.Probe.Cancel()
		for range req.Out {
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case addr, ok := <-req.Out:
			if !ok {
				return nil
			}
			more, err := e.verify(ctx, addr, query, fn)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
	}
}

// verify re-reads one candidate and emits every matching line. A candidate
// that cannot be read any more simply produces no results; the index will
// catch up through the watcher.
func (e *Engine) verify(ctx context.Context, addr types.FileAddress, query string, fn func(types.SearchResult) bool) (bool, error) {
	f, err := os.Open(string(addr))
	if err != nil {
		debug.Tracef("search: skipping candidate %s: %v", addr, err)
		return true, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		line := scanner.Text()
		if !e.tokenizer.Matches(line, query) {
			continue
		}
		if !fn(types.SearchResult{Path: addr, LineNo: lineNo, Line: line}) {
			return false, nil
		}
	}
	if err := scanner.Err(); err != nil {
		debug.Tracef("search: reading candidate %s: %v", addr, err)
	}
	return true, nil
}
