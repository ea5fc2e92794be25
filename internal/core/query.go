package core

import (
	"context"
	"strings"

	"github.com/standardbeagle/lsi/internal/debug"
	"github.com/standardbeagle/lsi/internal/types"
)

// candidateStream drives one find request. Candidates are approximate by
// design: trigram intersection and the word-mode prefix/suffix heuristics
// both admit false positives, which the search engine filters out by
// re-reading the file. The stream must never miss a true match.
//
// Emission is cooperative. The candidate channel is rendezvous, so the actor
// suspends on each send until the consumer pulls; the request's probe is
// polled between items and between filter stages so a cancelled consumer
// releases the actor promptly.
type candidateStream struct {
	ctx   context.Context
	out   chan types.FileAddress
	probe *types.Probe
	seen  map[types.FileAddress]struct{}
}

func (s *indexState) runFind(ctx context.Context, mode Mode, req types.FindRequest) {
	cs := &candidateStream{
		ctx:   ctx,
		out:   req.Out,
		probe: req.Probe,
		seen:  make(map[types.FileAddress]struct{}),
	}
	defer close(req.Out)

	debug.Tracef("index: find %q (mode=%s)", req.Query, mode)
	switch mode {
	case ModeWord:
		s.findWord(cs, req.Query)
	case ModeTrigram:
		s.findTrigram(cs, req.Query)
	}
}

// emit sends one deduplicated candidate. It returns false once the consumer
// has cancelled or the generation is shutting down; callers stop immediately.
func (cs *candidateStream) emit(addr types.FileAddress) bool {
	if _, dup := cs.seen[addr]; dup {
		return cs.alive()
	}
	cs.seen[addr] = struct{}{}

	if !cs.alive() {
		return false
	}
	select {
	case cs.out <- addr:
		return true
	case <-cs.ctx.Done():
		return false
	}
}

func (cs *candidateStream) alive() bool {
	if !cs.probe.Alive() {
		return false
	}
	select {
	case <-cs.ctx.Done():
		return false
	default:
		return true
	}
}

// findWord implements the word-mode candidate algorithm. The n=2 clauses
// are deliberately asymmetric: the start token relaxes to a prefix or suffix
// of an indexed token, the end token only ever to a prefix. Keep them as
// written.
func (s *indexState) findWord(cs *candidateStream, query string) {
	tokens := s.tokenizer.TokenizeLine(query)

	switch len(tokens) {
	case 0:
		for addr := range s.forward {
			if !cs.emit(addr) {
				return
			}
		}

	case 1:
		q := types.Token(tokens[0])
		for addr := range s.reverse[q] {
			if !cs.emit(addr) {
				return
			}
		}
		for tok, bucket := range s.reverse {
			if !cs.alive() {
				return
			}
			if !strings.Contains(string(tok), string(q)) {
				continue
			}
			for addr := range bucket {
				if !cs.emit(addr) {
					return
				}
			}
		}

	case 2:
		start, end := types.Token(tokens[0]), types.Token(tokens[1])

		// Exact start token, end token present exactly or as a prefix.
		for addr := range s.reverse[start] {
			if !cs.alive() {
				return
			}
			if s.fileHasPrefix(addr, end) && !cs.emit(addr) {
				return
			}
		}
		// Exact end token, start token present exactly or as a suffix.
		for addr := range s.reverse[end] {
			if !cs.alive() {
				return
			}
			if s.fileHasSuffix(addr, start) && !cs.emit(addr) {
				return
			}
		}
		// Relaxed start (prefix or suffix of a token) plus prefixed
		// end. The end token never relaxes to a suffix; that
		// asymmetry is intentional.
		for tok, bucket := range s.reverse {
			if !cs.alive() {
				return
			}
			if !strings.HasPrefix(string(tok), string(start)) &&
				!strings.HasSuffix(string(tok), string(start)) {
				continue
			}
			for addr := range bucket {
				if !cs.alive() {
					return
				}
				if s.fileHasPrefix(addr, end) && !cs.emit(addr) {
					return
				}
			}
		}

	default:
		start := types.Token(tokens[0])
		end := types.Token(tokens[len(tokens)-1])
		middle := tokens[1 : len(tokens)-1]

		seed := s.smallestBucket(middle)
		for addr := range seed {
			if !cs.alive() {
				return
			}
			if !s.fileHasAll(addr, middle) {
				continue
			}
			if !s.fileHasSuffix(addr, start) || !s.fileHasPrefix(addr, end) {
				continue
			}
			if !cs.emit(addr) {
				return
			}
		}
	}
}

// smallestBucket picks the rarest middle token's file set as the filter seed.
func (s *indexState) smallestBucket(middle []string) map[types.FileAddress]struct{} {
	var seed map[types.FileAddress]struct{}
	first := true
	for _, c := range middle {
		bucket := s.reverse[types.Token(c)]
		if first || len(bucket) < len(seed) {
			seed = bucket
			first = false
		}
	}
	return seed
}

// fileHasAll reports whether every token in want is in the file's token set.
func (s *indexState) fileHasAll(addr types.FileAddress, want []string) bool {
	set := s.forward[addr]
	for _, w := range want {
		if _, ok := set[types.Token(w)]; !ok {
			return false
		}
	}
	return true
}

// fileHasPrefix reports whether the file holds tok exactly or any token
// starting with tok.
func (s *indexState) fileHasPrefix(addr types.FileAddress, tok types.Token) bool {
	for t := range s.forward[addr] {
		if strings.HasPrefix(string(t), string(tok)) {
			return true
		}
	}
	return false
}

// fileHasSuffix reports whether the file holds tok exactly or any token
// ending with tok.
func (s *indexState) fileHasSuffix(addr types.FileAddress, tok types.Token) bool {
	for t := range s.forward[addr] {
		if strings.HasSuffix(string(t), string(tok)) {
			return true
		}
	}
	return false
}

// findTrigram implements the trigram-mode candidate algorithm.
func (s *indexState) findTrigram(cs *candidateStream, query string) {
	runes := []rune(strings.ToLower(query))

	switch {
	case len(runes) == 0:
		for addr := range s.forward {
			if !cs.emit(addr) {
				return
			}
		}

	case len(runes) < 3:
		// Too short for a full trigram: any indexed trigram containing
		// the query as a substring may hide a match.
		q := string(runes)
		for tok, bucket := range s.reverse {
			if !cs.alive() {
				return
			}
			if !strings.Contains(string(tok), q) {
				continue
			}
			for addr := range bucket {
				if !cs.emit(addr) {
					return
				}
			}
		}

	default:
		result := s.intersectTrigrams(cs, Trigrams(query, false))
		for addr := range result {
			if !cs.emit(addr) {
				return
			}
		}
	}
}

// intersectTrigrams intersects the reverse buckets of every query trigram in
// order, short-circuiting on an empty intermediate. Returns nil when the
// stream died mid-filter.
func (s *indexState) intersectTrigrams(cs *candidateStream, trigrams []string) map[types.FileAddress]struct{} {
	var result map[types.FileAddress]struct{}
	for i, tri := range trigrams {
		if !cs.alive() {
			return nil
		}
		bucket := s.reverse[types.Token(tri)]
		if len(bucket) == 0 {
			return nil
		}
		if i == 0 {
			result = make(map[types.FileAddress]struct{}, len(bucket))
			for addr := range bucket {
				result[addr] = struct{}{}
			}
			continue
		}
		for addr := range result {
			if _, ok := bucket[addr]; !ok {
				delete(result, addr)
			}
		}
		if len(result) == 0 {
			return nil
		}
	}
	return result
}
