package core

import (
	"time"

	"github.com/standardbeagle/lsi/internal/debug"
	"github.com/standardbeagle/lsi/internal/types"
)

// indexState is the single-owner state of the index actor: the forward and
// reverse maps, per-file update times, and the sync progress counters. Only
// the actor goroutine touches it, so no locking is needed.
//
// Map invariant: fa ∈ reverse[t] exactly when t ∈ forward[fa]. Every
// mutation below restores it before returning.
type indexState struct {
	tokenizer Tokenizer

	forward         map[types.FileAddress]types.TokenSet
	reverse         map[types.Token]map[types.FileAddress]struct{}
	fileUpdateTimes map[types.FileAddress]uint64
	fileHashes      map[types.FileAddress]uint64

	startTime            time.Time
	watcherStartedAt     time.Time
	allFilesDiscoveredAt time.Time
	syncCompletedAt      time.Time

	totalModifications   uint64
	handledModifications uint64
	discoveredDuringInit uint64
}

func newIndexState(tokenizer Tokenizer, now time.Time) *indexState {
	return &indexState{
		tokenizer:       tokenizer,
		forward:         make(map[types.FileAddress]types.TokenSet),
		reverse:         make(map[types.Token]map[types.FileAddress]struct{}),
		fileUpdateTimes: make(map[types.FileAddress]uint64),
		fileHashes:      make(map[types.FileAddress]uint64),
		startTime:       now,
	}
}

// checkUpdateTime implements the out-of-order guard: indexer workers run in
// parallel and may deliver results for the same file in any order, so a
// result stamped at or before the last applied time for that file is stale
// and must be dropped. This replaces any cross-worker lock.
func (s *indexState) checkUpdateTime(addr types.FileAddress, t uint64) bool {
	if last, ok := s.fileUpdateTimes[addr]; ok && t <= last {
		debug.Tracef("index: discarding stale update for %s (t=%d, last=%d)", addr, t, last)
		return false
	}
	s.fileUpdateTimes[addr] = t
	return true
}

// applyUpdate replaces the token set of one file. A stale request still
// counts as handled so the progress counters converge.
func (s *indexState) applyUpdate(u types.UpdateFileContent, now time.Time) {
	defer s.noteHandled(now)

	if !s.checkUpdateTime(u.Addr, u.Time) {
		return
	}

	// Identical raw content means an identical token set; skip the
	// posting churn. Hashes are forgotten on removal, so a re-created
	// file always reindexes.
	if prev, ok := s.fileHashes[u.Addr]; ok && prev == u.ContentHash {
		return
	}
	s.fileHashes[u.Addr] = u.ContentHash

	for tok := range s.forward[u.Addr] {
		s.dropPosting(tok, u.Addr)
	}
	s.forward[u.Addr] = u.Tokens
	for tok := range u.Tokens {
		bucket, ok := s.reverse[tok]
		if !ok {
			bucket = make(map[types.FileAddress]struct{})
			s.reverse[tok] = bucket
		}
		bucket[u.Addr] = struct{}{}
	}
}

// applyRemove drops one file from both maps. The update-time entry is kept:
// it is what lets a late content update for the removed file be recognized
// as stale.
func (s *indexState) applyRemove(r types.RemoveFile, now time.Time) {
	defer s.noteHandled(now)

	if !s.checkUpdateTime(r.Addr, r.Time) {
		return
	}

	for tok := range s.forward[r.Addr] {
		s.dropPosting(tok, r.Addr)
	}
	delete(s.forward, r.Addr)
	delete(s.fileHashes, r.Addr)
}

// dropPosting removes one (token, file) pair and prunes the bucket when it
// empties, so dead tokens do not accumulate.
func (s *indexState) dropPosting(tok types.Token, addr types.FileAddress) {
	bucket, ok := s.reverse[tok]
	if !ok {
		return
	}
	delete(bucket, addr)
	if len(bucket) == 0 {
		delete(s.reverse, tok)
	}
}

// applyStatus mutates the counters for one progress notification.
func (s *indexState) applyStatus(u types.StatusUpdate, now time.Time) {
	switch u.Kind {
	case types.StatusWatcherStarted:
		s.watcherStartedAt = now
	case types.StatusAllFilesDiscovered:
		s.allFilesDiscoveredAt = now
		s.maybeCompleteSync(now)
	case types.StatusFileUpdated:
		s.totalModifications++
	case types.StatusWatcherDiscoveredFileDuringInit:
		s.discoveredDuringInit++
	}
}

func (s *indexState) noteHandled(now time.Time) {
	s.handledModifications++
	s.maybeCompleteSync(now)
}

// maybeCompleteSync stamps the initial-sync mark. Requiring the discovery
// mark first prevents a premature "sync done" when the counters coincide
// while the walk is still running.
func (s *indexState) maybeCompleteSync(now time.Time) {
	if s.allFilesDiscoveredAt.IsZero() || !s.syncCompletedAt.IsZero() {
		return
	}
	if s.handledModifications == s.reportedTotal() {
		s.syncCompletedAt = now
	}
}

// reportedTotal is the modification total exposed to observers. Until the
// walk completes, live notifications may have been seen by the watcher but
// not yet counted as FileUpdated statuses, so the pre-init discovery counter
// leads when it is larger.
func (s *indexState) reportedTotal() uint64 {
	if s.allFilesDiscoveredAt.IsZero() && s.discoveredDuringInit > s.totalModifications {
		return s.discoveredDuringInit
	}
	return s.totalModifications
}

// snapshot builds the status reply from the current counters.
func (s *indexState) snapshot(broken bool) types.StatusResult {
	res := types.StatusResult{
		IndexedFiles:         len(s.forward),
		KnownTokens:          len(s.reverse),
		HandledModifications: s.handledModifications,
		TotalModifications:   s.reportedTotal(),
		IsBroken:             broken,
	}
	if !s.watcherStartedAt.IsZero() {
		d := s.watcherStartedAt.Sub(s.startTime)
		res.WatcherStartTime = &d
	}
	if !s.syncCompletedAt.IsZero() {
		d := s.syncCompletedAt.Sub(s.startTime)
		res.InitialSyncTime = &d
	}
	return res
}
