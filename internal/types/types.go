package types

import (
	"sync/atomic"
	"time"
)

// FileAddress is the canonical absolute path of a file. Addresses are
// interned by the sync stage so that two events referring to the same file
// share one backing string; equality is a cheap pointer-length compare for
// interned values.
type FileAddress string

// Token is a lowercased fragment of file content: a run of alphanumerics in
// word mode, or a 3-character window in trigram mode. Tokens are interned by
// the indexer workers.
type Token string

// TokenSet is a deduplicated set of tokens extracted from one file.
type TokenSet map[Token]struct{}

// EventSource says whether a sync event came from the initial walk or from a
// live filesystem notification.
type EventSource uint8

const (
	SourceInitialSync EventSource = iota
	SourceWatcher
)

func (s EventSource) String() string {
	switch s {
	case SourceInitialSync:
		return "initial-sync"
	case SourceWatcher:
		return "watcher"
	}
	return "unknown"
}

// EventType is the normalized kind of a file change.
type EventType uint8

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

// FileSyncEvent is one serialized file change emitted by the sync stage.
// Time comes from the logical clock at send time: within a single
// FileAddress, a larger Time always means a newer state of the file.
type FileSyncEvent struct {
	Time   uint64
	Addr   FileAddress
	Source EventSource
	Type   EventType
}

// StatusKind enumerates progress notifications flowing into the index actor.
type StatusKind uint8

const (
	// StatusWatcherStarted is emitted once the filesystem subscription is
	// active, before the initial walk begins.
	StatusWatcherStarted StatusKind = iota

	// StatusAllFilesDiscovered is emitted after the initial walk finished
	// enumerating every regular file.
	StatusAllFilesDiscovered

	// StatusFileUpdated is emitted once per file-sync event, before the
	// event itself is handed to the indexer pool.
	StatusFileUpdated

	// StatusWatcherDiscoveredFileDuringInit is emitted for each live
	// notification that arrives while the initial walk is still running
	// and could become a file event (not excluded, and a regular file or
	// already gone); notifications for directories and other entries are
	// buffered without it.
	StatusWatcherDiscoveredFileDuringInit
)

// StatusUpdate is a progress notification. Timestamps are assigned by the
// index actor on receipt.
type StatusUpdate struct {
	Kind StatusKind
}

// IndexUpdateRequest is a mutation produced by an indexer worker for the
// index actor: either new content for a file or its removal.
type IndexUpdateRequest interface {
	UpdateTime() uint64
	Address() FileAddress
}

// UpdateFileContent replaces the indexed token set of one file.
// ContentHash is the xxhash of the raw file bytes; the actor uses it to skip
// rebuilding an identical token set.
type UpdateFileContent struct {
	Time        uint64
	Addr        FileAddress
	Tokens      TokenSet
	ContentHash uint64
}

func (u UpdateFileContent) UpdateTime() uint64   { return u.Time }
func (u UpdateFileContent) Address() FileAddress { return u.Addr }

// RemoveFile drops one file from the index.
type RemoveFile struct {
	Time uint64
	Addr FileAddress
}

func (r RemoveFile) UpdateTime() uint64   { return r.Time }
func (r RemoveFile) Address() FileAddress { return r.Addr }

// Probe is the consumer-liveness flag attached to a find request. The query
// producer inside the index actor polls it between emitted candidates and
// between filter stages; the consumer marks it when it stops listening.
type Probe struct {
	cancelled atomic.Bool
}

func (p *Probe) Cancel()     { p.cancelled.Store(true) }
func (p *Probe) Alive() bool { return !p.cancelled.Load() }

// UserRequest is a query sent to the index actor. Lost is invoked instead of
// a reply when the request is discarded, e.g. because the generation's
// request queue closed during a supervisor restart.
type UserRequest interface {
	Lost()
}

// StatusRequest asks for a snapshot of the index counters.
type StatusRequest struct {
	Reply  chan StatusResult
	OnLoss func()
}

func (r StatusRequest) Lost() {
	if r.OnLoss != nil {
		r.OnLoss()
	}
}

// FindRequest asks for the stream of candidate files for a query. The actor
// sends candidates on Out (rendezvous: it suspends until the consumer pulls)
// and closes Out when the stream ends or Probe is cancelled.
type FindRequest struct {
	Query  string
	Out    chan FileAddress
	Probe  *Probe
	OnLoss func()
}

func (r FindRequest) Lost() {
	if r.OnLoss != nil {
		r.OnLoss()
	}
	close(r.Out)
}

// StatusResult is the counter snapshot returned for a status request.
// Duration fields are nil until the corresponding mark has been stamped.
type StatusResult struct {
	IndexedFiles         int
	KnownTokens          int
	WatcherStartTime     *time.Duration
	InitialSyncTime      *time.Duration
	HandledModifications uint64
	TotalModifications   uint64
	IsBroken             bool
}

// BrokenStatus is the fixed status reported between supervisor generations.
func BrokenStatus() StatusResult {
	return StatusResult{IsBroken: true}
}

// IndexStateKind enumerates the lifecycle notifications published by the
// supervisor's status stream.
type IndexStateKind uint8

const (
	// StateInitial is synthetic, replayed to subscribers before any
	// generation has started.
	StateInitial IndexStateKind = iota
	StateInitializing
	StateWatcherStarted
	StateAllFilesDiscovered
	StateInitialFileSyncCompleted
	StateIndexFailed
	StateRestarting
	StateTerminated
)

func (k IndexStateKind) String() string {
	switch k {
	case StateInitial:
		return "initial"
	case StateInitializing:
		return "initializing"
	case StateWatcherStarted:
		return "watcher-started"
	case StateAllFilesDiscovered:
		return "all-files-discovered"
	case StateInitialFileSyncCompleted:
		return "initial-file-sync-completed"
	case StateIndexFailed:
		return "index-failed"
	case StateRestarting:
		return "restarting"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// IndexStateUpdate is one entry of the supervisor status stream.
type IndexStateUpdate struct {
	Kind       IndexStateKind
	At         time.Time
	Generation string // generation id, empty for Initial/Restarting/Terminated
	Reason     error  // set for IndexFailed and Terminated
}

// SearchResult is one verified match: a file, a 1-based line number, and the
// matched line text.
type SearchResult struct {
	Path   FileAddress
	LineNo int
	Line   string
}
