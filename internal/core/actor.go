package core

import (
	"context"
	"time"

	"github.com/standardbeagle/lsi/internal/debug"
	"github.com/standardbeagle/lsi/internal/types"
)

// Actor owns the index maps and counters for one supervisor generation. A
// single goroutine multiplexes the three inputs, so every mutation and query
// sees a consistent state without locks. Mutations never suspend; find
// requests may, while handing candidates to a slow consumer, which is bounded
// by the request's liveness probe.
type Actor struct {
	mode  Mode
	state *indexState

	statusIn   <-chan types.StatusUpdate
	updatesIn  <-chan types.IndexUpdateRequest
	requestsIn <-chan types.UserRequest

	// publish receives derived lifecycle transitions (watcher started,
	// all files discovered, initial sync completed). Nil disables it.
	publish func(types.IndexStateUpdate)
}

func NewActor(
	mode Mode,
	statusIn <-chan types.StatusUpdate,
	updatesIn <-chan types.IndexUpdateRequest,
	requestsIn <-chan types.UserRequest,
	publish func(types.IndexStateUpdate),
) *Actor {
	return &Actor{
		mode:       mode,
		state:      newIndexState(NewTokenizer(mode), time.Now()),
		statusIn:   statusIn,
		updatesIn:  updatesIn,
		requestsIn: requestsIn,
		publish:    publish,
	}
}

// Run processes messages until the context is cancelled. Per-request errors
// never escape the loop; cancellation is the only way out.
func (a *Actor) Run(ctx context.Context) error {
	debug.Tracef("index: actor started (mode=%s)", a.mode)

	statusIn, updatesIn, requestsIn := a.statusIn, a.updatesIn, a.requestsIn
	for {
		// Drain pending statuses first. The sync stage announces every
		// event on the status queue before sending the event itself, so
		// taking statuses eagerly keeps the handled count from ever
		// overtaking the modification total.
		if statusIn != nil {
			select {
			case su, ok := <-statusIn:
				if !ok {
					statusIn = nil
				} else {
					a.handleStatus(su)
				}
				continue
			default:
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case su, ok := <-statusIn:
			if !ok {
				statusIn = nil
				continue
			}
			a.handleStatus(su)

		case up, ok := <-updatesIn:
			if !ok {
				updatesIn = nil
				continue
			}
			a.handleUpdate(up)

		case rq, ok := <-requestsIn:
			if !ok {
				requestsIn = nil
				continue
			}
			a.handleRequest(ctx, rq)
		}
	}
}

func (a *Actor) handleStatus(su types.StatusUpdate) {
	now := time.Now()
	completed := !a.state.syncCompletedAt.IsZero()

	a.state.applyStatus(su, now)

	switch su.Kind {
	case types.StatusWatcherStarted:
		a.republish(types.StateWatcherStarted, now)
	case types.StatusAllFilesDiscovered:
		a.republish(types.StateAllFilesDiscovered, now)
	}
	if !completed && !a.state.syncCompletedAt.IsZero() {
		a.republish(types.StateInitialFileSyncCompleted, a.state.syncCompletedAt)
	}
}

func (a *Actor) handleUpdate(up types.IndexUpdateRequest) {
	now := time.Now()
	completed := !a.state.syncCompletedAt.IsZero()

	switch u := up.(type) {
	case types.UpdateFileContent:
		a.state.applyUpdate(u, now)
	case types.RemoveFile:
		a.state.applyRemove(u, now)
	default:
		debug.Tracef("index: ignoring unknown update %T", up)
	}

	if !completed && !a.state.syncCompletedAt.IsZero() {
		a.republish(types.StateInitialFileSyncCompleted, a.state.syncCompletedAt)
	}
}

func (a *Actor) handleRequest(ctx context.Context, rq types.UserRequest) {
	switch r := rq.(type) {
	case types.StatusRequest:
		select {
		case r.Reply <- a.state.snapshot(false):
		case <-ctx.Done():
			r.Lost()
		}
	case types.FindRequest:
		a.state.runFind(ctx, a.mode, r)
	default:
		rq.Lost()
	}
}

func (a *Actor) republish(kind types.IndexStateKind, at time.Time) {
	if a.publish == nil {
		return
	}
	a.publish(types.IndexStateUpdate{Kind: kind, At: at})
}
