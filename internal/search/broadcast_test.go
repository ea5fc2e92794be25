package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/lsi/internal/types"
)

func TestBroadcastReplaysLatest(t *testing.T) {
	b := NewBroadcaster()

	ch, cancel := b.Subscribe()
	defer cancel()
	first := <-ch
	assert.Equal(t, types.StateInitial, first.Kind, "fresh stream starts with the synthetic initial update")

	b.Publish(types.IndexStateUpdate{Kind: types.StateInitializing})

	late, lateCancel := b.Subscribe()
	defer lateCancel()
	replay := <-late
	assert.Equal(t, types.StateInitializing, replay.Kind, "late subscriber sees the latest update")
}

func TestBroadcastDropsOldest(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Never read; flood past the buffer. The newest updates win.
	for i := 0; i < 10; i++ {
		b.Publish(types.IndexStateUpdate{Kind: types.StateRestarting, Generation: string(rune('a' + i))})
	}
	b.Publish(types.IndexStateUpdate{Kind: types.StateTerminated})

	var last types.IndexStateUpdate
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case u := <-ch:
			last = u
		case <-timeout:
			break drain
		default:
			break drain
		}
	}
	assert.Equal(t, types.StateTerminated, last.Kind)
}

func TestBroadcastClose(t *testing.T) {
	b := NewBroadcaster()
	ch, _ := b.Subscribe()
	<-ch // initial replay

	b.Close()
	_, ok := <-ch
	require.False(t, ok, "close must complete subscriber streams")

	// Subscribing after close yields the last value then completes.
	late, _ := b.Subscribe()
	u, ok := <-late
	assert.True(t, ok)
	assert.Equal(t, types.StateInitial, u.Kind)
	_, ok = <-late
	assert.False(t, ok)
}

func TestBroadcastCancelIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe()
	cancel()
	cancel()
	b.Publish(types.IndexStateUpdate{Kind: types.StateRestarting}) // must not panic
}
