package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/lsi/internal/config"
	"github.com/standardbeagle/lsi/internal/types"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Project.Root = t.TempDir()
	cfg.Index.Mode = mode
	require.NoError(t, cfg.Validate())
	return cfg
}

type supHarness struct {
	sup    *Supervisor
	engine *Engine
	cancel context.CancelFunc
	done   chan error
}

func startSupervisor(t *testing.T, cfg *config.Config) *supHarness {
	t.Helper()

	h := &supHarness{
		sup:  NewSupervisor(cfg, Options{RestartDelay: 500 * time.Millisecond}),
		done: make(chan error, 1),
	}
	h.engine = NewEngine(h.sup)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.sup.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(10 * time.Second):
			t.Error("supervisor did not stop")
		}
	})
	return h
}

// awaitSynced polls until the current generation reports a completed
// initial sync.
func (h *supHarness) awaitSynced(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.engine.IndexStatus(context.Background())
		return !st.IsBroken && st.InitialSyncTime != nil
	}, 10*time.Second, 20*time.Millisecond, "initial sync never completed")
}

func awaitState(t *testing.T, ch <-chan types.IndexStateUpdate, want types.IndexStateKind) types.IndexStateUpdate {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "status stream completed while waiting for %v", want)
			if u.Kind == want {
				return u
			}
		case <-deadline:
			t.Fatalf("state %v never arrived", want)
			return types.IndexStateUpdate{}
		}
	}
}

func TestSupervisorRunsAGeneration(t *testing.T) {
	cfg := testConfig(t, "word")
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Project.Root, "a.txt"), []byte("hello"), 0o644))

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	st := h.engine.IndexStatus(context.Background())
	assert.Equal(t, 1, st.IndexedFiles)
	assert.False(t, st.IsBroken)
}

func TestSupervisorRestartsOnFailure(t *testing.T) {
	cfg := testConfig(t, "word")
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Project.Root, "a.txt"), []byte("hello"), 0o644))

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	stream, cancelSub := h.sup.StatusStream()
	defer cancelSub()

	boom := errors.New("synthetic watcher overflow")
	h.sup.ForceFailure(boom)

	failed := awaitState(t, stream, types.StateIndexFailed)
	assert.ErrorIs(t, failed.Reason, boom)
	awaitState(t, stream, types.StateRestarting)

	// Between generations: queries are answered with the fixed broken
	// status and finds come back empty.
	st := h.engine.IndexStatus(context.Background())
	assert.True(t, st.IsBroken)
	assert.Zero(t, st.IndexedFiles)

	var results []types.SearchResult
	warns, err := h.engine.Find(context.Background(), "hello", func(r types.SearchResult) bool {
		results = append(results, r)
		return true
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, WarnIncomplete, warns.Before)

	// A fresh generation comes up and recovers the index.
	awaitState(t, stream, types.StateInitializing)
	h.awaitSynced(t)
	st = h.engine.IndexStatus(context.Background())
	assert.Equal(t, 1, st.IndexedFiles)
}

func TestSupervisorTerminatesOnCancel(t *testing.T) {
	cfg := testConfig(t, "word")
	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	stream, cancelSub := h.sup.StatusStream()
	defer cancelSub()

	h.cancel()
	awaitState(t, stream, types.StateTerminated)

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit")
	}
}

func TestStatusStreamStartsInitial(t *testing.T) {
	sup := NewSupervisor(testConfig(t, "word"), Options{})
	stream, cancelSub := sup.StatusStream()
	defer cancelSub()

	u := <-stream
	assert.Equal(t, types.StateInitial, u.Kind)
}
