package search

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/lsi/internal/types"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
}

func findAll(t *testing.T, e *Engine, query string) ([]types.SearchResult, FindWarnings) {
	t.Helper()
	var results []types.SearchResult
	warns, err := e.Find(context.Background(), query, func(r types.SearchResult) bool {
		results = append(results, r)
		return true
	})
	require.NoError(t, err)
	sort.Slice(results, func(i, j int) bool {
		if results[i].Path != results[j].Path {
			return results[i].Path < results[j].Path
		}
		return results[i].LineNo < results[j].LineNo
	})
	return results, warns
}

func TestFindWordSingleToken(t *testing.T) {
	cfg := testConfig(t, "word")
	writeFiles(t, cfg.Project.Root, map[string]string{"a.txt": "hello world\n"})

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	results, warns := findAll(t, h.engine, "hello")
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(cfg.Project.Root, "a.txt"), string(results[0].Path))
	assert.Equal(t, 1, results[0].LineNo)
	assert.Equal(t, "hello world", results[0].Line)
	assert.Empty(t, warns.Before)
	assert.Empty(t, warns.After)

	results, _ = findAll(t, h.engine, "xyz")
	assert.Empty(t, results)
}

func TestFindWordTwoTokens(t *testing.T) {
	cfg := testConfig(t, "word")
	writeFiles(t, cfg.Project.Root, map[string]string{
		"a.txt": "foo bar\n",
		"b.txt": "food bark\n",
	})

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	results, _ := findAll(t, h.engine, "foo bar")
	require.Len(t, results, 2)
	assert.Equal(t, filepath.Join(cfg.Project.Root, "a.txt"), string(results[0].Path))
	assert.Equal(t, filepath.Join(cfg.Project.Root, "b.txt"), string(results[1].Path))
}

func TestFindTrigramShortQuery(t *testing.T) {
	cfg := testConfig(t, "trigram")
	writeFiles(t, cfg.Project.Root, map[string]string{"a.txt": "abcdef\n"})

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	results, _ := findAll(t, h.engine, "cd")
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].LineNo)

	results, _ = findAll(t, h.engine, "xy")
	assert.Empty(t, results)
}

func TestFindTrigramIntersection(t *testing.T) {
	cfg := testConfig(t, "trigram")
	writeFiles(t, cfg.Project.Root, map[string]string{
		"a.txt": "the quick brown fox\n",
		"b.txt": "the slow cat\n",
	})

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	results, _ := findAll(t, h.engine, "quick")
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(cfg.Project.Root, "a.txt"), string(results[0].Path))
}

func TestFindFollowsFileChanges(t *testing.T) {
	cfg := testConfig(t, "word")
	path := filepath.Join(cfg.Project.Root, "a.txt")
	writeFiles(t, cfg.Project.Root, map[string]string{"a.txt": "before\n"})

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	require.NoError(t, os.WriteFile(path, []byte("after\n"), 0o644))
	require.Eventually(t, func() bool {
		results, _ := findAll(t, h.engine, "after")
		return len(results) == 1
	}, 10*time.Second, 50*time.Millisecond, "modification never became searchable")

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		results, _ := findAll(t, h.engine, "after")
		return len(results) == 0
	}, 10*time.Second, 50*time.Millisecond, "deletion never left the index")
}

func TestFindStopsWhenConsumerDeclines(t *testing.T) {
	cfg := testConfig(t, "word")
	writeFiles(t, cfg.Project.Root, map[string]string{
		"a.txt": "needle\n",
		"b.txt": "needle\n",
		"c.txt": "needle\n",
	})

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	var results []types.SearchResult
	_, err := h.engine.Find(context.Background(), "needle", func(r types.SearchResult) bool {
		results = append(results, r)
		return false // one is enough
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFindCancelledContext(t *testing.T) {
	cfg := testConfig(t, "word")
	writeFiles(t, cfg.Project.Root, map[string]string{"a.txt": "token\n"})

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.Find(ctx, "token", func(types.SearchResult) bool { return true })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatusBeforeSupervisorStarts(t *testing.T) {
	sup := NewSupervisor(testConfig(t, "word"), Options{})
	engine := NewEngine(sup)

	st := engine.IndexStatus(context.Background())
	assert.True(t, st.IsBroken)

	var results []types.SearchResult
	warns, err := engine.Find(context.Background(), "anything", func(r types.SearchResult) bool {
		results = append(results, r)
		return true
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, WarnIncomplete, warns.Before)
}

func TestVerificationFiltersFalsePositives(t *testing.T) {
	// Trigram candidates can contain reordered-character false positives;
	// the on-disk verification must reject them.
	cfg := testConfig(t, "trigram")
	writeFiles(t, cfg.Project.Root, map[string]string{
		"real.txt": "abcabc\n",
		// Holds every trigram of "abcab" (abc, bca, cab) without
		// containing the string itself, so candidate filtering alone
		// would admit it.
		"decoy.txt": "bcabc\n",
	})

	h := startSupervisor(t, cfg)
	h.awaitSynced(t)

	results, _ := findAll(t, h.engine, "abcab")
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(cfg.Project.Root, "real.txt"), string(results[0].Path))
}
