package staging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siltdata/silt/pkg/hash"
	"github.com/siltdata/silt/pkg/merkle"
)

func openTestArea(t *testing.T) *Area {
	t.Helper()
	a, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestStageAndGet(t *testing.T) {
	a := openTestArea(t)
	e := Entry{Path: "a.txt", Status: merkle.Added, Hash: hash.Sum([]byte("a")), NumBytes: 1}
	require.NoError(t, a.Stage(e))
	got, ok := a.Get("a.txt")
	require.True(t, ok, "expected a.txt to be staged")
	require.Equal(t, e.Hash, got.Hash)
	require.Equal(t, e.NumBytes, got.NumBytes)
	require.Equal(t, e.Status, got.Status)
}

func TestListReturnsSortedByPath(t *testing.T) {
	a := openTestArea(t)
	for _, p := range []string{"z.txt", "a.txt", "m/b.txt"} {
		require.NoError(t, a.Stage(Entry{Path: p, Status: merkle.Added}))
	}
	list := a.List()
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		require.Less(t, list[i-1].Path, list[i].Path, "expected sorted order, got %v", list)
	}
}

func TestRemoveRecordsTombstone(t *testing.T) {
	a := openTestArea(t)
	require.NoError(t, a.Remove("gone.txt"))
	got, ok := a.Get("gone.txt")
	require.True(t, ok)
	require.Equal(t, merkle.Removed, got.Status)
}

func TestRestoreClearsEntry(t *testing.T) {
	a := openTestArea(t)
	require.NoError(t, a.Stage(Entry{Path: "a.txt", Status: merkle.Added}))
	require.NoError(t, a.Restore("a.txt"))
	_, ok := a.Get("a.txt")
	require.False(t, ok, "expected a.txt to no longer be staged")
}

func TestClearRemovesAllEntries(t *testing.T) {
	a := openTestArea(t)
	for _, p := range []string{"a.txt", "b.txt"} {
		require.NoError(t, a.Stage(Entry{Path: p, Status: merkle.Added}))
	}
	require.NoError(t, a.Clear())
	require.Empty(t, a.List())
}

func TestAreaSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, a.Stage(Entry{Path: "a.txt", Status: merkle.Modified, Hash: hash.Sum([]byte("x")), NumBytes: 3}))
	require.NoError(t, a.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Get("a.txt")
	require.True(t, ok, "expected staged entry to survive reopen")
	require.Equal(t, merkle.Modified, got.Status)
	require.EqualValues(t, 3, got.NumBytes)
}
