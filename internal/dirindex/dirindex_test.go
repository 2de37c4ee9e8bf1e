package dirindex

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoriors/cryptfs/internal/crypto"
	"github.com/xoriors/cryptfs/internal/inode"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	aead, err := crypto.New(crypto.ChaCha20Poly1305, key)
	require.NoError(t, err)
	masterKey := make([]byte, 32)
	_, err = rand.Read(masterKey)
	require.NoError(t, err)
	ix, err := New(t.TempDir(), aead, 4096, masterKey)
	require.NoError(t, err)
	return ix
}

func TestInsertThenLookup(t *testing.T) {
	ix := newTestIndex(t)
	entry := Entry{Name: "hello", ChildIno: 2, ChildKind: inode.KindFile}

	require.NoError(t, ix.Insert(inode.RootID, entry))

	got, err := ix.Lookup(inode.RootID, "hello")
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestLookupMissingIsNotFound(t *testing.T) {
	ix := newTestIndex(t)
	_, err := ix.Lookup(inode.RootID, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertDuplicateIsAlreadyExists(t *testing.T) {
	ix := newTestIndex(t)
	entry := Entry{Name: "dup", ChildIno: 2, ChildKind: inode.KindFile}
	require.NoError(t, ix.Insert(inode.RootID, entry))

	err := ix.Insert(inode.RootID, entry)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestInsertRejectsSeparatorInName(t *testing.T) {
	ix := newTestIndex(t)
	err := ix.Insert(inode.RootID, Entry{Name: "a/b", ChildIno: 2, ChildKind: inode.KindFile})
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRemove(t *testing.T) {
	ix := newTestIndex(t)
	entry := Entry{Name: "gone", ChildIno: 2, ChildKind: inode.KindFile}
	require.NoError(t, ix.Insert(inode.RootID, entry))

	require.NoError(t, ix.Remove(inode.RootID, "gone"))

	_, err := ix.Lookup(inode.RootID, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRename(t *testing.T) {
	ix := newTestIndex(t)
	entry := Entry{Name: "old", ChildIno: 2, ChildKind: inode.KindFile}
	require.NoError(t, ix.Insert(inode.RootID, entry))

	renamed := Entry{Name: "new", ChildIno: 2, ChildKind: inode.KindFile}
	require.NoError(t, ix.Rename(inode.RootID, "old", inode.RootID, renamed))

	_, err := ix.Lookup(inode.RootID, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := ix.Lookup(inode.RootID, "new")
	require.NoError(t, err)
	assert.Equal(t, renamed, got)
}

func TestReadDirEnumeratesAllChildren(t *testing.T) {
	ix := newTestIndex(t)
	names := []string{"a", "b", "c"}
	for i, n := range names {
		require.NoError(t, ix.Insert(inode.RootID, Entry{Name: n, ChildIno: inode.ID(i + 2), ChildKind: inode.KindFile}))
	}

	entries, err := ix.ReadDir(inode.RootID)
	require.NoError(t, err)
	require.Len(t, entries, len(names))

	got := make(map[string]inode.ID)
	for _, e := range entries {
		got[e.Name] = e.ChildIno
	}
	for i, n := range names {
		assert.Equal(t, inode.ID(i+2), got[n])
	}
}

func TestReadDirOnUnknownParentIsEmpty(t *testing.T) {
	ix := newTestIndex(t)
	entries, err := ix.ReadDir(inode.ID(999))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIsEmpty(t *testing.T) {
	ix := newTestIndex(t)
	empty, err := ix.IsEmpty(inode.RootID)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, ix.Insert(inode.RootID, Entry{Name: "f", ChildIno: 2, ChildKind: inode.KindFile}))

	empty, err = ix.IsEmpty(inode.RootID)
	require.NoError(t, err)
	assert.False(t, empty)
}
