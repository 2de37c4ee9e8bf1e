package inode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xoriors/cryptfs/internal/contentenc"
	"github.com/xoriors/cryptfs/internal/crypto"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	key := make([]byte, 32)
	aead, err := crypto.New(crypto.ChaCha20Poly1305, key)
	require.NoError(t, err)
	reg, err := NewRegistry(t.TempDir(), aead, contentenc.MinBlockSize)
	require.NoError(t, err)
	return reg
}

func TestCreateGetRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	now := time.Now().Truncate(time.Second)
	attr := Attr{Kind: KindFile, Size: 42, Mode: 0644, Uid: 1000, Gid: 1000, Nlink: 1, Mtime: now, Ctime: now, Atime: now, Crtime: now}

	require.NoError(t, reg.Create(10, attr))
	got, err := reg.Get(10)
	require.NoError(t, err)
	assert.Equal(t, attr, got)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Create(5, Attr{Kind: KindDir}))
	err := reg.Create(5, Attr{Kind: KindDir})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetMissingIsNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Get(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveThenGetIsNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Create(7, Attr{Kind: KindFile}))
	require.NoError(t, reg.Remove(7))
	_, err := reg.Get(7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAllocatorRecoversFromExistingFiles(t *testing.T) {
	dir := t.TempDir()
	key := make([]byte, 32)
	aead, err := crypto.New(crypto.AES256GCM, key)
	require.NoError(t, err)

	reg, err := NewRegistry(dir, aead, contentenc.MinBlockSize)
	require.NoError(t, err)
	require.NoError(t, reg.Create(reg.Allocate(), Attr{Kind: KindFile}))
	id2 := reg.Allocate()
	require.NoError(t, reg.Create(id2, Attr{Kind: KindFile}))

	reg2, err := NewRegistry(dir, aead, contentenc.MinBlockSize)
	require.NoError(t, err)
	assert.Greater(t, reg2.Allocate(), id2)
}

func TestLookupCountDestroyAtZero(t *testing.T) {
	reg := newTestRegistry(t)
	reg.IncLookup(3)
	reg.IncLookup(3)
	assert.False(t, reg.DecLookup(3, 1))
	assert.True(t, reg.DecLookup(3, 1))
}

func TestLookupCountUnderflowPanics(t *testing.T) {
	reg := newTestRegistry(t)
	reg.IncLookup(1)
	assert.Panics(t, func() { reg.DecLookup(1, 5) })
}

func TestAttrPatchAppliesOnlyNonNilFields(t *testing.T) {
	attr := Attr{Size: 10, Mode: 0600}
	newSize := int64(20)
	attr.Apply(Patch{Size: &newSize})
	assert.Equal(t, int64(20), attr.Size)
	assert.Equal(t, uint32(0600), attr.Mode)
}
