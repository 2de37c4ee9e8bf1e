package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoriors/cryptfs/internal/inode"
)

func newTestFS(t *testing.T) (*FileSystem, string) {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.BlockSize = 4096
	fsys, err := Initialize(dir, "correct horse battery staple", opts)
	require.NoError(t, err)
	t.Cleanup(func() { fsys.Close() })
	return fsys, dir
}

func TestInitializeThenOpenIsSingleton(t *testing.T) {
	fsys, dir := newTestFS(t)
	again, err := Open(dir, "correct horse battery staple", DefaultOptions())
	require.NoError(t, err)
	assert.Same(t, fsys, again)
}

func TestRootExistsAndIsDirectory(t *testing.T) {
	fsys, _ := newTestFS(t)
	attr, err := fsys.GetAttr(inode.RootID)
	require.NoError(t, err)
	assert.Equal(t, inode.KindDir, attr.Kind)
}

func TestCreateWriteFlushReadRoundTrip(t *testing.T) {
	fsys, _ := newTestFS(t)

	_, hID, attr, err := fsys.Create(inode.RootID, "hello.txt", inode.KindFile, 0600, true, true)
	require.NoError(t, err)
	assert.Equal(t, inode.KindFile, attr.Kind)

	n, err := fsys.Write(hID, 0, []byte("hello, world"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.NoError(t, fsys.Flush(hID))

	buf := make([]byte, 12)
	n, err = fsys.Read(hID, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(buf[:n]))

	require.NoError(t, fsys.Release(hID))
}

func TestLookupFindsCreatedChild(t *testing.T) {
	fsys, _ := newTestFS(t)
	_, _, _, err := fsys.Create(inode.RootID, "a.txt", inode.KindFile, 0600, false, false)
	require.NoError(t, err)

	_, attr, err := fsys.Lookup(inode.RootID, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, inode.KindFile, attr.Kind)

	_, _, err = fsys.Lookup(inode.RootID, "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	fsys, _ := newTestFS(t)
	_, _, _, err := fsys.Create(inode.RootID, "dup.txt", inode.KindFile, 0600, false, false)
	require.NoError(t, err)
	_, _, _, err = fsys.Create(inode.RootID, "dup.txt", inode.KindFile, 0600, false, false)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRemoveFileThenLookupIsNotFound(t *testing.T) {
	fsys, _ := newTestFS(t)
	_, _, _, err := fsys.Create(inode.RootID, "gone.txt", inode.KindFile, 0600, false, false)
	require.NoError(t, err)

	require.NoError(t, fsys.RemoveFile(inode.RootID, "gone.txt"))
	_, _, err = fsys.Lookup(inode.RootID, "gone.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveDirRejectsNonEmpty(t *testing.T) {
	fsys, _ := newTestFS(t)
	subIno, _, _, err := fsys.Create(inode.RootID, "sub", inode.KindDir, 0700, false, false)
	require.NoError(t, err)

	_, _, _, err = fsys.Create(subIno, "child.txt", inode.KindFile, 0600, false, false)
	require.NoError(t, err)

	err = fsys.RemoveDir(inode.RootID, "sub")
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestRootCannotBeRemovedOrRenamed(t *testing.T) {
	fsys, _ := newTestFS(t)
	err := fsys.RemoveDir(inode.RootID, ".")
	assert.Error(t, err)

	_, _, _, err = fsys.Create(inode.RootID, "child", inode.KindDir, 0700, false, false)
	require.NoError(t, err)
	err = fsys.Rename(inode.RootID, ".", inode.RootID, "elsewhere")
	assert.Error(t, err)
}

func TestRenameMovesEntryAndRejectsExistingDestination(t *testing.T) {
	fsys, _ := newTestFS(t)
	_, _, _, err := fsys.Create(inode.RootID, "src.txt", inode.KindFile, 0600, false, false)
	require.NoError(t, err)
	_, _, _, err = fsys.Create(inode.RootID, "dst.txt", inode.KindFile, 0600, false, false)
	require.NoError(t, err)

	err = fsys.Rename(inode.RootID, "src.txt", inode.RootID, "dst.txt")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, fsys.Rename(inode.RootID, "src.txt", inode.RootID, "renamed.txt"))
	_, _, err = fsys.Lookup(inode.RootID, "src.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = fsys.Lookup(inode.RootID, "renamed.txt")
	require.NoError(t, err)
}

func TestSetLenGrowsAndShrinksReflectInAttr(t *testing.T) {
	fsys, _ := newTestFS(t)
	childIno, hID, _, err := fsys.Create(inode.RootID, "sized.txt", inode.KindFile, 0600, true, true)
	require.NoError(t, err)

	_, err = fsys.Write(hID, 0, []byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, fsys.Flush(hID))
	require.NoError(t, fsys.Release(hID))

	require.NoError(t, fsys.SetLen(childIno, 4))
	attr, err := fsys.GetAttr(childIno)
	require.NoError(t, err)
	assert.EqualValues(t, 4, attr.Size)

	require.NoError(t, fsys.SetLen(childIno, 10))
	attr, err = fsys.GetAttr(childIno)
	require.NoError(t, err)
	assert.EqualValues(t, 10, attr.Size)
}

func TestCopyFileRangeRoundTripsThroughPlaintext(t *testing.T) {
	fsys, _ := newTestFS(t)
	srcIno, srcH, _, err := fsys.Create(inode.RootID, "src.bin", inode.KindFile, 0600, false, true)
	require.NoError(t, err)
	_, err = fsys.Write(srcH, 0, []byte("abcdefghij"))
	require.NoError(t, err)
	require.NoError(t, fsys.Release(srcH))

	dstIno, _, _, err := fsys.Create(inode.RootID, "dst.bin", inode.KindFile, 0600, false, false)
	require.NoError(t, err)

	n, err := fsys.CopyFileRange(srcIno, 2, dstIno, 0, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	readH, err := fsys.Open(dstIno, true, false)
	require.NoError(t, err)
	buf := make([]byte, 5)
	nr, err := fsys.Read(readH, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "cdefg", string(buf[:nr]))
	require.NoError(t, fsys.Release(readH))
}

func TestReadDirListsCreatedChildren(t *testing.T) {
	fsys, _ := newTestFS(t)
	_, _, _, err := fsys.Create(inode.RootID, "one.txt", inode.KindFile, 0600, false, false)
	require.NoError(t, err)
	_, _, _, err = fsys.Create(inode.RootID, "two.txt", inode.KindFile, 0600, false, false)
	require.NoError(t, err)

	entries, err := fsys.ReadDir(inode.RootID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	dir := t.TempDir()
	fsys, err := Initialize(dir, "pw", DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, fsys.Close())

	roOpts := DefaultOptions()
	roOpts.ReadOnly = true
	ro, err := Open(dir, "pw", roOpts)
	require.NoError(t, err)
	defer ro.Close()

	_, _, _, err = ro.Create(inode.RootID, "x.txt", inode.KindFile, 0600, false, false)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestOpenWithWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	fsys, err := Initialize(dir, "right", DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, fsys.Close())

	_, err = Open(dir, "wrong", DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestPasswdChangesPassword(t *testing.T) {
	dir := t.TempDir()
	fsys, err := Initialize(dir, "old-pw", DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, fsys.Close())

	opts := DefaultOptions()
	require.NoError(t, Passwd(dir, "old-pw", "new-pw", opts.Cipher, opts.KDF))

	_, err = Open(dir, "old-pw", DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidPassword)

	reopened, err := Open(dir, "new-pw", DefaultOptions())
	require.NoError(t, err)
	reopened.Close()
}

func TestOpenRejectsMissingDataDirStructure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "security"), 0700))
	_, err := Open(dir, "pw", DefaultOptions())
	assert.Error(t, err)
}
