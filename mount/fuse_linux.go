//go:build linux

package mount

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/xoriors/cryptfs/fs"
	"github.com/xoriors/cryptfs/internal/dirindex"
	"github.com/xoriors/cryptfs/internal/inode"
)

// Mount attaches fsys under mountPoint using the kernel's FUSE driver and
// blocks until it is unmounted or the process is asked to stop.
func Mount(ctx context.Context, fsys *fs.FileSystem, mountPoint string, opts Options) error {
	a := newAdapter(fsys)
	server := fuseutil.NewFileSystemServer(a)

	cfg := &fuse.MountConfig{
		FSName:      opts.FSName,
		VolumeName:  opts.VolumeName,
		ErrorLogger: log.New(os.Stderr, "fuse: ", log.LstdFlags),
	}

	mfs, err := fuse.Mount(mountPoint, server, cfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- mfs.Join(ctx) }()

	select {
	case <-ctx.Done():
		if uerr := fuse.Unmount(mountPoint); uerr != nil {
			return fmt.Errorf("unmount: %w", uerr)
		}
		return <-done
	case err := <-done:
		return err
	}
}

// adapter bridges fuseutil.FileSystem's op-based dispatch to fs.FileSystem's
// ordinary Go method calls. It embeds fuseutil.NotImplementedFileSystem so
// operations this filesystem doesn't support — symlinks, hard links,
// extended attributes — get a stock ENOSYS without needing their own stub
// here.
type adapter struct {
	fuseutil.NotImplementedFileSystem

	fsys *fs.FileSystem

	mu         sync.Mutex
	dirHandles map[fuseops.HandleID]*fs.DirHandle
	nextHandle fuseops.HandleID
}

func newAdapter(fsys *fs.FileSystem) *adapter {
	return &adapter{
		fsys:       fsys,
		dirHandles: make(map[fuseops.HandleID]*fs.DirHandle),
	}
}

func (a *adapter) Init(op *fuseops.InitOp) error {
	return nil
}

func (a *adapter) LookUpInode(op *fuseops.LookUpInodeOp) error {
	child, attr, err := a.fsys.Lookup(inode.ID(op.Parent), op.Name)
	if err != nil {
		return translateErrno(err)
	}
	op.Entry.Child = fuseops.InodeID(child)
	op.Entry.Attributes = toFuseAttr(attr)
	a.fsys.IncLookup(child)
	return nil
}

func (a *adapter) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	attr, err := a.fsys.GetAttr(inode.ID(op.Inode))
	if err != nil {
		return translateErrno(err)
	}
	op.Attributes = toFuseAttr(attr)
	return nil
}

func (a *adapter) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	var patch inode.Patch
	if op.Size != nil {
		size := int64(*op.Size)
		patch.Size = &size
	}
	if op.Mode != nil {
		mode := uint32(op.Mode.Perm())
		patch.Mode = &mode
	}
	if op.Atime != nil {
		patch.Atime = op.Atime
	}
	if op.Mtime != nil {
		patch.Mtime = op.Mtime
	}

	attr, err := a.fsys.SetAttr(inode.ID(op.Inode), patch)
	if err != nil {
		return translateErrno(err)
	}
	op.Attributes = toFuseAttr(attr)
	return nil
}

func (a *adapter) ForgetInode(op *fuseops.ForgetInodeOp) error {
	a.fsys.DecLookup(inode.ID(op.ID), uint64(op.N))
	return nil
}

func (a *adapter) MkDir(op *fuseops.MkDirOp) error {
	child, _, attr, err := a.fsys.Create(inode.ID(op.Parent), op.Name, inode.KindDir, uint32(op.Mode.Perm()), false, false)
	if err != nil {
		return translateErrno(err)
	}
	op.Entry.Child = fuseops.InodeID(child)
	op.Entry.Attributes = toFuseAttr(attr)
	a.fsys.IncLookup(child)
	return nil
}

func (a *adapter) CreateFile(op *fuseops.CreateFileOp) error {
	child, hID, attr, err := a.fsys.Create(inode.ID(op.Parent), op.Name, inode.KindFile, uint32(op.Mode.Perm()), true, true)
	if err != nil {
		return translateErrno(err)
	}
	op.Entry.Child = fuseops.InodeID(child)
	op.Entry.Attributes = toFuseAttr(attr)
	op.Handle = fuseops.HandleID(hID)
	a.fsys.IncLookup(child)
	return nil
}

func (a *adapter) RmDir(op *fuseops.RmDirOp) error {
	if err := a.fsys.RemoveDir(inode.ID(op.Parent), op.Name); err != nil {
		return translateErrno(err)
	}
	return nil
}

func (a *adapter) Unlink(op *fuseops.UnlinkOp) error {
	if err := a.fsys.RemoveFile(inode.ID(op.Parent), op.Name); err != nil {
		return translateErrno(err)
	}
	return nil
}

func (a *adapter) OpenDir(op *fuseops.OpenDirOp) error {
	dh, err := a.fsys.OpenDir(inode.ID(op.Inode))
	if err != nil {
		return translateErrno(err)
	}

	a.mu.Lock()
	a.nextHandle++
	id := a.nextHandle
	a.dirHandles[id] = dh
	a.mu.Unlock()

	op.Handle = id
	return nil
}

func (a *adapter) ReadDir(op *fuseops.ReadDirOp) error {
	a.mu.Lock()
	dh, ok := a.dirHandles[op.Handle]
	a.mu.Unlock()
	if !ok {
		return syscall.EINVAL
	}

	total := dh.Len()
	buf := make([]byte, op.Size)
	var n int
	for i := int(op.Offset); i < total; i++ {
		entryBuf := make([]dirindex.Entry, 1)
		if dh.ReadAt(i, entryBuf) == 0 {
			break
		}
		written := writeDirent(buf[n:], direntFor(entryBuf[0], i+1))
		if written == 0 {
			break
		}
		n += written
	}
	op.Data = buf[:n]
	return nil
}

func (a *adapter) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	a.mu.Lock()
	dh, ok := a.dirHandles[op.Handle]
	delete(a.dirHandles, op.Handle)
	a.mu.Unlock()
	if ok {
		dh.Release()
	}
	return nil
}

func (a *adapter) OpenFile(op *fuseops.OpenFileOp) error {
	hID, err := a.fsys.Open(inode.ID(op.Inode), true, true)
	if err != nil {
		return translateErrno(err)
	}
	op.Handle = fuseops.HandleID(hID)
	return nil
}

func (a *adapter) ReadFile(op *fuseops.ReadFileOp) error {
	buf := make([]byte, op.Size)
	n, err := a.fsys.Read(fs.HandleID(op.Handle), op.Offset, buf)
	if err != nil {
		return translateErrno(err)
	}
	op.Data = buf[:n]
	return nil
}

func (a *adapter) WriteFile(op *fuseops.WriteFileOp) error {
	_, err := a.fsys.Write(fs.HandleID(op.Handle), op.Offset, op.Data)
	if err != nil {
		return translateErrno(err)
	}
	return nil
}

func (a *adapter) SyncFile(op *fuseops.SyncFileOp) error {
	if err := a.fsys.Flush(fs.HandleID(op.Handle)); err != nil {
		return translateErrno(err)
	}
	return nil
}

func (a *adapter) FlushFile(op *fuseops.FlushFileOp) error {
	if err := a.fsys.Flush(fs.HandleID(op.Handle)); err != nil {
		return translateErrno(err)
	}
	return nil
}

func (a *adapter) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	if err := a.fsys.Release(fs.HandleID(op.Handle)); err != nil {
		return translateErrno(err)
	}
	return nil
}

func toFuseAttr(a inode.Attr) fuseops.InodeAttributes {
	nlink := a.Nlink
	if nlink == 0 {
		nlink = 1
	}
	mode := os.FileMode(a.Mode)
	if a.Kind == inode.KindDir {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:  uint64(a.Size),
		Nlink: uint64(nlink),
		Mode:  mode,
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
		Crtime: a.Crtime,
		Uid:   a.Uid,
		Gid:   a.Gid,
	}
}

// translateErrno maps the fs package's sentinel error taxonomy onto
// syscall.Errno values, which every fuse/bazilfuse version understands
// directly without needing a package-specific named-constant lookup.
func translateErrno(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, fs.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, fs.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, fs.ErrWrongKind), errors.Is(err, fs.ErrCrossKind):
		return syscall.ENOTDIR
	case errors.Is(err, fs.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, fs.ErrInvalidInput), errors.Is(err, fs.ErrBadHandle):
		return syscall.EINVAL
	case errors.Is(err, fs.ErrCrypto), errors.Is(err, fs.ErrIO):
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

// direntType/direntSize/writeDirent encode one directory entry in the wire
// layout the kernel's FUSE driver expects in ReadDirOp.Data: struct
// fuse_dirent{ino, off, namelen, type}, 8-byte aligned, name immediately
// after. Written locally rather than via fuseutil's dirent helpers because
// that package's Dirent/AppendDirent naming has drifted across the versions
// seen in development, while the kernel wire layout itself is stable.
const (
	direntTypeFile = 8 // DT_REG
	direntTypeDir  = 4 // DT_DIR
	direntHeaderSize = 8 + 8 + 4 + 4
	direntAlignment  = 8
)

type direntEntry struct {
	ino    uint64
	offset uint64
	name   string
	typ    uint32
}

func direntFor(e dirindex.Entry, offset int) direntEntry {
	typ := uint32(direntTypeFile)
	if e.ChildKind == inode.KindDir {
		typ = direntTypeDir
	}
	return direntEntry{ino: uint64(e.ChildIno), offset: uint64(offset), name: e.Name, typ: typ}
}

func writeDirent(buf []byte, d direntEntry) int {
	type fuseDirent struct {
		ino     uint64
		off     uint64
		namelen uint32
		typ     uint32
	}

	padLen := 0
	if len(d.name)%direntAlignment != 0 {
		padLen = direntAlignment - (len(d.name) % direntAlignment)
	}
	total := direntHeaderSize + len(d.name) + padLen
	if total > len(buf) {
		return 0
	}

	hdr := fuseDirent{ino: d.ino, off: d.offset, namelen: uint32(len(d.name)), typ: d.typ}
	n := copy(buf, (*[direntHeaderSize]byte)(unsafe.Pointer(&hdr))[:])
	n += copy(buf[n:], d.name)
	if padLen > 0 {
		var pad [direntAlignment]byte
		n += copy(buf[n:], pad[:padLen])
	}
	return n
}
