package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/xoriors/cryptfs/internal/clock"
	"github.com/xoriors/cryptfs/internal/contentenc"
	"github.com/xoriors/cryptfs/internal/crypto"
	"github.com/xoriors/cryptfs/internal/dirindex"
	"github.com/xoriors/cryptfs/internal/handle"
	"github.com/xoriors/cryptfs/internal/inode"
	"github.com/xoriors/cryptfs/internal/keystore"
	"github.com/xoriors/cryptfs/internal/logger"
)

// HandleID is the 64-bit token the open/read/write/flush/release
// operations are parameterized by. It is minted fresh by Create and Open.
type HandleID uint64

// openFile is what a HandleID resolves to: zero, one or both of a read and a
// write capability over the same inode. Read and write are not forced into
// separate tokens: a single open handle may acquire both.
type openFile struct {
	ino inode.ID
	rh  *handle.ReadHandle
	wh  *handle.WriteHandle
}

// FileSystem is one running instance of the encrypted filesystem: the
// lifecycle object every operation hangs off of. The struct shape mirrors a
// fileSystem that brokers between an in-memory inode/handle table and an
// on-disk store, with FUSE-specific forget/lookup-count handling reduced to
// the IncLookup/DecLookup pass-throughs a host binding calls (no
// unlink-while-open retention — see RemoveFile).
//
// Lock order: fs.mu is held only to look
// things up or mutate bookkeeping maps, and is always released before
// blocking on a per-inode lock or doing host I/O.
type FileSystem struct {
	dataDir string
	opts    Options

	aead  crypto.AEAD
	codec *contentenc.Codec

	registry *inode.Registry
	attrs    *inode.AttrCache
	dirs     *dirindex.Index
	bodies   *handle.Store

	// writeSem bounds concurrent write handles so a burst of writers can't
	// exhaust host file descriptors.
	writeSem *semaphore.Weighted

	clk clock.Clock

	mu           sync.Mutex
	nextHandleID HandleID
	open         map[HandleID]*openFile

	masterKey []byte
	closed    bool
}

var (
	instancesMu sync.Mutex
	instances   = map[string]*FileSystem{}
)

// canonicalDataDir resolves dataDir the way the process-wide instance cache
// keys on it: a second Initialize or Open against the same directory,
// however it's spelled, must return the already-running instance.
func canonicalDataDir(dataDir string) (string, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return "", fmt.Errorf("fs: resolving data directory %q: %w", dataDir, err)
	}
	return filepath.Clean(abs), nil
}

// Initialize brings up a new instance over an empty or absent data
// directory, deriving fresh key material from password. If an instance is
// already running over the same canonical path, that instance is returned
// unchanged rather than re-initialized.
func Initialize(dataDir, password string, opts Options) (*FileSystem, error) {
	canon, err := canonicalDataDir(dataDir)
	if err != nil {
		return nil, err
	}

	instancesMu.Lock()
	defer instancesMu.Unlock()
	if fsys, ok := instances[canon]; ok {
		return fsys, nil
	}

	fsys, err := newInstance(canon, password, opts, true)
	if err != nil {
		return nil, err
	}
	instances[canon] = fsys
	return fsys, nil
}

// Open brings up an instance over a previously-initialized data directory,
// unwrapping the master key with password. Same singleton behavior as
// Initialize.
func Open(dataDir, password string, opts Options) (*FileSystem, error) {
	canon, err := canonicalDataDir(dataDir)
	if err != nil {
		return nil, err
	}

	instancesMu.Lock()
	defer instancesMu.Unlock()
	if fsys, ok := instances[canon]; ok {
		return fsys, nil
	}

	fsys, err := newInstance(canon, password, opts, false)
	if err != nil {
		return nil, err
	}
	instances[canon] = fsys
	return fsys, nil
}

func newInstance(canon, password string, opts Options, fresh bool) (*FileSystem, error) {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = contentenc.MinBlockSize
	}
	if opts.MaxWriteHandles <= 0 {
		opts.MaxWriteHandles = 16
	}

	if fresh {
		if err := os.MkdirAll(canon, 0700); err != nil {
			return nil, fmt.Errorf("fs: creating data directory: %w", err)
		}
	}

	ks := keystore.New(canon, opts.Cipher, opts.KDF)
	var masterKey []byte
	var err error
	if fresh {
		masterKey, err = ks.Initialize(password)
	} else {
		masterKey, err = ks.Unlock(password)
	}
	if err != nil {
		return nil, translateKeystoreErr(err)
	}
	logger.Infof("fs: unlocked data directory %s (instance %s)", canon, ks.InstanceID())

	aead, err := crypto.New(opts.Cipher, masterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	codec, err := contentenc.New(aead, opts.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	registry, err := inode.NewRegistry(canon, aead, opts.BlockSize)
	if err != nil {
		return nil, err
	}
	dirs, err := dirindex.New(canon, aead, opts.BlockSize, masterKey)
	if err != nil {
		return nil, err
	}
	bodies := handle.NewStore(canon, codec)

	now := opts.Clock.Now()
	if fresh {
		rootAttr := inode.Attr{
			Kind:   inode.KindDir,
			Mode:   opts.DirMode,
			Uid:    opts.Uid,
			Gid:    opts.Gid,
			Nlink:  2,
			Atime:  now,
			Mtime:  now,
			Ctime:  now,
			Crtime: now,
		}
		if err := registry.Create(inode.RootID, rootAttr); err != nil {
			return nil, fmt.Errorf("fs: creating root inode: %w", err)
		}
		if err := dirs.EnsureDir(inode.RootID); err != nil {
			return nil, err
		}
	} else {
		rootAttr, err := registry.Get(inode.RootID)
		if err != nil {
			return nil, fmt.Errorf("%w: root inode missing: %v", ErrInvalidDataDir, err)
		}
		if rootAttr.Kind != inode.KindDir {
			return nil, fmt.Errorf("%w: root is not a directory", ErrInvalidDataDir)
		}
	}

	attrs := inode.NewAttrCache(registry, opts.Clock, opts.AttrCacheTTL, opts.WriteBackDelay)

	logger.Infof("fs: instance ready at %s (fresh=%v, cipher=%v)", canon, fresh, opts.Cipher)

	return &FileSystem{
		dataDir:   canon,
		opts:      opts,
		aead:      aead,
		codec:     codec,
		registry:  registry,
		attrs:     attrs,
		dirs:      dirs,
		bodies:    bodies,
		writeSem:  semaphore.NewWeighted(int64(opts.MaxWriteHandles)),
		clk:       opts.Clock,
		open:      make(map[HandleID]*openFile),
		masterKey: masterKey,
	}, nil
}

// Close tears the instance down: flushes every open
// write handle and the attribute cache's write-back queue, releases host
// descriptors, zeroizes the in-memory master key, and drops the instance
// from the process-wide singleton cache so a later Open/Initialize against
// the same path starts fresh.
func (f *FileSystem) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	handles := make([]*openFile, 0, len(f.open))
	for _, of := range f.open {
		handles = append(handles, of)
	}
	f.open = make(map[HandleID]*openFile)
	f.mu.Unlock()

	var firstErr error
	for _, of := range handles {
		if of.wh != nil {
			if err := of.wh.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			f.writeSem.Release(1)
		}
		if of.rh != nil {
			if err := of.rh.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := f.attrs.FlushAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	f.attrs.Stop()

	for i := range f.masterKey {
		f.masterKey[i] = 0
	}

	instancesMu.Lock()
	if instances[f.dataDir] == f {
		delete(instances, f.dataDir)
	}
	instancesMu.Unlock()

	return firstErr
}

func (f *FileSystem) checkNotClosed() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("%w: instance closed", ErrBadHandle)
	}
	return nil
}

// --- Lifecycle-adjacent lookups ---------------------------------------

// Lookup resolves name under parent, returning the child's
// inode number together with its current attributes.
func (f *FileSystem) Lookup(parent inode.ID, name string) (inode.ID, inode.Attr, error) {
	if err := f.checkNotClosed(); err != nil {
		return 0, inode.Attr{}, err
	}
	parentAttr, err := f.attrs.Get(parent)
	if err != nil {
		return 0, inode.Attr{}, translateInodeErr(err)
	}
	if parentAttr.Kind != inode.KindDir {
		return 0, inode.Attr{}, fmt.Errorf("%w: inode %d is not a directory", ErrWrongKind, parent)
	}

	entry, err := f.dirs.Lookup(parent, name)
	if err != nil {
		return 0, inode.Attr{}, translateDirindexErr(err)
	}
	attr, err := f.attrs.Get(entry.ChildIno)
	if err != nil {
		return 0, inode.Attr{}, translateInodeErr(err)
	}
	return entry.ChildIno, attr, nil
}

// GetAttr returns ino's current attributes.
func (f *FileSystem) GetAttr(ino inode.ID) (inode.Attr, error) {
	if err := f.checkNotClosed(); err != nil {
		return inode.Attr{}, err
	}
	attr, err := f.attrs.Get(ino)
	if err != nil {
		return inode.Attr{}, translateInodeErr(err)
	}
	return attr, nil
}

// SetAttr applies patch to ino's attributes.
func (f *FileSystem) SetAttr(ino inode.ID, patch inode.Patch) (inode.Attr, error) {
	if err := f.checkNotClosed(); err != nil {
		return inode.Attr{}, err
	}
	if f.opts.ReadOnly {
		return inode.Attr{}, ErrReadOnly
	}

	lock := f.registry.Lock(ino)
	lock.Lock()
	defer lock.Unlock()

	attr, err := f.attrs.Get(ino)
	if err != nil {
		return inode.Attr{}, translateInodeErr(err)
	}
	attr.Apply(patch)
	attr.Ctime = f.clk.Now()
	f.attrs.Set(ino, attr)
	if err := f.attrs.Flush(ino); err != nil {
		return inode.Attr{}, err
	}
	return attr, nil
}

// --- Namespace mutation -------------------------------------------------

func defaultNlink(kind inode.Kind) uint32 {
	if kind == inode.KindDir {
		return 2
	}
	return 1
}

// Create makes a brand-new child of parent and, if wantRead or wantWrite is
// set, opens it in the same call. Returns the child's inode
// number, its open handle (zero if neither capability was requested or the
// child is a directory), and its attributes.
func (f *FileSystem) Create(parent inode.ID, name string, kind inode.Kind, mode uint32, wantRead, wantWrite bool) (inode.ID, HandleID, inode.Attr, error) {
	if err := f.checkNotClosed(); err != nil {
		return 0, 0, inode.Attr{}, err
	}
	if f.opts.ReadOnly {
		return 0, 0, inode.Attr{}, ErrReadOnly
	}

	lock := f.registry.Lock(parent)
	lock.Lock()
	defer lock.Unlock()

	parentAttr, err := f.attrs.Get(parent)
	if err != nil {
		return 0, 0, inode.Attr{}, translateInodeErr(err)
	}
	if parentAttr.Kind != inode.KindDir {
		return 0, 0, inode.Attr{}, fmt.Errorf("%w: inode %d is not a directory", ErrWrongKind, parent)
	}

	child := f.registry.Allocate()
	now := f.clk.Now()
	childAttr := inode.Attr{
		Kind:   kind,
		Mode:   mode,
		Uid:    f.opts.Uid,
		Gid:    f.opts.Gid,
		Nlink:  defaultNlink(kind),
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
	}

	if err := f.registry.Create(child, childAttr); err != nil {
		return 0, 0, inode.Attr{}, err
	}

	if kind == inode.KindFile {
		if err := f.bodies.CreateBody(child); err != nil {
			f.registry.Remove(child)
			return 0, 0, inode.Attr{}, err
		}
	} else {
		if err := f.dirs.EnsureDir(child); err != nil {
			f.registry.Remove(child)
			return 0, 0, inode.Attr{}, err
		}
	}

	entry := dirindex.Entry{Name: name, ChildIno: child, ChildKind: kind}
	if err := f.dirs.Insert(parent, entry); err != nil {
		if kind == inode.KindFile {
			f.bodies.RemoveBody(child)
		} else {
			f.dirs.RemoveDir(child)
		}
		f.registry.Remove(child)
		return 0, 0, inode.Attr{}, translateDirindexErr(err)
	}

	if kind == inode.KindDir {
		parentAttr.Nlink++
	}
	parentAttr.Mtime = now
	parentAttr.Ctime = now
	f.attrs.Set(parent, parentAttr)
	if err := f.attrs.Flush(parent); err != nil {
		return 0, 0, inode.Attr{}, err
	}

	var hID HandleID
	if kind == inode.KindFile && (wantRead || wantWrite) {
		hID, err = f.openHandle(child, wantRead, wantWrite)
		if err != nil {
			return 0, 0, inode.Attr{}, err
		}
	}
	return child, hID, childAttr, nil
}

// Open acquires a handle over an existing file inode.
func (f *FileSystem) Open(ino inode.ID, wantRead, wantWrite bool) (HandleID, error) {
	if err := f.checkNotClosed(); err != nil {
		return 0, err
	}
	if f.opts.ReadOnly && wantWrite {
		return 0, ErrReadOnly
	}

	attr, err := f.attrs.Get(ino)
	if err != nil {
		return 0, translateInodeErr(err)
	}
	if attr.Kind != inode.KindFile {
		return 0, fmt.Errorf("%w: inode %d is not a file", ErrWrongKind, ino)
	}
	return f.openHandle(ino, wantRead, wantWrite)
}

func (f *FileSystem) openHandle(ino inode.ID, wantRead, wantWrite bool) (HandleID, error) {
	var rh *handle.ReadHandle
	var wh *handle.WriteHandle
	var err error

	if wantWrite {
		if !f.writeSem.TryAcquire(1) {
			return 0, fmt.Errorf("%w: too many concurrent write handles", ErrBadHandle)
		}
		wh, err = f.bodies.OpenWrite(ino)
		if err != nil {
			f.writeSem.Release(1)
			return 0, err
		}
	}
	if wantRead {
		rh, err = f.bodies.OpenRead(ino)
		if err != nil {
			if wh != nil {
				wh.Close()
				f.writeSem.Release(1)
			}
			return 0, err
		}
	}

	f.mu.Lock()
	f.nextHandleID++
	id := f.nextHandleID
	f.open[id] = &openFile{ino: ino, rh: rh, wh: wh}
	f.mu.Unlock()
	return id, nil
}

func (f *FileSystem) getHandle(id HandleID) (*openFile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	of, ok := f.open[id]
	return of, ok
}

// Read fills buf from the handle's underlying file starting at offset
// A short read at end of stream returns its byte count with a
// nil error, collapsing io.ReaderAt's "may return non-zero n with io.EOF"
// into the simpler "no error at end" an operation-table entry with no
// dedicated EOF case expects.
func (f *FileSystem) Read(id HandleID, offset int64, buf []byte) (int, error) {
	of, ok := f.getHandle(id)
	if !ok {
		return 0, ErrBadHandle
	}
	if of.rh == nil {
		return 0, fmt.Errorf("%w: handle %d has no read capability", ErrBadHandle, id)
	}
	n, err := of.rh.ReadAt(buf, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if contentenc.IsCryptoFailure(err) {
			return n, fmt.Errorf("%w: %v", ErrCrypto, err)
		}
		return n, err
	}
	return n, nil
}

// Write stores buf into the handle's underlying file starting at offset
//
func (f *FileSystem) Write(id HandleID, offset int64, buf []byte) (int, error) {
	if f.opts.ReadOnly {
		return 0, ErrReadOnly
	}
	of, ok := f.getHandle(id)
	if !ok {
		return 0, ErrBadHandle
	}
	if of.wh == nil {
		return 0, fmt.Errorf("%w: handle %d has no write capability", ErrBadHandle, id)
	}
	n, err := of.wh.WriteAt(buf, offset)
	if err != nil {
		return n, err
	}

	attr, aerr := f.attrs.Get(of.ino)
	if aerr == nil {
		if of.wh.Size() > attr.Size {
			attr.Size = of.wh.Size()
		}
		now := f.clk.Now()
		attr.Mtime = now
		attr.Ctime = now
		f.attrs.Set(of.ino, attr)
	}
	return n, nil
}

// Flush commits a handle's pending writes and the authoritative size to the
// persisted attribute record, without releasing the handle.
func (f *FileSystem) Flush(id HandleID) error {
	of, ok := f.getHandle(id)
	if !ok {
		return ErrBadHandle
	}
	return f.flushOpenFile(of)
}

func (f *FileSystem) flushOpenFile(of *openFile) error {
	if of.wh == nil {
		return nil
	}
	if err := of.wh.Flush(); err != nil {
		return err
	}
	attr, err := f.attrs.Get(of.ino)
	if err != nil {
		return translateInodeErr(err)
	}
	attr.Size = of.wh.Size()
	f.attrs.Set(of.ino, attr)
	return f.attrs.Flush(of.ino)
}

// Release flushes (if a write capability is held) and closes a handle,
// freeing its HandleID and any write-semaphore slot it holds. Release always
// implies a flush first.
func (f *FileSystem) Release(id HandleID) error {
	f.mu.Lock()
	of, ok := f.open[id]
	if ok {
		delete(f.open, id)
	}
	f.mu.Unlock()
	if !ok {
		return ErrBadHandle
	}

	var firstErr error
	if of.wh != nil {
		if err := f.flushOpenFile(of); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := of.wh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.writeSem.Release(1)
	}
	if of.rh != nil {
		if err := of.rh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *FileSystem) findOpenWriteHandle(ino inode.ID) *handle.WriteHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, of := range f.open {
		if of.ino == ino && of.wh != nil {
			return of.wh
		}
	}
	return nil
}

// SetLen truncates or grows ino's body to newSize.
func (f *FileSystem) SetLen(ino inode.ID, newSize int64) error {
	if f.opts.ReadOnly {
		return ErrReadOnly
	}
	lock := f.registry.Lock(ino)
	lock.Lock()
	defer lock.Unlock()

	attr, err := f.attrs.Get(ino)
	if err != nil {
		return translateInodeErr(err)
	}
	if attr.Kind != inode.KindFile {
		return fmt.Errorf("%w: inode %d is not a file", ErrWrongKind, ino)
	}

	if wh := f.findOpenWriteHandle(ino); wh != nil {
		if err := wh.SetLen(newSize); err != nil {
			return err
		}
	} else {
		wh, err := f.bodies.OpenWrite(ino)
		if err != nil {
			return err
		}
		err = wh.SetLen(newSize)
		if ferr := wh.Flush(); err == nil {
			err = ferr
		}
		if cerr := wh.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}

	now := f.clk.Now()
	attr.Size = newSize
	attr.Mtime = now
	attr.Ctime = now
	f.attrs.Set(ino, attr)
	return f.attrs.Flush(ino)
}

// RemoveFile unlinks name from parent, destroying the child inode and its
// body immediately: the data model has no unlink-while-open retention, so an
// already-open handle simply keeps operating on its still-open host
// descriptor until released, exactly as a POSIX unlink of an open file
// behaves.
func (f *FileSystem) RemoveFile(parent inode.ID, name string) error {
	if f.opts.ReadOnly {
		return ErrReadOnly
	}
	plock := f.registry.Lock(parent)
	plock.Lock()
	defer plock.Unlock()

	entry, err := f.dirs.Lookup(parent, name)
	if err != nil {
		return translateDirindexErr(err)
	}
	if entry.ChildIno == inode.RootID {
		return fmt.Errorf("%w: cannot remove the root", ErrInvalidInput)
	}
	if entry.ChildKind != inode.KindFile {
		return fmt.Errorf("%w: %q under %d is not a file", ErrWrongKind, name, parent)
	}

	childLock := f.registry.Lock(entry.ChildIno)
	childLock.Lock()
	defer childLock.Unlock()

	if err := f.dirs.Remove(parent, name); err != nil {
		return translateDirindexErr(err)
	}
	if err := f.bodies.RemoveBody(entry.ChildIno); err != nil {
		return err
	}
	if err := f.registry.Remove(entry.ChildIno); err != nil {
		return translateInodeErr(err)
	}
	f.attrs.Invalidate(entry.ChildIno)

	f.touchDir(parent)
	return nil
}

// RemoveDir unlinks an empty subdirectory named name from parent.
func (f *FileSystem) RemoveDir(parent inode.ID, name string) error {
	if f.opts.ReadOnly {
		return ErrReadOnly
	}
	plock := f.registry.Lock(parent)
	plock.Lock()
	defer plock.Unlock()

	entry, err := f.dirs.Lookup(parent, name)
	if err != nil {
		return translateDirindexErr(err)
	}
	if entry.ChildIno == inode.RootID {
		return fmt.Errorf("%w: cannot remove the root", ErrInvalidInput)
	}
	if entry.ChildKind != inode.KindDir {
		return fmt.Errorf("%w: %q under %d is not a directory", ErrWrongKind, name, parent)
	}

	childLock := f.registry.Lock(entry.ChildIno)
	childLock.Lock()
	defer childLock.Unlock()

	empty, err := f.dirs.IsEmpty(entry.ChildIno)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("%w: directory %d is not empty", ErrNotEmpty, entry.ChildIno)
	}

	if err := f.dirs.Remove(parent, name); err != nil {
		return translateDirindexErr(err)
	}
	if err := f.dirs.RemoveDir(entry.ChildIno); err != nil {
		return err
	}
	if err := f.registry.Remove(entry.ChildIno); err != nil {
		return translateInodeErr(err)
	}
	f.attrs.Invalidate(entry.ChildIno)

	parentAttr, err := f.attrs.Get(parent)
	if err == nil {
		if parentAttr.Nlink > 0 {
			parentAttr.Nlink--
		}
		now := f.clk.Now()
		parentAttr.Mtime = now
		parentAttr.Ctime = now
		f.attrs.Set(parent, parentAttr)
		f.attrs.Flush(parent)
	}
	return nil
}

func (f *FileSystem) touchDir(id inode.ID) {
	attr, err := f.attrs.Get(id)
	if err != nil {
		return
	}
	now := f.clk.Now()
	attr.Mtime = now
	attr.Ctime = now
	f.attrs.Set(id, attr)
	f.attrs.Flush(id)
}

// Rename moves oldName under oldParent to newName under newParent. Cross-directory renames acquire both parents' locks in ascending
// inode order to avoid the classic two-rename deadlock. A destination that
// already exists is rejected with ErrAlreadyExists rather than silently
// overwritten.
func (f *FileSystem) Rename(oldParent inode.ID, oldName string, newParent inode.ID, newName string) error {
	if f.opts.ReadOnly {
		return ErrReadOnly
	}

	unlock := handle.LockOrder(f.registry, oldParent, newParent)
	defer unlock()

	srcEntry, err := f.dirs.Lookup(oldParent, oldName)
	if err != nil {
		return translateDirindexErr(err)
	}
	if srcEntry.ChildIno == inode.RootID {
		return fmt.Errorf("%w: cannot rename the root", ErrInvalidInput)
	}

	if existing, err := f.dirs.Lookup(newParent, newName); err == nil {
		if existing.ChildKind != srcEntry.ChildKind {
			return fmt.Errorf("%w: %q already exists with a different kind", ErrCrossKind, newName)
		}
		return fmt.Errorf("%w: %q under %d", ErrAlreadyExists, newName, newParent)
	} else if !errors.Is(err, dirindex.ErrNotFound) {
		return translateDirindexErr(err)
	}

	newEntry := dirindex.Entry{Name: newName, ChildIno: srcEntry.ChildIno, ChildKind: srcEntry.ChildKind}
	if err := f.dirs.Rename(oldParent, oldName, newParent, newEntry); err != nil {
		return translateDirindexErr(err)
	}

	if oldParent != newParent && srcEntry.ChildKind == inode.KindDir {
		if attr, err := f.attrs.Get(oldParent); err == nil && attr.Nlink > 0 {
			attr.Nlink--
			f.attrs.Set(oldParent, attr)
			f.attrs.Flush(oldParent)
		}
		if attr, err := f.attrs.Get(newParent); err == nil {
			attr.Nlink++
			f.attrs.Set(newParent, attr)
			f.attrs.Flush(newParent)
		}
	}

	f.touchDir(oldParent)
	if newParent != oldParent {
		f.touchDir(newParent)
	}
	if attr, err := f.attrs.Get(srcEntry.ChildIno); err == nil {
		attr.Ctime = f.clk.Now()
		f.attrs.Set(srcEntry.ChildIno, attr)
		f.attrs.Flush(srcEntry.ChildIno)
	}
	return nil
}

// ReadDir lists parent's children. Ordering is not stable
// across calls, matching dirindex.Index.ReadDir's host-scan-order contract.
func (f *FileSystem) ReadDir(parent inode.ID) ([]dirindex.Entry, error) {
	attr, err := f.attrs.Get(parent)
	if err != nil {
		return nil, translateInodeErr(err)
	}
	if attr.Kind != inode.KindDir {
		return nil, fmt.Errorf("%w: inode %d is not a directory", ErrWrongKind, parent)
	}
	entries, err := f.dirs.ReadDir(parent)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CopyFileRange copies length bytes from srcIno at srcOff to dstIno at
// dstOff, round-tripping through plaintext since the two streams use
// independent nonces.
func (f *FileSystem) CopyFileRange(srcIno inode.ID, srcOff int64, dstIno inode.ID, dstOff, length int64) (int64, error) {
	if f.opts.ReadOnly {
		return 0, ErrReadOnly
	}

	unlock := handle.LockOrder(f.registry, srcIno, dstIno)
	defer unlock()

	srcAttr, err := f.attrs.Get(srcIno)
	if err != nil {
		return 0, translateInodeErr(err)
	}
	if srcAttr.Kind != inode.KindFile {
		return 0, fmt.Errorf("%w: inode %d is not a file", ErrWrongKind, srcIno)
	}
	dstAttr, err := f.attrs.Get(dstIno)
	if err != nil {
		return 0, translateInodeErr(err)
	}
	if dstAttr.Kind != inode.KindFile {
		return 0, fmt.Errorf("%w: inode %d is not a file", ErrWrongKind, dstIno)
	}

	rh, err := f.bodies.OpenRead(srcIno)
	if err != nil {
		return 0, err
	}
	defer rh.Close()

	wh, err := f.bodies.OpenWrite(dstIno)
	if err != nil {
		return 0, err
	}
	defer func() {
		wh.Flush()
		wh.Close()
	}()

	n, err := handle.CopyFileRange(rh, srcOff, wh, dstOff, length)
	if err != nil {
		return n, err
	}

	if err := wh.Flush(); err != nil {
		return n, err
	}
	if wh.Size() > dstAttr.Size {
		dstAttr.Size = wh.Size()
	}
	now := f.clk.Now()
	dstAttr.Mtime = now
	dstAttr.Ctime = now
	f.attrs.Set(dstIno, dstAttr)
	if err := f.attrs.Flush(dstIno); err != nil {
		return n, err
	}
	return n, nil
}

// Passwd changes the password protecting dataDir's master key without
// requiring a running instance. It is a package-level function, not a
// *FileSystem method, because this operation is keyed by data-dir path
// directly: changing a password only needs the old one, independent of
// whether the directory happens to be open in this process right now.
func Passwd(dataDir, oldPassword, newPassword string, cipherName crypto.Name, params keystore.KDFParams) error {
	canon, err := canonicalDataDir(dataDir)
	if err != nil {
		return err
	}
	ks := keystore.New(canon, cipherName, params)
	if err := ks.Passwd(oldPassword, newPassword); err != nil {
		return translateKeystoreErr(err)
	}
	return nil
}

// IncLookup records one more outstanding kernel reference to ino. It exists
// only for a host binding that must track FUSE's lookup-count contract
// (every successful lookup/create/mkdir reply that hands back a node ID owes
// exactly one forget); core operations above never call it, since in-process
// callers have no forget channel and no need for one.
func (f *FileSystem) IncLookup(ino inode.ID) {
	f.registry.IncLookup(ino)
}

// DecLookup drops n outstanding kernel references to ino, reporting whether
// the count reached zero. Paired with IncLookup for a host binding's
// ForgetInode handling.
func (f *FileSystem) DecLookup(ino inode.ID, n uint64) bool {
	return f.registry.DecLookup(ino, n)
}
