// Package inode implements the on-disk inode registry (one encrypted
// attribute record per live inode under a data directory's inodes/
// subdirectory) together with the lookup-count lifecycle and attribute
// cache that sit in front of it.
package inode

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xoriors/cryptfs/internal/contentenc"
	"github.com/xoriors/cryptfs/internal/crypto"
	"github.com/xoriors/cryptfs/internal/logger"
)

// ID is the 64-bit opaque inode identifier, the filesystem's analogue of a
// classical inode number.
type ID uint64

// RootID is always the inode number of the data directory's root.
const RootID ID = 1

// Kind distinguishes the two namespace object kinds this filesystem
// supports; there is no symlink or hard-link kind.
type Kind uint8

const (
	KindFile Kind = 1
	KindDir  Kind = 2
)

const attrFormatVersion = 1

// Attr is the persisted attribute record for one inode. It is serialized
// with a leading format-version byte so a future encoding change can be
// detected and rejected rather than misread.
type Attr struct {
	Kind  Kind
	Size  int64
	Mode  uint32 // permission bits
	Uid   uint32
	Gid   uint32
	Nlink uint32 // 1 for files, 2+subdir_count for directories
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Crtime time.Time
}

// Blocks returns ceil(Size / blockSize), the block count an inode's
// attributes expose.
func (a Attr) Blocks(codec *contentenc.Codec) int64 {
	return codec.NumBlocks(a.Size)
}

// Patch describes a set_attr update. Nil fields mean "leave unchanged": the
// typed patch uses pointers so "no change" is already distinguishable from
// any concrete zero value without ambiguity.
type Patch struct {
	Size  *int64
	Mode  *uint32
	Uid   *uint32
	Gid   *uint32
	Atime *time.Time
	Mtime *time.Time
	Ctime *time.Time
}

func (a *Attr) Apply(p Patch) {
	if p.Size != nil {
		a.Size = *p.Size
	}
	if p.Mode != nil {
		a.Mode = *p.Mode
	}
	if p.Uid != nil {
		a.Uid = *p.Uid
	}
	if p.Gid != nil {
		a.Gid = *p.Gid
	}
	if p.Atime != nil {
		a.Atime = *p.Atime
	}
	if p.Mtime != nil {
		a.Mtime = *p.Mtime
	}
	if p.Ctime != nil {
		a.Ctime = *p.Ctime
	}
}

var (
	ErrNotFound       = errors.New("inode: not found")
	ErrInvalidData    = errors.New("inode: invalid data")
	ErrAlreadyExists  = errors.New("inode: already exists")
)

// Registry persists Attr records under <dataDir>/inodes/<ino> as encrypted
// streams, and owns inode-number allocation.
type Registry struct {
	dir   string
	codec *contentenc.Codec

	mu      sync.Mutex
	nextID  ID
	locks   map[ID]*sync.RWMutex
	lookups map[ID]uint64

	// debugTag disambiguates this Registry's log lines from another
	// process's when both append to the same aggregated log stream.
	debugTag string
}

func NewRegistry(dataDir string, aead crypto.AEAD, blockSize int) (*Registry, error) {
	codec, err := contentenc.New(aead, blockSize)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(dataDir, "inodes")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("inode: creating inodes directory: %w", err)
	}
	r := &Registry{
		dir:      dir,
		codec:    codec,
		locks:    make(map[ID]*sync.RWMutex),
		lookups:  make(map[ID]uint64),
		debugTag: uuid.NewString(),
	}
	if err := r.recoverAllocator(); err != nil {
		return nil, err
	}
	return r, nil
}

// recoverAllocator scans the inodes/ directory for the highest existing
// inode number, so a fresh process resumes allocating above it rather than
// risking a collision with an inode created before restart.
func (r *Registry) recoverAllocator() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("inode: scanning inodes directory: %w", err)
	}
	max := ID(0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		if ID(n) > max {
			max = ID(n)
		}
	}
	if max < RootID {
		max = RootID
	}
	r.nextID = max + 1
	logger.Debugf("inode[%s]: allocator recovered, next id %d", r.debugTag, r.nextID)
	return nil
}

func (r *Registry) path(id ID) string {
	return filepath.Join(r.dir, strconv.FormatUint(uint64(id), 10))
}

// Lock returns the per-inode reader-writer lock used by the concurrency
// coordinator: many readers, or one writer, never both.
func (r *Registry) Lock(id ID) *sync.RWMutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.RWMutex{}
		r.locks[id] = l
	}
	return l
}

// IncLookup and DecLookup track an inode's kernel-FUSE-style lookup count.
// They only count: Remove deletes the on-disk record immediately whatever
// the count, and DecLookup reaching zero removes nothing by itself.
func (r *Registry) IncLookup(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups[id]++
}

// DecLookup decrements the lookup count by n and reports whether it reached
// zero. Matches lookup_count.go's panic-on-over-decrement discipline: a
// caller decrementing past zero indicates a coordinator bug, not a runtime
// condition to recover from.
func (r *Registry) DecLookup(id ID, n uint64) (zero bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.lookups[id]
	if !ok || n > cur {
		panic(fmt.Sprintf("inode: lookup count underflow for %d: have %d, dec %d", id, cur, n))
	}
	cur -= n
	r.lookups[id] = cur
	return cur == 0
}

// Allocate reserves the next inode number. It does not persist an attribute
// record; call Create for that.
func (r *Registry) Allocate() ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// Create persists a brand-new attribute record. It fails with
// ErrAlreadyExists if the inode file is already present, guarding against a
// caller reusing an id.
func (r *Registry) Create(id ID, attr Attr) error {
	path := r.path(id)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: inode %d", ErrAlreadyExists, id)
	}
	return r.write(id, attr)
}

// Get reads and decrypts an inode's attribute record.
func (r *Registry) Get(id ID) (Attr, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Attr{}, fmt.Errorf("%w: inode %d", ErrNotFound, id)
		}
		return Attr{}, fmt.Errorf("inode: reading %d: %w", id, err)
	}
	return r.decode(id, data)
}

// Set overwrites the on-disk attribute record. Callers hold the inode's
// writer lock for the duration of the read-modify-write this implies.
func (r *Registry) Set(id ID, attr Attr) error {
	return r.write(id, attr)
}

// Remove deletes the on-disk attribute record. The caller is responsible
// for having already torn down any directory entries pointing at id.
func (r *Registry) Remove(id ID) error {
	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: inode %d", ErrNotFound, id)
		}
		return fmt.Errorf("inode: removing %d: %w", id, err)
	}
	r.mu.Lock()
	delete(r.locks, id)
	delete(r.lookups, id)
	r.mu.Unlock()
	return nil
}

func (r *Registry) write(id ID, attr Attr) error {
	var plain bytes.Buffer
	plain.WriteByte(attrFormatVersion)
	if err := gob.NewEncoder(&plain).Encode(attr); err != nil {
		return fmt.Errorf("inode: encoding attributes for %d: %w", id, err)
	}

	f, err := os.OpenFile(r.path(id), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("inode: opening %d: %w", id, err)
	}
	defer f.Close()

	w := contentenc.NewWriter(r.codec, f)
	if _, err := w.Write(plain.Bytes()); err != nil {
		return fmt.Errorf("inode: encrypting attributes for %d: %w", id, err)
	}
	if err := w.Finish(); err != nil {
		return err
	}
	return f.Sync()
}

func (r *Registry) decode(id ID, ciphertext []byte) (Attr, error) {
	plainLen := r.codec.PlainLenForCipherLen(int64(len(ciphertext)))
	rd := contentenc.NewReader(r.codec, bytes.NewReader(ciphertext), plainLen)
	plain := make([]byte, plainLen)
	if _, err := readFull(rd, plain); err != nil {
		return Attr{}, fmt.Errorf("inode: decrypting %d: %w", id, err)
	}
	if len(plain) == 0 || plain[0] != attrFormatVersion {
		return Attr{}, fmt.Errorf("%w: inode %d has unknown format version", ErrInvalidData, id)
	}
	var attr Attr
	if err := gob.NewDecoder(bytes.NewReader(plain[1:])).Decode(&attr); err != nil {
		return Attr{}, fmt.Errorf("%w: inode %d: %v", ErrInvalidData, id, err)
	}
	return attr, nil
}

func readFull(r *contentenc.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
