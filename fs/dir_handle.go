package fs

import (
	"sync"

	"github.com/xoriors/cryptfs/internal/dirindex"
	"github.com/xoriors/cryptfs/internal/inode"
)

// DirHandle buffers one directory's entries for paged consumption by a
// host binding that lists a directory across several small calls (FUSE's
// ReadDir callback offset/size contract being the motivating example).
// Core operations never need this — ReadDir above hands back the whole
// slice — so DirHandle lives in the fs package but is only reached from
// code that opens directories for host-style paging: a snapshot taken at
// open time plus an offset cursor over a single in-memory dirindex.ReadDir
// call, since hosting a whole directory's entries in memory at once is
// cheap at this filesystem's scale.
type DirHandle struct {
	mu      sync.Mutex
	parent  inode.ID
	entries []dirindex.Entry
}

// OpenDir snapshots parent's current children into a new DirHandle, a
// paged variant of ReadDir.
func (f *FileSystem) OpenDir(parent inode.ID) (*DirHandle, error) {
	entries, err := f.ReadDir(parent)
	if err != nil {
		return nil, err
	}
	return &DirHandle{parent: parent, entries: entries}, nil
}

// ReadAt returns up to len(buf) entries starting at offset into the
// snapshot taken by OpenDir, and the number filled. offset beyond the end
// of the snapshot returns zero entries without error, matching a directory
// stream's "read past the last entry" contract.
func (h *DirHandle) ReadAt(offset int, buf []dirindex.Entry) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if offset >= len(h.entries) {
		return 0
	}
	n := copy(buf, h.entries[offset:])
	return n
}

// Len reports how many entries the snapshot holds.
func (h *DirHandle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Release is a no-op placeholder for symmetry with file handles: a
// DirHandle owns no host descriptor, only an in-memory snapshot, so there
// is nothing to close.
func (h *DirHandle) Release() {}
