// Package handle implements the file-body store: per-inode encrypted
// bodies accessed through long-lived read and write handles over
// internal/contentenc, plus the cross-directory lock-ordering helper the
// rename and copy-range operations share.
package handle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/xoriors/cryptfs/internal/contentenc"
	"github.com/xoriors/cryptfs/internal/inode"
)

// Store resolves a regular-file inode's body-file path and builds handles
// over it. One Store is shared by every inode in a data directory, since the
// codec (cipher + block size) is fixed at initialization.
type Store struct {
	dataDir string
	codec   *contentenc.Codec
}

func NewStore(dataDir string, codec *contentenc.Codec) *Store {
	return &Store{dataDir: dataDir, codec: codec}
}

// BodyPath returns the on-disk path of ino's encrypted body, a plain file
// directly under contents/ (directory inodes instead get a contents/<ino>/
// subdirectory of dirindex entries; the two never collide since inode
// numbers are unique across kinds).
func (s *Store) BodyPath(ino inode.ID) string {
	return filepath.Join(s.dataDir, "contents", strconv.FormatUint(uint64(ino), 10))
}

// CreateBody creates a brand-new, empty body file for ino, failing if one
// already exists.
func (s *Store) CreateBody(ino inode.ID) error {
	f, err := os.OpenFile(s.BodyPath(ino), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("handle: creating body for %d: %w", ino, err)
	}
	return f.Close()
}

// RemoveBody deletes ino's body file. The caller is responsible for having
// already released every handle onto it.
func (s *Store) RemoveBody(ino inode.ID) error {
	if err := os.Remove(s.BodyPath(ino)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("handle: removing body for %d: %w", ino, err)
	}
	return nil
}

// OpenRead opens a new read handle over ino's body.
func (s *Store) OpenRead(ino inode.ID) (*ReadHandle, error) {
	f, err := os.Open(s.BodyPath(ino))
	if err != nil {
		return nil, fmt.Errorf("handle: opening body %d for read: %w", ino, err)
	}
	return &ReadHandle{ino: ino, file: f, codec: s.codec}, nil
}

// OpenWrite opens a new write handle over ino's body, seeding its in-memory
// length from the file's current on-disk size.
func (s *Store) OpenWrite(ino inode.ID) (*WriteHandle, error) {
	f, err := os.OpenFile(s.BodyPath(ino), os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("handle: opening body %d for write: %w", ino, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("handle: stat body %d: %w", ino, err)
	}
	size := s.codec.PlainLenForCipherLen(info.Size())
	return &WriteHandle{ino: ino, file: f, codec: s.codec, size: size}, nil
}

// retryEINTR retries a host read/write interrupted by a signal rather than
// surfacing EINTR to the caller.
func retryEINTR(fn func() (int, error)) (int, error) {
	for {
		n, err := fn()
		if err != nil && errors.Is(err, syscall.EINTR) {
			continue
		}
		return n, err
	}
}

func readAtRetryEINTR(r io.ReaderAt, buf []byte, offset int64) (int, error) {
	return retryEINTR(func() (int, error) { return r.ReadAt(buf, offset) })
}

func writeAtRetryEINTR(w io.WriterAt, buf []byte, offset int64) (int, error) {
	return retryEINTR(func() (int, error) { return w.WriteAt(buf, offset) })
}
