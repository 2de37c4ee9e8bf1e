// Package dirindex implements the encrypted directory index: parent to
// child name mappings persisted under a data directory's contents/<parent>/
// subdirectory, one file per child named by a keyed hash of the child name.
// fs/dir_handle.go's buffered-listing contract is built on top of a listing
// of this host directory of keyed-hash-named encrypted entry files.
package dirindex

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xoriors/cryptfs/internal/contentenc"
	"github.com/xoriors/cryptfs/internal/crypto"
	"github.com/xoriors/cryptfs/internal/inode"
)

const entryFormatVersion = 1

// hashInfo is the HMAC domain separator for directory-entry name hashing, so
// the same derivation never collides with an unrelated use of the master key.
var hashInfo = []byte("cryptfs-dirindex-name-hash-v1")

var (
	ErrNotFound      = errors.New("dirindex: not found")
	ErrAlreadyExists = errors.New("dirindex: already exists")
	ErrInvalidData   = errors.New("dirindex: invalid data")
	ErrInvalidName   = errors.New("dirindex: invalid name")
)

// Entry is the (child_name, child_ino, child_kind) triple a directory entry
// file holds, name included so enumeration does not
// require decoding the hash back into a name.
type Entry struct {
	Name      string
	ChildIno  inode.ID
	ChildKind inode.Kind
}

// Index persists directory entries as encrypted streams under
// <dataDir>/contents/<parent_ino>/<hex-hash-of-name>.
type Index struct {
	root    string
	codec   *contentenc.Codec
	hashKey []byte

	mu sync.Mutex
}

// New derives a dedicated name-hashing key from masterKey via HMAC-SHA256
// with a fixed info string, so host-filesystem inspection of the hash names
// cannot correlate with anything else derived from the same master key.
func New(dataDir string, aead crypto.AEAD, blockSize int, masterKey []byte) (*Index, error) {
	codec, err := contentenc.New(aead, blockSize)
	if err != nil {
		return nil, err
	}
	root := filepath.Join(dataDir, "contents")
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("dirindex: creating contents directory: %w", err)
	}
	mac := hmac.New(sha256.New, masterKey)
	mac.Write(hashInfo)
	return &Index{root: root, codec: codec, hashKey: mac.Sum(nil)}, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

// hashName computes the keyed hash of (parent_ino, name) used as the
// opaque identifier a child's entry file is stored under.
func (ix *Index) hashName(parent inode.ID, name string) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(parent))
	mac := hmac.New(sha256.New, ix.hashKey)
	mac.Write(buf[:])
	mac.Write([]byte(name))
	return hex.EncodeToString(mac.Sum(nil))
}

func (ix *Index) dirPath(parent inode.ID) string {
	return filepath.Join(ix.root, formatIno(parent))
}

func (ix *Index) entryPath(parent inode.ID, name string) string {
	return filepath.Join(ix.dirPath(parent), ix.hashName(parent, name))
}

func formatIno(id inode.ID) string {
	return fmt.Sprintf("%d", uint64(id))
}

// EnsureDir creates the backing directory for parent's children; called when
// a new directory inode is created.
func (ix *Index) EnsureDir(parent inode.ID) error {
	if err := os.MkdirAll(ix.dirPath(parent), 0700); err != nil {
		return fmt.Errorf("dirindex: creating contents dir for %d: %w", parent, err)
	}
	return nil
}

// RemoveDir deletes parent's (already-empty) children directory, called when
// the directory inode itself is removed.
func (ix *Index) RemoveDir(parent inode.ID) error {
	if err := os.Remove(ix.dirPath(parent)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dirindex: removing contents dir for %d: %w", parent, err)
	}
	return nil
}

// Lookup computes the name hash, reads and decrypts the entry file if
// present, and verifies the stored name matches the query exactly, guarding
// against a hash collision (infeasible at 128+ bits, but cheap to check).
func (ix *Index) Lookup(parent inode.ID, name string) (Entry, error) {
	if err := validateName(name); err != nil {
		return Entry{}, err
	}
	data, err := os.ReadFile(ix.entryPath(parent, name))
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, fmt.Errorf("%w: %q under %d", ErrNotFound, name, parent)
		}
		return Entry{}, fmt.Errorf("dirindex: reading entry %q under %d: %w", name, parent, err)
	}
	e, err := ix.decode(data)
	if err != nil {
		return Entry{}, err
	}
	if e.Name != name {
		return Entry{}, fmt.Errorf("%w: %q under %d", ErrNotFound, name, parent)
	}
	return e, nil
}

// Insert creates a brand-new entry file with O_EXCL semantics, failing with
// ErrAlreadyExists if a (possibly colliding) entry is already present under
// that hash.
func (ix *Index) Insert(parent inode.ID, e Entry) error {
	if err := validateName(e.Name); err != nil {
		return err
	}
	if err := ix.EnsureDir(parent); err != nil {
		return err
	}
	path := ix.entryPath(parent, e.Name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %q under %d", ErrAlreadyExists, e.Name, parent)
	}
	return ix.write(path, e)
}

// Remove deletes the entry file for name under parent.
func (ix *Index) Remove(parent inode.ID, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	// Verify identity before removing, guarding against a hash collision
	// silently deleting an unrelated entry.
	if _, err := ix.Lookup(parent, name); err != nil {
		return err
	}
	if err := os.Remove(ix.entryPath(parent, name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q under %d", ErrNotFound, name, parent)
		}
		return fmt.Errorf("dirindex: removing %q under %d: %w", name, parent, err)
	}
	return nil
}

// Rename writes the new entry before removing the old one: a crash between
// the two leaves a dangling duplicate that startup-time reconciliation can
// resolve by checking inode liveness, rather than losing the entry entirely.
func (ix *Index) Rename(oldParent inode.ID, oldName string, newParent inode.ID, newEntry Entry) error {
	if err := ix.Insert(newParent, newEntry); err != nil {
		return err
	}
	if err := ix.Remove(oldParent, oldName); err != nil {
		return err
	}
	return nil
}

// ReadDir lists host entries under parent's contents directory and decrypts
// each into the returned slice. Ordering follows the host directory-read order and must
// not be relied upon by callers.
func (ix *Index) ReadDir(parent inode.ID) ([]Entry, error) {
	dirents, err := os.ReadDir(ix.dirPath(parent))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dirindex: listing %d: %w", parent, err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(ix.dirPath(parent), de.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				// Removed between the directory scan and the read; skip it.
				continue
			}
			return nil, fmt.Errorf("dirindex: reading %s under %d: %w", de.Name(), parent, err)
		}
		e, err := ix.decode(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// IsEmpty reports whether parent currently has any children, the check
// remove_dir uses to enforce that a directory is only removable when
// empty.
func (ix *Index) IsEmpty(parent inode.ID) (bool, error) {
	dirents, err := os.ReadDir(ix.dirPath(parent))
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("dirindex: listing %d: %w", parent, err)
	}
	for _, de := range dirents {
		if !de.IsDir() {
			return false, nil
		}
	}
	return true, nil
}

func (ix *Index) write(path string, e Entry) error {
	var plain bytes.Buffer
	plain.WriteByte(entryFormatVersion)
	if err := gob.NewEncoder(&plain).Encode(e); err != nil {
		return fmt.Errorf("dirindex: encoding entry %q: %w", e.Name, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, e.Name)
		}
		return fmt.Errorf("dirindex: opening entry %q: %w", e.Name, err)
	}
	defer f.Close()

	w := contentenc.NewWriter(ix.codec, f)
	if _, err := w.Write(plain.Bytes()); err != nil {
		return fmt.Errorf("dirindex: encrypting entry %q: %w", e.Name, err)
	}
	if err := w.Finish(); err != nil {
		return err
	}
	return f.Sync()
}

func (ix *Index) decode(ciphertext []byte) (Entry, error) {
	plainLen := ix.codec.PlainLenForCipherLen(int64(len(ciphertext)))
	rd := contentenc.NewReader(ix.codec, bytes.NewReader(ciphertext), plainLen)
	plain := make([]byte, plainLen)
	total := 0
	for total < len(plain) {
		n, err := rd.Read(plain[total:])
		total += n
		if err != nil {
			return Entry{}, fmt.Errorf("dirindex: decrypting entry: %w", err)
		}
	}
	if len(plain) == 0 || plain[0] != entryFormatVersion {
		return Entry{}, fmt.Errorf("%w: unknown format version", ErrInvalidData)
	}
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(plain[1:])).Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return e, nil
}
