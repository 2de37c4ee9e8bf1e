// Package fs implements the instance lifecycle and the virtual-filesystem
// operation surface: lookup, create, open, read, write, flush/release,
// set_len, set_attr, remove_file/remove_dir, rename, read_dir,
// copy_file_range and passwd, composed from internal/inode,
// internal/dirindex, internal/handle and internal/keystore. The locking
// discipline — grab fs.mu briefly, find the object, release fs.mu, then lock
// the object — and the per-inode lock order keep concurrent operations from
// deadlocking or racing on shared state.
package fs

import "errors"

// The error taxonomy operations wrap one of these sentinels with
// errors.Is-compatible context; callers switch on these sentinels, never on
// message text.
var (
	ErrNotFound        = errors.New("fs: not found")
	ErrAlreadyExists   = errors.New("fs: already exists")
	ErrWrongKind       = errors.New("fs: wrong kind")
	ErrNotEmpty        = errors.New("fs: not empty")
	ErrInvalidInput    = errors.New("fs: invalid input")
	ErrInvalidPassword = errors.New("fs: invalid password")
	ErrInvalidDataDir  = errors.New("fs: invalid data directory")
	ErrCrypto          = errors.New("fs: crypto failure")
	ErrBadHandle       = errors.New("fs: bad handle")
	ErrReadOnly        = errors.New("fs: read-only")
	ErrCrossKind       = errors.New("fs: cross-kind rename")
	ErrIO              = errors.New("fs: I/O error")
)
