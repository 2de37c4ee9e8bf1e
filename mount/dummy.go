//go:build !linux

package mount

import (
	"context"

	"github.com/xoriors/cryptfs/fs"
)

// Mount is not wired on this platform; the real adapter lives in
// fuse_linux.go, built only under GOOS=linux. Every non-Linux target gets
// this same explicit "not supported here" stub rather than a build failure
// or a silent no-op.
func Mount(ctx context.Context, fsys *fs.FileSystem, mountPoint string, opts Options) error {
	return ErrUnsupportedPlatform
}
