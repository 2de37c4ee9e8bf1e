// Package mount is the external collaborator between the core filesystem
// (package fs) and a host kernel binding. It is explicitly out of scope for
// this repository's own correctness contract — the encrypted namespace is
// fully usable through fs.FileSystem's Go API without ever mounting anything
// — but `cmd mount` needs something real to call, so a thin adapter is
// wired in for Linux, with every other platform getting an explicit
// "not supported here" stub instead of a silent no-op or a build failure.
package mount

import "errors"

// ErrUnsupportedPlatform is returned by Mount on any platform this
// repository has no host binding wired for.
var ErrUnsupportedPlatform = errors.New("mount: no host binding wired for this platform")

// Options carries the handful of FUSE-visible knobs this filesystem exposes
// through a host mount. Most FUSE behavior (caching, permission checking,
// multi-reader dispatch) is left at the binding's defaults.
type Options struct {
	FSName     string
	VolumeName string
	ReadOnly   bool
}
