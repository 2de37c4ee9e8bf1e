package handle

import (
	"github.com/xoriors/cryptfs/internal/inode"
)

// LockOrder acquires the writer lock on both a and b, in ascending inode
// order when they differ, to avoid a deadlock when a cross-directory rename
// races with another rename of the same two directories in reverse order.
// Returns the unlock function to defer.
func LockOrder(reg *inode.Registry, a, b inode.ID) (unlock func()) {
	if a == b {
		l := reg.Lock(a)
		l.Lock()
		return l.Unlock
	}
	first, second := a, b
	if first > second {
		first, second = second, first
	}
	l1 := reg.Lock(first)
	l2 := reg.Lock(second)
	l1.Lock()
	l2.Lock()
	return func() {
		l2.Unlock()
		l1.Unlock()
	}
}
