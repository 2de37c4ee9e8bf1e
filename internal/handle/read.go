package handle

import (
	"os"
	"sync"

	"github.com/xoriors/cryptfs/internal/contentenc"
	"github.com/xoriors/cryptfs/internal/inode"
)

// eintrReaderAt adapts an *os.File to io.ReaderAt with the interrupted-retry
// policy applied, so every frame read contentenc.Reader performs benefits
// from it transparently.
type eintrReaderAt struct{ f *os.File }

func (r eintrReaderAt) ReadAt(buf []byte, offset int64) (int, error) {
	return readAtRetryEINTR(r.f, buf, offset)
}

// ReadHandle is a per-inode read-only handle over a content-encryption
// stream reader. Multiple concurrent read handles on the same inode are
// permitted; each reads positionally through its own host descriptor and
// shares no state beyond the body file.
type ReadHandle struct {
	mu    sync.Mutex
	ino   inode.ID
	file  *os.File
	codec *contentenc.Codec
}

func (h *ReadHandle) Ino() inode.ID { return h.ino }

// ReadAt fills buf starting at the given plaintext offset. The handle
// re-stats the body file on every call so a concurrent writer's flush is
// observed without requiring the read handle to be reopened.
func (h *ReadHandle) ReadAt(buf []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	info, err := h.file.Stat()
	if err != nil {
		return 0, err
	}
	plainLen := h.codec.PlainLenForCipherLen(info.Size())
	r := contentenc.NewReader(h.codec, eintrReaderAt{h.file}, plainLen)
	return r.ReadAt(buf, offset)
}

// Close releases the underlying host file descriptor.
func (h *ReadHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}
