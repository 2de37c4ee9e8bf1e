package handle

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xoriors/cryptfs/internal/contentenc"
	"github.com/xoriors/cryptfs/internal/inode"
)

// WriteHandle owns a body file opened for read-write, a dirty flag, and the
// current in-memory plaintext length an open write handle is authoritative
// over until the next flush. Because every frame is
// block-aligned, an unaligned write is served by reading the containing
// frame, patching the plaintext window, and rewriting it with a fresh nonce
// and unchanged AD (the block index) — directly, rather than buffering a
// pending frame, since positional writes need random access in the first
// place. Grounded on gcsproxy/mutable_content.go's dirty-threshold pattern,
// re-targeted from a GCS object generation to a host body file.
type WriteHandle struct {
	mu    sync.Mutex
	ino   inode.ID
	file  *os.File
	codec *contentenc.Codec

	size  int64
	dirty bool
}

func (h *WriteHandle) Ino() inode.ID { return h.ino }

// Size returns the handle's in-memory plaintext length, which is what a
// size query on an open file consults instead of the (possibly stale)
// persisted attribute.
func (h *WriteHandle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

func (h *WriteHandle) frameOffset(blockIndex uint64) int64 {
	return int64(blockIndex) * int64(h.codec.FrameSize())
}

// readBlock decrypts the current on-disk contents of blockIndex, sized to
// whatever plaintext length that block currently holds (shorter than
// BlockSize only for the last block of the stream). A block past the
// current in-memory size does not exist on disk yet and reads as empty.
func (h *WriteHandle) readBlock(blockIndex uint64) ([]byte, error) {
	blockSize := int64(h.codec.BlockSize())
	remaining := h.size - int64(blockIndex)*blockSize
	if remaining <= 0 {
		return nil, nil
	}
	blockPlainLen := blockSize
	if remaining < blockSize {
		blockPlainLen = remaining
	}
	frameSize := h.codec.FrameOverhead() + int(blockPlainLen)
	frame := make([]byte, frameSize)
	n, err := readAtRetryEINTR(h.file, frame, h.frameOffset(blockIndex))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("handle: reading block %d of inode %d: %w", blockIndex, h.ino, err)
	}
	if n < frameSize {
		frame = frame[:n]
	}
	return h.codec.DecryptBlock(frame, blockIndex)
}

// writeBlock seals plaintext under a fresh random nonce and writes the frame
// at blockIndex's fixed position. The AD stays the block index, unchanged by
// the rewrite.
func (h *WriteHandle) writeBlock(blockIndex uint64, plaintext []byte) error {
	nonce := make([]byte, h.codec.NonceLen())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("handle: generating nonce: %w", err)
	}
	frame, err := h.codec.EncryptBlock(plaintext, blockIndex, nonce)
	if err != nil {
		return err
	}
	if _, err := writeAtRetryEINTR(h.file, frame, h.frameOffset(blockIndex)); err != nil {
		return fmt.Errorf("handle: writing block %d of inode %d: %w", blockIndex, h.ino, err)
	}
	h.dirty = true
	return nil
}

// WriteAt writes buf at the given plaintext offset, growing the handle's
// in-memory size if the write extends past it.
func (h *WriteHandle) WriteAt(buf []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writeAtLocked(buf, offset)
}

func (h *WriteHandle) writeAtLocked(buf []byte, offset int64) (int, error) {
	blockSize := int64(h.codec.BlockSize())
	written := 0
	for len(buf) > 0 {
		blockIndex := uint64(offset / blockSize)
		inBlock := int(offset % blockSize)

		existing, err := h.readBlock(blockIndex)
		if err != nil {
			return written, err
		}

		room := int(blockSize) - inBlock
		chunk := buf
		if len(chunk) > room {
			chunk = chunk[:room]
		}

		newLen := inBlock + len(chunk)
		if newLen < len(existing) {
			newLen = len(existing)
		}
		block := make([]byte, newLen)
		copy(block, existing)
		copy(block[inBlock:], chunk)

		if err := h.writeBlock(blockIndex, block); err != nil {
			return written, err
		}

		offset += int64(len(chunk))
		buf = buf[len(chunk):]
		written += len(chunk)
		if offset > h.size {
			h.size = offset
		}
	}
	return written, nil
}

// SetLen implements truncate/grow. Shrinking drops whole trailing
// frames past the new block count and rewrites the final partial frame if
// the new size isn't block-aligned; growing zero-pads logically by writing
// zero frames through the same block path writes use.
func (h *WriteHandle) SetLen(newSize int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if newSize < 0 {
		return fmt.Errorf("handle: negative size %d", newSize)
	}

	blockSize := int64(h.codec.BlockSize())

	switch {
	case newSize == h.size:
		return nil

	case newSize < h.size:
		if newSize == 0 {
			if err := h.file.Truncate(0); err != nil {
				return fmt.Errorf("handle: truncating inode %d to 0: %w", h.ino, err)
			}
		} else if newSize%blockSize == 0 {
			newBlocks := newSize / blockSize
			if err := h.file.Truncate(int64(newBlocks) * int64(h.codec.FrameSize())); err != nil {
				return fmt.Errorf("handle: truncating inode %d: %w", h.ino, err)
			}
		} else {
			lastBlock := uint64(newSize / blockSize)
			existing, err := h.readBlock(lastBlock)
			if err != nil {
				return err
			}
			keep := int(newSize - int64(lastBlock)*blockSize)
			if keep > len(existing) {
				keep = len(existing)
			}
			if err := h.writeBlock(lastBlock, existing[:keep]); err != nil {
				return err
			}
			frameSize := int64(h.codec.FrameOverhead() + keep)
			if err := h.file.Truncate(h.frameOffset(lastBlock) + frameSize); err != nil {
				return fmt.Errorf("handle: truncating inode %d: %w", h.ino, err)
			}
		}

	default: // grow
		gap := newSize - h.size
		zeros := make([]byte, gap)
		if _, err := h.writeAtLocked(zeros, h.size); err != nil {
			return err
		}
	}

	h.size = newSize
	h.dirty = true
	return nil
}

// Flush fsyncs the body file, the durability contract for a held write
// handle.
func (h *WriteHandle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return nil
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("handle: syncing body %d: %w", h.ino, err)
	}
	h.dirty = false
	return nil
}

// Close flushes, then closes the underlying host file descriptor.
func (h *WriteHandle) Close() error {
	if err := h.Flush(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// CopyFileRange decrypts length bytes from src at srcOff and writes them to
// dst at dstOff through dst's write handle. It cannot copy ciphertext
// verbatim: src and dst have independent nonces and AD-binding
// block indices, so the range must round-trip through plaintext.
func CopyFileRange(src *ReadHandle, srcOff int64, dst *WriteHandle, dstOff int64, length int64) (int64, error) {
	const chunkSize = 1 << 20
	buf := make([]byte, chunkSize)
	var copied int64
	for copied < length {
		want := length - copied
		if want > chunkSize {
			want = chunkSize
		}
		n, err := src.ReadAt(buf[:want], srcOff+copied)
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], dstOff+copied); werr != nil {
				return copied, werr
			}
			copied += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return copied, err
		}
	}
	return copied, nil
}
