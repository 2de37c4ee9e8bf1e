package contentenc

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Writer frames plaintext writes into the on-disk stream format over an
// io.Writer sink. It is strictly sequential: every full blockSize bytes
// accumulated emits one frame; Finish emits whatever partial tail remains.
type Writer struct {
	codec      *Codec
	sink       io.Writer
	buf        []byte
	blockIndex uint64
}

func NewWriter(codec *Codec, sink io.Writer) *Writer {
	return &Writer{
		codec: codec,
		sink:  sink,
		buf:   make([]byte, 0, codec.BlockSize()),
	}
}

// Write buffers p and flushes out full frames as they accumulate. It never
// emits a partial frame; call Finish to flush the trailing partial block.
func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := w.codec.BlockSize() - len(w.buf)
		n := min(room, len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		if len(w.buf) == w.codec.BlockSize() {
			if err := w.emitFrame(w.buf); err != nil {
				return total - len(p), err
			}
			w.buf = w.buf[:0]
		}
	}
	return total, nil
}

// Flush forces any full block already buffered out to the sink. Per the
// framing contract it never emits a partial frame, so a sub-blockSize tail
// remains buffered until Finish.
func (w *Writer) Flush() error {
	return nil
}

// Finish emits any partial trailing buffer as one shorter final frame. It
// must be called exactly once, after the last Write.
func (w *Writer) Finish() error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.emitFrame(w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

func (w *Writer) emitFrame(plaintext []byte) error {
	nonce := make([]byte, w.codec.aead.NonceLen())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("contentenc: generating nonce: %w", err)
	}
	frame, err := w.codec.EncryptBlock(plaintext, w.blockIndex, nonce)
	if err != nil {
		return err
	}
	if _, err := w.sink.Write(frame); err != nil {
		return fmt.Errorf("contentenc: writing frame %d: %w", w.blockIndex, err)
	}
	w.blockIndex++
	return nil
}

// Reader decrypts the stream format from an io.ReaderAt, supporting forward
// reads and arbitrary seeks with chunk-boundary decryption:
// block_index = offset / blockSize, in_block = offset % blockSize.
type Reader struct {
	codec  *Codec
	src    io.ReaderAt
	plainN int64 // plaintext length of the full stream, for bounds and partial-tail sizing
	pos    int64 // logical plaintext read cursor
}

func NewReader(codec *Codec, src io.ReaderAt, plainLen int64) *Reader {
	return &Reader{codec: codec, src: src, plainN: plainLen}
}

// Seek repositions the logical plaintext cursor. It does not validate the
// offset against stream length; a subsequent Read at or past EOF returns
// io.EOF the ordinary way.
func (r *Reader) Seek(offset int64) {
	r.pos = offset
}

// ReadAt fills buf starting at the given plaintext offset without disturbing
// the Reader's own cursor, for concurrent random-access reads sharing one
// Reader's frame geometry but not its position.
func (r *Reader) ReadAt(buf []byte, offset int64) (int, error) {
	return r.readFrom(buf, offset)
}

// Read fills buf from the current logical cursor and advances it.
func (r *Reader) Read(buf []byte) (int, error) {
	n, err := r.readFrom(buf, r.pos)
	r.pos += int64(n)
	return n, err
}

func (r *Reader) readFrom(buf []byte, offset int64) (int, error) {
	if offset >= r.plainN {
		return 0, io.EOF
	}
	blockSize := int64(r.codec.BlockSize())
	total := 0
	for total < len(buf) && offset+int64(total) < r.plainN {
		cur := offset + int64(total)
		blockIndex := uint64(cur / blockSize)
		inBlock := int(cur % blockSize)

		plain, err := r.readBlock(blockIndex)
		if err != nil {
			return total, err
		}
		if inBlock >= len(plain) {
			return total, io.EOF
		}
		n := copy(buf[total:], plain[inBlock:])
		total += n
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (r *Reader) readBlock(blockIndex uint64) ([]byte, error) {
	frameSize := int64(r.codec.FrameSize())
	frameOff := int64(blockIndex) * frameSize

	// The final frame of a stream is shorter than frameSize whenever the
	// plaintext length isn't block-aligned; size the read buffer to the
	// frame's actual plaintext length so a short final frame isn't treated
	// as a truncated one.
	blockPlainLen := r.codec.BlockSize()
	remaining := r.plainN - int64(blockIndex)*int64(r.codec.BlockSize())
	if remaining < int64(blockPlainLen) {
		blockPlainLen = int(remaining)
	}
	if blockPlainLen <= 0 {
		return nil, io.EOF
	}
	thisFrameSize := r.codec.FrameOverhead() + blockPlainLen

	frame := make([]byte, thisFrameSize)
	n, err := r.src.ReadAt(frame, frameOff)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("contentenc: reading frame %d: %w", blockIndex, err)
	}
	if n < thisFrameSize {
		return nil, fmt.Errorf("contentenc: %w: frame %d truncated, got %d of %d bytes", errCrypto, blockIndex, n, thisFrameSize)
	}
	return r.codec.DecryptBlock(frame, blockIndex)
}
