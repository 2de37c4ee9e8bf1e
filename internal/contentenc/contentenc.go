// Package contentenc implements the chunked, authenticated-encrypted frame
// format every body and metadata stream in this filesystem is stored in:
// each frame is nonce‖ciphertext‖tag, associated data binds the frame to
// its position so reordering or truncation is detected at decryption time,
// and writes are strictly block-aligned while reads can seek to any offset
// and land inside the right frame.
package contentenc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xoriors/cryptfs/internal/crypto"
)

// MinBlockSize is the smallest plaintext block size accepted; below this the
// per-frame nonce+tag overhead dominates the stream.
const MinBlockSize = 4096

// ConcatAD builds the associated data for a frame: the block index encoded
// as a fixed-width big-endian uint64. Binding only the index (not a file
// identifier) matches the on-disk format this package implements: every
// frame only needs to prove it hasn't moved relative to its own stream.
func ConcatAD(blockIndex uint64) []byte {
	ad := make([]byte, 8)
	binary.BigEndian.PutUint64(ad, blockIndex)
	return ad
}

// Codec bundles a cipher and the plaintext block size used to frame a
// stream. One Codec is shared by every file in a data directory, since both
// the cipher and block size are fixed at initialization time.
type Codec struct {
	aead      crypto.AEAD
	blockSize int
}

// New builds a Codec. blockSize must be a power of two no smaller than
// MinBlockSize.
func New(aead crypto.AEAD, blockSize int) (*Codec, error) {
	if blockSize < MinBlockSize {
		return nil, fmt.Errorf("contentenc: block size %d below minimum %d", blockSize, MinBlockSize)
	}
	if blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("contentenc: block size %d is not a power of two", blockSize)
	}
	return &Codec{aead: aead, blockSize: blockSize}, nil
}

func (c *Codec) BlockSize() int { return c.blockSize }

// NonceLen is the per-frame nonce length of the underlying AEAD, exposed so
// callers that construct frames directly (random-access writers) can size a
// fresh nonce without reaching into the cipher themselves.
func (c *Codec) NonceLen() int { return c.aead.NonceLen() }

// FrameSize is the on-disk size of a full frame: nonce + ciphertext(=plaintext) + tag.
func (c *Codec) FrameSize() int {
	return c.aead.NonceLen() + c.blockSize + c.aead.Overhead()
}

// FrameOverhead is the bytes added to a full plaintext block by framing.
func (c *Codec) FrameOverhead() int {
	return c.aead.NonceLen() + c.aead.Overhead()
}

// CipherSize returns the total on-disk byte length of a stream whose
// plaintext is plainLen bytes long, per the deterministic frames = ceil
// formula.
func (c *Codec) CipherSize(plainLen int64) int64 {
	if plainLen == 0 {
		return 0
	}
	frames := (plainLen + int64(c.blockSize) - 1) / int64(c.blockSize)
	return plainLen + frames*int64(c.FrameOverhead())
}

// PlainLenForCipherLen inverts CipherSize: given the on-disk size of a
// stream (as reported by a host stat call), it returns the plaintext length
// that produced it. Every frame but the last is exactly FrameSize bytes, so
// the number of full frames and the remainder determine the final block's
// plaintext length unambiguously.
func (c *Codec) PlainLenForCipherLen(cipherLen int64) int64 {
	if cipherLen == 0 {
		return 0
	}
	frame := int64(c.FrameSize())
	overhead := int64(c.FrameOverhead())
	fullFrames := cipherLen / frame
	rem := cipherLen % frame
	if rem == 0 {
		return fullFrames * int64(c.blockSize)
	}
	return fullFrames*int64(c.blockSize) + (rem - overhead)
}

// NumBlocks returns ceil(plainLen / blockSize), the block count reported as
// an inode's attributes.
func (c *Codec) NumBlocks(plainLen int64) int64 {
	if plainLen == 0 {
		return 0
	}
	return (plainLen + int64(c.blockSize) - 1) / int64(c.blockSize)
}

// EncryptBlock seals one plaintext block (which must be <= blockSize bytes,
// shorter only for the final, partial frame of a stream) with the given
// nonce and returns nonce‖ciphertext‖tag.
func (c *Codec) EncryptBlock(plaintext []byte, blockIndex uint64, nonce []byte) ([]byte, error) {
	if len(plaintext) > c.blockSize {
		return nil, fmt.Errorf("contentenc: plaintext block of %d bytes exceeds block size %d", len(plaintext), c.blockSize)
	}
	if len(nonce) != c.aead.NonceLen() {
		return nil, fmt.Errorf("contentenc: nonce must be %d bytes, got %d", c.aead.NonceLen(), len(nonce))
	}
	ad := ConcatAD(blockIndex)
	out := make([]byte, 0, c.aead.NonceLen()+len(plaintext)+c.aead.Overhead())
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, plaintext, ad)
	return out, nil
}

// DecryptBlock authenticates and decrypts one on-disk frame, returning the
// plaintext block it held.
func (c *Codec) DecryptBlock(frame []byte, blockIndex uint64) ([]byte, error) {
	nonceLen := c.aead.NonceLen()
	if len(frame) < nonceLen+c.aead.Overhead() {
		return nil, fmt.Errorf("contentenc: frame of %d bytes is shorter than the minimum nonce+tag overhead", len(frame))
	}
	nonce := frame[:nonceLen]
	ciphertext := frame[nonceLen:]
	ad := ConcatAD(blockIndex)
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("contentenc: %w: block %d failed authentication", errCrypto, blockIndex)
	}
	return plaintext, nil
}

var errCrypto = errors.New("crypto failure")

// IsCryptoFailure reports whether err was produced by a failed block
// authentication, the taxonomy's "crypto-failure" case.
func IsCryptoFailure(err error) bool {
	return errors.Is(err, errCrypto)
}
