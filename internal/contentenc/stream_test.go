package contentenc

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xoriors/cryptfs/internal/crypto"
)

func newTestCodec(t *testing.T, blockSize int) *Codec {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	aead, err := crypto.New(crypto.ChaCha20Poly1305, key)
	require.NoError(t, err)
	codec, err := New(aead, blockSize)
	require.NoError(t, err)
	return codec
}

func encryptAll(t *testing.T, codec *Codec, plaintext []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(codec, &buf)
	_, err := w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Finish())
	return buf.Bytes()
}

func TestRoundTripVariousLengths(t *testing.T) {
	codec := newTestCodec(t, MinBlockSize)
	bs := codec.BlockSize()
	lengths := []int{0, 1, bs - 1, bs, bs + 1, 5*bs + 17}

	for _, n := range lengths {
		plaintext := make([]byte, n)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		ciphertext := encryptAll(t, codec, plaintext)
		assert.EqualValues(t, codec.CipherSize(int64(n)), len(ciphertext))

		r := NewReader(codec, bytes.NewReader(ciphertext), int64(n))
		got := make([]byte, n)
		total := 0
		for total < n {
			k, err := r.Read(got[total:])
			total += k
			if err != nil {
				break
			}
		}
		assert.Equal(t, plaintext, got[:total])
		assert.Equal(t, n, total)
	}
}

func TestSeekReadsSubrange(t *testing.T) {
	codec := newTestCodec(t, MinBlockSize)
	bs := codec.BlockSize()
	n := 3*bs + 100
	plaintext := make([]byte, n)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)
	ciphertext := encryptAll(t, codec, plaintext)

	r := NewReader(codec, bytes.NewReader(ciphertext), int64(n))
	a, b := bs-5, 2*bs+10
	buf := make([]byte, b-a)
	r.Seek(int64(a))
	total := 0
	for total < len(buf) {
		k, err := r.Read(buf[total:])
		total += k
		if err != nil {
			break
		}
	}
	assert.Equal(t, plaintext[a:b], buf[:total])
}

func TestFrameReorderingFailsAuthentication(t *testing.T) {
	codec := newTestCodec(t, MinBlockSize)
	bs := codec.BlockSize()
	plaintext := make([]byte, 2*bs)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)
	ciphertext := encryptAll(t, codec, plaintext)

	frameSize := codec.FrameSize()
	frame0 := append([]byte(nil), ciphertext[:frameSize]...)
	frame1 := append([]byte(nil), ciphertext[frameSize:2*frameSize]...)
	swapped := append(append([]byte{}, frame1...), frame0...)

	r := NewReader(codec, bytes.NewReader(swapped), int64(len(plaintext)))
	buf := make([]byte, bs)
	_, err = r.Read(buf)
	assert.True(t, IsCryptoFailure(err), "expected crypto failure, got %v", err)
}

func TestBitFlipCausesCryptoFailure(t *testing.T) {
	codec := newTestCodec(t, MinBlockSize)
	plaintext := []byte("a rather ordinary plaintext payload")
	ciphertext := encryptAll(t, codec, plaintext)
	ciphertext[codec.aead.NonceLen()+7] ^= 0x01

	r := NewReader(codec, bytes.NewReader(ciphertext), int64(len(plaintext)))
	buf := make([]byte, 1)
	_, err := r.Read(buf)
	assert.True(t, IsCryptoFailure(err))
}

func TestNewRejectsBadBlockSize(t *testing.T) {
	key := make([]byte, 32)
	aead, err := crypto.New(crypto.AES256GCM, key)
	require.NoError(t, err)

	_, err = New(aead, 100) // below MinBlockSize (and not a power of two)
	assert.Error(t, err)

	_, err = New(aead, 1024) // below MinBlockSize
	assert.Error(t, err)
}
