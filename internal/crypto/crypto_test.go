package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randKey(t *testing.T, n int) []byte {
	t.Helper()
	k := make([]byte, n)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	for _, name := range []Name{ChaCha20Poly1305, AES256GCM} {
		name := name
		t.Run(name.String(), func(t *testing.T) {
			aead, err := New(name, randKey(t, 32))
			require.NoError(t, err)

			nonce := randKey(t, aead.NonceLen())
			ad := []byte("block-0")
			plaintext := []byte("hello, encrypted world")

			ct := aead.Seal(nil, nonce, plaintext, ad)
			assert.Len(t, ct, len(plaintext)+aead.Overhead())

			pt, err := aead.Open(nil, nonce, ct, ad)
			require.NoError(t, err)
			assert.Equal(t, plaintext, pt)
		})
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	aead, err := New(ChaCha20Poly1305, randKey(t, 32))
	require.NoError(t, err)
	nonce := randKey(t, aead.NonceLen())
	ct := aead.Seal(nil, nonce, []byte("payload"), []byte("ad"))
	ct[0] ^= 0xFF

	_, err = aead.Open(nil, nonce, ct, []byte("ad"))
	assert.Error(t, err)
}

func TestOpenRejectsWrongAssociatedData(t *testing.T) {
	aead, err := New(AES256GCM, randKey(t, 32))
	require.NoError(t, err)
	nonce := randKey(t, aead.NonceLen())
	ct := aead.Seal(nil, nonce, []byte("payload"), []byte("block-3"))

	_, err = aead.Open(nil, nonce, ct, []byte("block-4"))
	assert.Error(t, err)
}

func TestNewRejectsWrongKeyLen(t *testing.T) {
	_, err := New(ChaCha20Poly1305, randKey(t, 16))
	assert.Error(t, err)
	_, err = New(AES256GCM, randKey(t, 16))
	assert.Error(t, err)
}

func TestParseName(t *testing.T) {
	n, err := ParseName("chacha20poly1305")
	require.NoError(t, err)
	assert.Equal(t, ChaCha20Poly1305, n)

	n, err = ParseName("aes-256-gcm")
	require.NoError(t, err)
	assert.Equal(t, AES256GCM, n)

	_, err = ParseName("rot13")
	assert.Error(t, err)
}
