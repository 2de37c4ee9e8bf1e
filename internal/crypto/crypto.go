// Package crypto provides the two AEAD backends this filesystem can encrypt
// file contents, names and metadata with. Every other package that touches
// ciphertext depends only on the AEAD interface, never on a concrete cipher,
// so a data directory's cipher choice is a single decision made once at
// Initialize time and carried everywhere else as a value.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Name identifies a supported AEAD cipher by a one-byte tag.
type Name byte

const (
	ChaCha20Poly1305 Name = 1
	AES256GCM        Name = 2
)

func (n Name) String() string {
	switch n {
	case ChaCha20Poly1305:
		return "chacha20poly1305"
	case AES256GCM:
		return "aes256gcm"
	default:
		return fmt.Sprintf("unknown-cipher(%d)", byte(n))
	}
}

// AEAD is the uniform interface every component encrypting or decrypting a
// block programs against. Both backends use a 256-bit key and a 96-bit
// nonce, so callers never need to branch on which one is active.
type AEAD interface {
	Name() Name
	KeyLen() int
	NonceLen() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// New constructs the AEAD backend for the given cipher name and key. key
// must be exactly KeyLen(name) bytes: the cipher is always derived from a
// fixed-size master key, never a user-visible passphrase directly.
func New(name Name, key []byte) (AEAD, error) {
	switch name {
	case ChaCha20Poly1305:
		return newChaCha20Poly1305(key)
	case AES256GCM:
		return newAES256GCM(key)
	default:
		return nil, fmt.Errorf("crypto: unsupported cipher %v", name)
	}
}

// ParseName maps a config/CLI string to a Name.
func ParseName(s string) (Name, error) {
	switch s {
	case "chacha20poly1305", "chacha20-poly1305":
		return ChaCha20Poly1305, nil
	case "aes256gcm", "aes-256-gcm", "aesgcm":
		return AES256GCM, nil
	default:
		return 0, fmt.Errorf("crypto: unknown cipher name %q", s)
	}
}

type chachaAEAD struct {
	aead cipher.AEAD
}

func newChaCha20Poly1305(key []byte) (AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("crypto: chacha20poly1305 requires a %d byte key, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: building chacha20poly1305: %w", err)
	}
	return &chachaAEAD{aead: aead}, nil
}

func (c *chachaAEAD) Name() Name      { return ChaCha20Poly1305 }
func (c *chachaAEAD) KeyLen() int     { return chacha20poly1305.KeySize }
func (c *chachaAEAD) NonceLen() int   { return c.aead.NonceSize() }
func (c *chachaAEAD) Overhead() int   { return c.aead.Overhead() }
func (c *chachaAEAD) Seal(dst, nonce, plaintext, ad []byte) []byte {
	return c.aead.Seal(dst, nonce, plaintext, ad)
}
func (c *chachaAEAD) Open(dst, nonce, ciphertext, ad []byte) ([]byte, error) {
	return c.aead.Open(dst, nonce, ciphertext, ad)
}

type gcmAEAD struct {
	aead cipher.AEAD
}

const aes256KeyLen = 32

func newAES256GCM(key []byte) (AEAD, error) {
	if len(key) != aes256KeyLen {
		return nil, fmt.Errorf("crypto: aes256gcm requires a %d byte key, got %d", aes256KeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: building aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: building gcm: %w", err)
	}
	return &gcmAEAD{aead: aead}, nil
}

func (g *gcmAEAD) Name() Name    { return AES256GCM }
func (g *gcmAEAD) KeyLen() int   { return aes256KeyLen }
func (g *gcmAEAD) NonceLen() int { return g.aead.NonceSize() }
func (g *gcmAEAD) Overhead() int { return g.aead.Overhead() }
func (g *gcmAEAD) Seal(dst, nonce, plaintext, ad []byte) []byte {
	return g.aead.Seal(dst, nonce, plaintext, ad)
}
func (g *gcmAEAD) Open(dst, nonce, ciphertext, ad []byte) ([]byte, error) {
	return g.aead.Open(dst, nonce, ciphertext, ad)
}
