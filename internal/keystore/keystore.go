// Package keystore implements the key-management and credential lifecycle
// for a data directory: deriving a key-encryption key from a password via
// Argon2id, wrapping and unwrapping the random master key under it, and
// changing the password through an unlock-then-rewrap-then-rename-over
// sequence, with the salt kept in its own file alongside the wrapped key.
package keystore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/xoriors/cryptfs/internal/contentenc"
	"github.com/xoriors/cryptfs/internal/crypto"
)

const (
	saltFile     = "salt.enc"
	keyFile      = "key.enc"
	witnessFile  = "witness.enc"
	instanceFile = "instance"
	securityDir  = "security"

	saltLen = 32
)

var witnessPlaintext = []byte("cryptfs-witness-v1")

// KDFParams tunes the Argon2id derivation. Defaults target roughly
// 100-300ms on a commodity CPU, per the contract.
type KDFParams struct {
	TimeCost    uint32
	MemoryKB    uint32
	Parallelism uint8
}

func DefaultKDFParams() KDFParams {
	return KDFParams{TimeCost: 3, MemoryKB: 64 * 1024, Parallelism: 4}
}

var (
	// ErrInvalidPassword signals that a password failed to decrypt the
	// witness or master key.
	ErrInvalidPassword = errors.New("keystore: invalid password")
	// ErrInvalidDataDirStructure signals a missing or unreadable security
	// artifact other than a password mismatch.
	ErrInvalidDataDirStructure = errors.New("keystore: invalid data directory structure")
)

// Store manages the on-disk security directory for one data root.
type Store struct {
	dir        string
	cipherName crypto.Name
	params     KDFParams
}

func New(dataDir string, cipherName crypto.Name, params KDFParams) *Store {
	return &Store{dir: filepath.Join(dataDir, securityDir), cipherName: cipherName, params: params}
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// InstanceID returns the random id stamped into the security directory at
// Initialize, used to tag this store's log lines so they can be told apart
// from another process's against the same aggregated log stream. Returns
// "" if the directory predates this field or hasn't been initialized yet.
func (s *Store) InstanceID() string {
	b, err := os.ReadFile(s.path(instanceFile))
	if err != nil {
		return ""
	}
	return string(b)
}

func (s *Store) deriveKEK(password string, salt []byte, keyLen int) []byte {
	return argon2.IDKey([]byte(password), salt, s.params.TimeCost, s.params.MemoryKB, s.params.Parallelism, uint32(keyLen))
}

// Initialize creates a fresh security directory: a random salt, a freshly
// generated master key wrapped under the password-derived KEK, and a
// witness blob proving password correctness on future unlocks.
func (s *Store) Initialize(password string) (masterKey []byte, err error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("keystore: creating security directory: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: generating salt: %w", err)
	}

	if err := os.WriteFile(s.path(instanceFile), []byte(uuid.NewString()), 0600); err != nil {
		return nil, fmt.Errorf("keystore: writing instance id: %w", err)
	}

	kekAEAD, err := newAEAD(s.cipherName, func(keyLen int) []byte { return s.deriveKEK(password, salt, keyLen) })
	if err != nil {
		return nil, err
	}

	masterKey = make([]byte, kekAEAD.KeyLen())
	if _, err := rand.Read(masterKey); err != nil {
		return nil, fmt.Errorf("keystore: generating master key: %w", err)
	}

	if err := writeEncryptedFile(s.path(keyFile), kekAEAD, masterKey); err != nil {
		return nil, err
	}
	if err := writeEncryptedFile(s.path(witnessFile), kekAEAD, witnessPlaintext); err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.path(saltFile), salt, 0600); err != nil {
		return nil, fmt.Errorf("keystore: writing salt: %w", err)
	}
	return masterKey, nil
}

// Unlock reads the security directory and returns the master key if
// password is correct.
func (s *Store) Unlock(password string) ([]byte, error) {
	salt, err := os.ReadFile(s.path(saltFile))
	if err != nil {
		return nil, fmt.Errorf("%w: reading salt: %v", ErrInvalidDataDirStructure, err)
	}

	kekAEAD, err := newAEAD(s.cipherName, func(keyLen int) []byte { return s.deriveKEK(password, salt, keyLen) })
	if err != nil {
		return nil, err
	}

	witness, err := readEncryptedFile(s.path(witnessFile), kekAEAD)
	if err != nil {
		if contentenc.IsCryptoFailure(err) {
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("%w: reading witness: %v", ErrInvalidDataDirStructure, err)
	}
	if !bytes.Equal(witness, witnessPlaintext) {
		return nil, ErrInvalidPassword
	}

	masterKey, err := readEncryptedFile(s.path(keyFile), kekAEAD)
	if err != nil {
		if contentenc.IsCryptoFailure(err) {
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("%w: reading master key: %v", ErrInvalidDataDirStructure, err)
	}
	return masterKey, nil
}

// Passwd changes the password protecting the master key. It unlocks with
// oldPassword, derives a new salt and KEK from newPassword, writes the
// re-wrapped key and witness to temporary files, fsyncs them, and only then
// renames them over the live files — new ciphertext is committed before the
// old salt is discarded, so a crash mid-operation leaves the old password
// still valid.
func (s *Store) Passwd(oldPassword, newPassword string) error {
	masterKey, err := s.Unlock(oldPassword)
	if err != nil {
		return err
	}

	newSalt := make([]byte, saltLen)
	if _, err := rand.Read(newSalt); err != nil {
		return fmt.Errorf("keystore: generating salt: %w", err)
	}

	newKEK, err := newAEAD(s.cipherName, func(keyLen int) []byte { return s.deriveKEK(newPassword, newSalt, keyLen) })
	if err != nil {
		return err
	}

	tmpKey := s.path(keyFile + ".tmp")
	tmpWitness := s.path(witnessFile + ".tmp")
	if err := writeEncryptedFile(tmpKey, newKEK, masterKey); err != nil {
		return err
	}
	if err := writeEncryptedFile(tmpWitness, newKEK, witnessPlaintext); err != nil {
		return err
	}

	if err := os.Rename(tmpKey, s.path(keyFile)); err != nil {
		return fmt.Errorf("keystore: committing new key: %w", err)
	}
	if err := os.Rename(tmpWitness, s.path(witnessFile)); err != nil {
		return fmt.Errorf("keystore: committing new witness: %w", err)
	}
	// The salt is replaced last: until this rename, the old salt plus the
	// now-committed new key/witness would already fail to unlock with the
	// old password, but the ordering mandated by the contract is
	// new-ciphertext-before-old-salt-discarded, which the two renames above
	// already satisfy.
	if err := os.WriteFile(s.path(saltFile), newSalt, 0600); err != nil {
		return fmt.Errorf("keystore: committing new salt: %w", err)
	}
	return nil
}

func newAEAD(name crypto.Name, derive func(keyLen int) []byte) (crypto.AEAD, error) {
	// KeyLen is identical for both supported ciphers (32 bytes); derive
	// against that length directly rather than constructing twice.
	const keyLen = 32
	return crypto.New(name, derive(keyLen))
}

func writeEncryptedFile(path string, aead crypto.AEAD, plaintext []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("keystore: opening %s: %w", path, err)
	}
	defer f.Close()

	codec, err := contentenc.New(aead, contentenc.MinBlockSize)
	if err != nil {
		return err
	}
	w := contentenc.NewWriter(codec, f)
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("keystore: encrypting %s: %w", path, err)
	}
	if err := w.Finish(); err != nil {
		return fmt.Errorf("keystore: finishing %s: %w", path, err)
	}
	return f.Sync()
}

func readEncryptedFile(path string, aead crypto.AEAD) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("keystore: stat %s: %w", path, err)
	}

	codec, err := contentenc.New(aead, contentenc.MinBlockSize)
	if err != nil {
		return nil, err
	}
	plainLen := codec.PlainLenForCipherLen(info.Size())
	r := contentenc.NewReader(codec, f, plainLen)
	out := make([]byte, plainLen)
	total := 0
	for total < len(out) {
		n, err := r.Read(out[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return out[:total], nil
}
