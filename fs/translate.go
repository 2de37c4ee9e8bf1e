package fs

import (
	"errors"
	"fmt"

	"github.com/xoriors/cryptfs/internal/contentenc"
	"github.com/xoriors/cryptfs/internal/dirindex"
	"github.com/xoriors/cryptfs/internal/inode"
	"github.com/xoriors/cryptfs/internal/keystore"
)

// translateInodeErr maps internal/inode's error vocabulary onto this
// package's taxonomy, the same pattern the dirindex and keystore
// translators below follow: wrap with errors.Is-compatible context,
// never reformat the message into something callers might match on.
func translateInodeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, inode.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, inode.ErrAlreadyExists):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, inode.ErrInvalidData):
		return fmt.Errorf("%w: %v", ErrCrypto, err)
	case contentenc.IsCryptoFailure(err):
		return fmt.Errorf("%w: %v", ErrCrypto, err)
	default:
		return err
	}
}

func translateDirindexErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dirindex.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, dirindex.ErrAlreadyExists):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, dirindex.ErrInvalidName):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, dirindex.ErrInvalidData):
		return fmt.Errorf("%w: %v", ErrCrypto, err)
	case contentenc.IsCryptoFailure(err):
		return fmt.Errorf("%w: %v", ErrCrypto, err)
	default:
		return err
	}
}

func translateKeystoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keystore.ErrInvalidPassword):
		return fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	case errors.Is(err, keystore.ErrInvalidDataDirStructure):
		return fmt.Errorf("%w: %v", ErrInvalidDataDir, err)
	default:
		return err
	}
}
