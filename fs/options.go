package fs

import (
	"time"

	"github.com/xoriors/cryptfs/cfg"
	"github.com/xoriors/cryptfs/internal/clock"
	"github.com/xoriors/cryptfs/internal/crypto"
	"github.com/xoriors/cryptfs/internal/keystore"
)

// Options bundles everything Initialize and Open need beyond the data
// directory path and password, all of it fixed for the instance's lifetime
// except ReadOnly and the attribute-cache tunables.
type Options struct {
	Cipher    crypto.Name
	BlockSize int // plaintext bytes per frame

	KDF keystore.KDFParams

	ReadOnly bool

	AttrCacheTTL   time.Duration
	WriteBackDelay time.Duration

	MaxWriteHandles int

	DirMode  uint32
	FileMode uint32
	Uid      uint32
	Gid      uint32

	Clock clock.Clock
}

// DefaultOptions mirrors cfg's defaults so callers that don't go through the
// cfg/CLI layer (tests, embedders) still get the same constants.
func DefaultOptions() Options {
	return Options{
		Cipher:          crypto.ChaCha20Poly1305,
		BlockSize:       cfg.DefaultBlockSizeKB * 1024,
		KDF:             keystore.DefaultKDFParams(),
		AttrCacheTTL:    cfg.DefaultAttrCacheTTL * time.Second,
		WriteBackDelay:  cfg.DefaultWriteBackSecs * time.Second,
		MaxWriteHandles: cfg.DefaultMaxOpenWriteHandles(),
		DirMode:         cfg.DefaultDirMode,
		FileMode:        cfg.DefaultFileMode,
		Clock:           clock.RealClock{},
	}
}

// OptionsFromConfig translates a bound cfg.Config into the Options this
// package consumes, the seam cmd wires the CLI/YAML layer through.
func OptionsFromConfig(c *cfg.Config) (Options, error) {
	cipherName, err := crypto.ParseName(string(c.Cipher))
	if err != nil {
		return Options{}, err
	}
	cfg.ResolveOwner(&c.FileSystem)

	o := DefaultOptions()
	o.Cipher = cipherName
	o.BlockSize = c.FileSystem.BlockSizeKB * 1024
	o.ReadOnly = c.ReadOnly
	o.KDF = keystore.KDFParams{
		TimeCost:    c.KDF.TimeCost,
		MemoryKB:    c.KDF.MemoryKB,
		Parallelism: c.KDF.Parallelism,
	}
	o.AttrCacheTTL = time.Duration(c.AttrCache.TTLSecs) * time.Second
	o.WriteBackDelay = time.Duration(c.AttrCache.WriteBackSecs) * time.Second
	o.DirMode = uint32(c.FileSystem.DirMode)
	o.FileMode = uint32(c.FileSystem.FileMode)
	o.Uid = uint32(c.FileSystem.Uid)
	o.Gid = uint32(c.FileSystem.Gid)
	return o, nil
}
