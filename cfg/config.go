// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// GENERATED CODE - DO NOT EDIT MANUALLY.

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of knobs an encrypted-filesystem instance is
// configured with, decoded from a YAML file and/or CLI flags via viper.
type Config struct {
	// DataDir is the host-filesystem directory holding the instance's
	// on-disk artifacts (security/, inodes/, contents/).
	DataDir ResolvedPath `yaml:"data-dir"`

	// MountPoint is where the namespace is exposed through a host binding
	// (FUSE on Linux). Unused by the core itself.
	MountPoint ResolvedPath `yaml:"mount-point"`

	// Cipher selects the AEAD backend used for every stream this instance
	// writes. The data directory does not record this choice: init, mount
	// and passwd all use the value given here, and opening a directory with
	// a cipher other than the one it was initialized with fails as an
	// invalid password.
	Cipher CipherName `yaml:"cipher"`

	// ReadOnly rejects every mutating operation surface call with the
	// read-only error kind.
	ReadOnly bool `yaml:"read-only"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	KDF KDFConfig `yaml:"kdf"`

	AttrCache AttrCacheConfig `yaml:"attr-cache"`

	Logging LoggingConfig `yaml:"logging"`

	Debug DebugConfig `yaml:"debug"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// FileSystemConfig holds the constant-for-the-instance attribute defaults
// and the plaintext block size every content-encryption stream is framed
// with.
type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode"`

	DirMode Octal `yaml:"dir-mode"`

	Uid int `yaml:"uid"`

	Gid int `yaml:"gid"`

	// BlockSizeKB is the plaintext block size, in KiB. Must be a
	// power of two no smaller than MinBlockSizeKB.
	BlockSizeKB int `yaml:"block-size-kb"`
}

// KDFConfig tunes the Argon2id derivation used to turn a password
// into a key-encryption key.
type KDFConfig struct {
	TimeCost uint32 `yaml:"time-cost"`

	MemoryKB uint32 `yaml:"memory-kb"`

	Parallelism uint8 `yaml:"parallelism"`
}

// AttrCacheConfig tunes the in-memory attribute write-back cache.
type AttrCacheConfig struct {
	TTLSecs int64 `yaml:"ttl-secs"`

	WriteBackSecs int64 `yaml:"write-back-secs"`
}

// LoggingConfig holds the logging knobs: severity, output format, and
// rotation via lumberjack.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format string `yaml:"format"`

	FilePath ResolvedPath `yaml:"file-path"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("data-dir", "", "", "The data directory holding this instance's encrypted artifacts.")

	err = viper.BindPFlag("data-dir", flagSet.Lookup("data-dir"))
	if err != nil {
		return err
	}

	flagSet.StringP("mount-point", "", "", "The local directory to expose the decrypted namespace under.")

	err = viper.BindPFlag("mount-point", flagSet.Lookup("mount-point"))
	if err != nil {
		return err
	}

	flagSet.StringP("cipher", "", string(ChaCha20Poly1305), "AEAD cipher: chacha20poly1305 or aes256gcm.")

	err = viper.BindPFlag("cipher", flagSet.Lookup("cipher"))
	if err != nil {
		return err
	}

	flagSet.BoolP("read-only", "", false, "Reject every mutating operation.")

	err = viper.BindPFlag("read-only", flagSet.Lookup("read-only"))
	if err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", DefaultFileMode, "Permissions bits for files, in octal.")

	err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", DefaultDirMode, "Permissions bits for directories, in octal.")

	err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all inodes. -1 means the current process UID.")

	err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid"))
	if err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all inodes. -1 means the current process GID.")

	err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid"))
	if err != nil {
		return err
	}

	flagSet.IntP("block-size-kb", "", DefaultBlockSizeKB, "Plaintext block size for the chunked codec, in KiB.")

	err = viper.BindPFlag("file-system.block-size-kb", flagSet.Lookup("block-size-kb"))
	if err != nil {
		return err
	}

	flagSet.Uint32P("kdf-time-cost", "", DefaultKDFTimeCost, "Argon2id time cost (passes).")

	err = viper.BindPFlag("kdf.time-cost", flagSet.Lookup("kdf-time-cost"))
	if err != nil {
		return err
	}

	flagSet.Uint32P("kdf-memory-kb", "", DefaultKDFMemoryMB*1024, "Argon2id memory cost, in KiB.")

	err = viper.BindPFlag("kdf.memory-kb", flagSet.Lookup("kdf-memory-kb"))
	if err != nil {
		return err
	}

	flagSet.Uint8P("kdf-parallelism", "", DefaultKDFThreads, "Argon2id parallelism.")

	err = viper.BindPFlag("kdf.parallelism", flagSet.Lookup("kdf-parallelism"))
	if err != nil {
		return err
	}

	flagSet.Int64P("attr-cache-ttl-secs", "", DefaultAttrCacheTTL, "TTL, in seconds, for cached clean attributes.")

	err = viper.BindPFlag("attr-cache.ttl-secs", flagSet.Lookup("attr-cache-ttl-secs"))
	if err != nil {
		return err
	}

	flagSet.Int64P("attr-cache-write-back-secs", "", DefaultWriteBackSecs, "Delay, in seconds, before a dirty attribute is committed if nothing flushes it sooner.")

	err = viper.BindPFlag("attr-cache.write-back-secs", flagSet.Lookup("attr-cache-write-back-secs"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")

	err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Logging format: text or json.")

	err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file. Empty logs to stderr.")

	err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	return nil
}
