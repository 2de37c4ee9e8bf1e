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

package cfg

import (
	"fmt"
)

const (
	DataDirRequiredError   = "data-dir must be set"
	BlockSizeTooSmallError = "file-system.block-size-kb must be at least %d KiB"
	BlockSizeNotPow2Error  = "file-system.block-size-kb must be a power of two"
	KDFTimeCostError       = "kdf.time-cost must be at least 1"
	KDFMemoryError         = "kdf.memory-kb must be at least 8192 (8 MiB)"
	KDFParallelismError    = "kdf.parallelism must be at least 1"
)

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidFileSystemConfig(c *FileSystemConfig) error {
	if c.BlockSizeKB < MinBlockSizeKB {
		return fmt.Errorf(BlockSizeTooSmallError, MinBlockSizeKB)
	}
	if c.BlockSizeKB&(c.BlockSizeKB-1) != 0 {
		return fmt.Errorf(BlockSizeNotPow2Error)
	}
	return nil
}

func isValidKDFConfig(c *KDFConfig) error {
	if c.TimeCost < 1 {
		return fmt.Errorf(KDFTimeCostError)
	}
	if c.MemoryKB < 8192 {
		return fmt.Errorf(KDFMemoryError)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf(KDFParallelismError)
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if config.DataDir == "" {
		return fmt.Errorf(DataDirRequiredError)
	}

	if _, err = ParseCipher(config.Cipher); err != nil {
		return fmt.Errorf("error parsing cipher config: %w", err)
	}

	if err = isValidFileSystemConfig(&config.FileSystem); err != nil {
		return fmt.Errorf("error parsing file-system config: %w", err)
	}

	if err = isValidKDFConfig(&config.KDF); err != nil {
		return fmt.Errorf("error parsing kdf config: %w", err)
	}

	if err = isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	return nil
}

// ParseCipher validates a CipherName: an empty value resolves to
// ChaCha20Poly1305, and an unrecognized value returns a descriptive error.
func ParseCipher(name CipherName) (CipherName, error) {
	switch name {
	case ChaCha20Poly1305, AES256GCM:
		return name, nil
	case "":
		return ChaCha20Poly1305, nil
	default:
		return "", fmt.Errorf("unknown cipher %q", name)
	}
}
