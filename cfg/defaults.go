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

// GetDefaultLoggingConfig returns the default configuration that is to be used
// during the application startup - when the provided configuration hasn't been
// parsed yet.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   "text",
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}

// GetDefaultKDFConfig returns conservative Argon2id parameters: roughly
// 100-300ms on a commodity CPU.
func GetDefaultKDFConfig() KDFConfig {
	return KDFConfig{
		TimeCost:    DefaultKDFTimeCost,
		MemoryKB:    DefaultKDFMemoryMB * 1024,
		Parallelism: DefaultKDFThreads,
	}
}

// GetDefaultFileSystemConfig returns the attribute and block-size defaults
// applied when a flag/YAML key is left unset.
func GetDefaultFileSystemConfig() FileSystemConfig {
	return FileSystemConfig{
		FileMode:    DefaultFileMode,
		DirMode:     DefaultDirMode,
		Uid:         -1,
		Gid:         -1,
		BlockSizeKB: DefaultBlockSizeKB,
	}
}
