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

const (
	// Logging-level constants

	TRACE   string = "TRACE"
	DEBUG   string = "DEBUG"
	INFO    string = "INFO"
	WARNING string = "WARNING"
	ERROR   string = "ERROR"
	OFF     string = "OFF"
)

const (
	// Filesystem/crypto constants.

	DefaultBlockSizeKB   = 256
	MinBlockSizeKB       = 4
	DefaultFileMode      = 0600
	DefaultDirMode       = 0700
	DefaultAttrCacheTTL  = 60 // seconds
	DefaultWriteBackSecs = 1  // seconds
	DefaultKDFTimeCost   = 3  // Argon2id passes
	DefaultKDFMemoryMB   = 64 // Argon2id memory in MiB
	DefaultKDFThreads    = 4
)
