// Copyright 2024 Google LLC
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
	"os"
	"runtime"
)

// DefaultMaxOpenWriteHandles bounds how many write handles may hold a host
// file descriptor open concurrently, scaled off CPU count.
func DefaultMaxOpenWriteHandles() int {
	return max(16, 2*runtime.NumCPU())
}

// ResolveOwner fills in the current process's uid/gid whenever the config
// leaves them at the -1 sentinel.
func ResolveOwner(c *FileSystemConfig) {
	if c.Uid < 0 {
		c.Uid = os.Getuid()
	}
	if c.Gid < 0 {
		c.Gid = os.Getgid()
	}
}
