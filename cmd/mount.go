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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xoriors/cryptfs/cfg"
	"github.com/xoriors/cryptfs/fs"
	"github.com/xoriors/cryptfs/internal/logger"
	"github.com/xoriors/cryptfs/mount"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount an initialized data directory as a local filesystem",
	Long: `mount unlocks --data-dir with a password read interactively and
exposes the decrypted namespace under --mount-point until interrupted
(SIGINT/SIGTERM) or unmounted externally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateConfig(&Config); err != nil {
			return err
		}
		if Config.MountPoint == "" {
			return fmt.Errorf("mount-point must be set")
		}
		defer recoverToCrashLog(string(Config.DataDir) + ".crash.log")

		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		opts, err := fs.OptionsFromConfig(&Config)
		if err != nil {
			return err
		}

		fsys, err := fs.Open(string(Config.DataDir), password, opts)
		if err != nil {
			return fmt.Errorf("opening %s: %w", Config.DataDir, err)
		}
		defer fsys.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Infof("Mounting %s at %s", Config.DataDir, Config.MountPoint)
		err = mount.Mount(ctx, fsys, string(Config.MountPoint), mount.Options{
			FSName:     "cryptfs",
			VolumeName: "cryptfs",
			ReadOnly:   Config.ReadOnly,
		})
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		return nil
	},
}
