package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xoriors/cryptfs/cfg"
	"github.com/xoriors/cryptfs/fs"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new encrypted data directory",
	Long: `init creates the on-disk layout (security/, inodes/, contents/) for a
new encrypted filesystem under --data-dir, protected by a password read
interactively and confirmed by re-entry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateConfig(&Config); err != nil {
			return err
		}

		password, err := readNewPassword()
		if err != nil {
			return err
		}

		opts, err := fs.OptionsFromConfig(&Config)
		if err != nil {
			return err
		}

		fsys, err := fs.Initialize(string(Config.DataDir), password, opts)
		if err != nil {
			return fmt.Errorf("initializing %s: %w", Config.DataDir, err)
		}
		defer fsys.Close()

		fmt.Printf("Initialized encrypted data directory at %s\n", Config.DataDir)
		return nil
	},
}
