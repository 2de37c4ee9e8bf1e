package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xoriors/cryptfs/cfg"
	"github.com/xoriors/cryptfs/fs"
	"github.com/xoriors/cryptfs/internal/crypto"
	"github.com/xoriors/cryptfs/internal/keystore"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the password protecting a data directory's master key",
	Long: `passwd re-wraps the master key under a new password without
requiring a running instance, operating on --data-dir directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config.DataDir == "" {
			return fmt.Errorf(cfg.DataDirRequiredError)
		}
		resolvedCipher, err := cfg.ParseCipher(Config.Cipher)
		if err != nil {
			return err
		}
		cipherName, err := crypto.ParseName(string(resolvedCipher))
		if err != nil {
			return err
		}

		oldPassword, err := readPassword("Current password: ")
		if err != nil {
			return err
		}
		newPassword, err := readNewPassword()
		if err != nil {
			return err
		}

		params := keystore.KDFParams{
			TimeCost:    Config.KDF.TimeCost,
			MemoryKB:    Config.KDF.MemoryKB,
			Parallelism: Config.KDF.Parallelism,
		}
		if err := fs.Passwd(string(Config.DataDir), oldPassword, newPassword, cipherName, params); err != nil {
			return fmt.Errorf("changing password: %w", err)
		}

		fmt.Println("Password changed.")
		return nil
	},
}
