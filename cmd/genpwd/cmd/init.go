package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/config"
	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
	"github.com/VBlackJack/genpwd-pro-sub017/storage"
)

var initDuress bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the vault",
	Long: `Creates the encrypted store, generates and shelters the store passphrase
in the platform credential store, and sets the master passphrase used to
unlock the vault.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Vault.DeviceID == "" {
			cfg.Vault.DeviceID = uuid.NewString()
			if err := cfg.Save(configPath); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.loadUnlockRecord(recordUnlock); err == nil {
			return errors.New("vault already initialized")
		} else if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrVaultNotFound) {
			return err
		}

		pass, err := promptPassword("New master passphrase: ")
		if err != nil {
			return err
		}
		defer util.WipeBytes(pass)
		if len(pass) == 0 {
			return errors.New("passphrase must not be empty")
		}
		confirm, err := promptPassword("Repeat master passphrase: ")
		if err != nil {
			return err
		}
		defer util.WipeBytes(confirm)
		if !bytes.Equal(pass, confirm) {
			return errors.New("passphrases do not match")
		}

		rec, key, err := a.newUnlockRecord(ctx, pass)
		if err != nil {
			return err
		}
		util.WipeBytes(key)
		if err := a.storeUnlockRecord(recordUnlock, rec); err != nil {
			return err
		}

		if initDuress {
			if err := setDuressPassphrase(ctx, a); err != nil {
				return err
			}
		}

		// Start the rotation clock from today.
		if _, err := a.rot.NeedsRotation(ctx); err != nil {
			return err
		}

		fmt.Printf("Vault %q initialized at %s\n", a.cfg.Vault.ID, a.cfg.StorePath())
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initDuress, "duress", false, "also set a duress passphrase opening a decoy vault")
	rootCmd.AddCommand(initCmd)
}
