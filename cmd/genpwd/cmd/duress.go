package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
)

var duressCmd = &cobra.Command{
	Use:   "duress",
	Short: "Set the duress passphrase",
	Long: `Sets a secondary passphrase that unlocks a decoy vault. Entering it at
any unlock prompt behaves exactly like a normal unlock but serves decoy
items, keeping the real vault out of reach under coercion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		// Require the real passphrase before allowing a duress change.
		if err := a.unlock(ctx); err != nil {
			return err
		}
		return setDuressPassphrase(ctx, a)
	},
}

func setDuressPassphrase(ctx context.Context, a *app) error {
	pass, err := promptPassword("Duress passphrase: ")
	if err != nil {
		return err
	}
	defer util.WipeBytes(pass)
	if len(pass) == 0 {
		return errors.New("passphrase must not be empty")
	}
	confirm, err := promptPassword("Repeat duress passphrase: ")
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
	if err := a.storeUnlockRecord(recordUnlockDuress, rec); err != nil {
		return err
	}
	fmt.Println("Duress passphrase set")
	return nil
}

func init() {
	rootCmd.AddCommand(duressCmd)
}
