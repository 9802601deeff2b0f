package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the store passphrase now",
	Long: `Generates a new store passphrase, re-keys the encrypted store, and
replaces the sheltered passphrase in the platform credential store. Runs
automatically on schedule; this command forces it immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.rot.Rotate(ctx); err != nil {
			return err
		}
		fmt.Println("Store passphrase rotated")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rotateCmd)
}
