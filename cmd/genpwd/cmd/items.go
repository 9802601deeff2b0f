package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
)

var putCmd = &cobra.Command{
	Use:   "put <item>",
	Short: "Store or update an item",
	Long: `Encrypts the secret and stores it under the given item ID. The secret is
read from stdin when piped, otherwise prompted for.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.unlock(ctx); err != nil {
			return err
		}
		items, err := a.vaultStore()
		if err != nil {
			return err
		}

		secret, err := promptPassword("Secret: ")
		if err != nil {
			return err
		}
		defer util.WipeBytes(secret)

		if err := items.Put(ctx, args[0], secret); err != nil {
			return err
		}
		fmt.Printf("Stored %q\n", args[0])
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <item>",
	Short: "Print an item's secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.unlock(ctx); err != nil {
			return err
		}
		items, err := a.vaultStore()
		if err != nil {
			return err
		}

		secret, err := items.Get(ctx, args[0])
		if err != nil {
			return err
		}
		defer util.WipeBytes(secret)

		if _, err := os.Stdout.Write(secret); err != nil {
			return err
		}
		if fi, _ := os.Stdout.Stat(); fi != nil && fi.Mode()&os.ModeCharDevice != 0 {
			io.WriteString(os.Stdout, "\n")
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <item>",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.unlock(ctx); err != nil {
			return err
		}
		items, err := a.vaultStore()
		if err != nil {
			return err
		}

		if err := items.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %q\n", args[0])
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List item IDs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.unlock(ctx); err != nil {
			return err
		}
		items, err := a.vaultStore()
		if err != nil {
			return err
		}

		ids, err := items.List(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(putCmd, getCmd, rmCmd, lsCmd)
}
