package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
	"github.com/VBlackJack/genpwd-pro-sub017/otp"
)

var otpCmd = &cobra.Command{
	Use:   "otp <item>",
	Short: "Generate a one-time password",
	Long: `Generates the current code from an item holding an otpauth:// URI.
For HOTP items the counter is advanced and persisted after each code.`,
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

		secret, err := items.Get(ctx, args[0])
		if err != nil {
			return err
		}
		defer util.WipeBytes(secret)

		cfg, err := otp.ParseURI(string(secret))
		if err != nil {
			return fmt.Errorf("item %q does not hold a valid otpauth URI: %w", args[0], err)
		}

		switch cfg.Type {
		case otp.TypeTOTP:
			code, remaining, err := otp.TOTP(cfg, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("%s (valid %ds)\n", code, remaining)
		case otp.TypeHOTP:
			code, next, err := otp.NextHOTP(cfg)
			if err != nil {
				return err
			}
			if err := items.Put(ctx, args[0], []byte(next.URI())); err != nil {
				return fmt.Errorf("persisting advanced counter: %w", err)
			}
			fmt.Println(code)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(otpCmd)
}
