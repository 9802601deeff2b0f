package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/VBlackJack/genpwd-pro-sub017/vault"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault and replication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := vault.New(a.cfg.Vault.ID, a.cfg.Vault.DeviceID, a.store, a.keys)
		if err != nil {
			return err
		}

		all, err := items.Items(ctx)
		if err != nil {
			return err
		}
		live, tombstones := 0, 0
		for _, it := range all {
			if it.Deleted {
				tombstones++
			} else {
				live++
			}
		}
		pending, err := items.PendingOps(ctx)
		if err != nil {
			return err
		}
		state, err := items.SyncState(ctx)
		if err != nil {
			return err
		}
		lastRotated, err := a.rot.LastRotated(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Vault:        %s\n", a.cfg.Vault.ID)
		fmt.Printf("Device:       %s\n", a.cfg.Vault.DeviceID)
		fmt.Printf("Items:        %d (%d pending deletion)\n", live, tombstones)
		fmt.Printf("Pending ops:  %d\n", len(pending))
		if state.LastSynced.IsZero() {
			fmt.Printf("Last sync:    never\n")
		} else {
			fmt.Printf("Last sync:    %s via %s\n", state.LastSynced.Format(time.RFC3339), state.ProviderKind)
		}
		if lastRotated.IsZero() {
			fmt.Printf("Key rotation: never\n")
		} else {
			next := lastRotated.Add(a.cfg.Rotation.Interval.Std())
			fmt.Printf("Key rotation: %s (next %s)\n", lastRotated.Format(time.RFC3339), next.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
