package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/VBlackJack/genpwd-pro-sub017/sync"
	syncmemory "github.com/VBlackJack/genpwd-pro-sub017/sync/memory"
	syncs3 "github.com/VBlackJack/genpwd-pro-sub017/sync/s3"
)

var syncKeepBoth bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the vault with the configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		provider, err := buildProvider(ctx, a)
		if err != nil {
			return err
		}

		if err := a.unlock(ctx); err != nil {
			return err
		}
		items, err := a.vaultStore()
		if err != nil {
			return err
		}

		policy := sync.PolicyLastWriteWins
		if syncKeepBoth {
			policy = sync.PolicyKeepBoth
		}
		mgr := sync.NewManager(items, provider, a.keys,
			sync.WithPolicy(policy),
			sync.WithLogger(a.log),
		)
		if err := mgr.Sync(ctx); err != nil {
			return err
		}

		state, err := items.SyncState(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Synced %q via %s at %s\n", items.VaultID(), state.ProviderKind, state.LastSynced.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func buildProvider(ctx context.Context, a *app) (sync.Provider, error) {
	p := a.cfg.Provider
	switch p.Kind {
	case "s3":
		opts := []syncs3.Option{
			syncs3.WithTimeouts(syncs3.Timeouts{
				Connect: p.ConnectTimeout.Std(),
				Read:    p.ReadTimeout.Std(),
				Write:   p.WriteTimeout.Std(),
			}),
		}
		if p.Prefix != "" {
			opts = append(opts, syncs3.WithPrefix(p.Prefix))
		}
		return syncs3.New(ctx, p.Bucket, p.Region, opts...)
	case "memory":
		return syncmemory.New(), nil
	case "":
		return nil, errors.New("no sync provider configured, set provider.kind in the config")
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

func init() {
	syncCmd.Flags().BoolVar(&syncKeepBoth, "keep-both", false, "preserve both sides of a conflict instead of last-write-wins")
	rootCmd.AddCommand(syncCmd)
}
