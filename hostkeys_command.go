package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/yarkm13/handoff/internal/hostkeys"
)

func newHostKeysCommand(ctx *commandContext) *cobra.Command {
	var storePath string

	hostKeysCmd := &cobra.Command{
		Use:   "hostkeys",
		Short: "Inspect pinned SSH host keys",
	}
	hostKeysCmd.PersistentFlags().StringVar(&storePath, "store", "", "Pin store (default: session.host_key.pin_store_path)")

	openStore := func() (*hostkeys.Store, error) {
		path := storePath
		if path == "" {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return nil, err
			}
			path = cfg.Session.HostKey.PinStorePath
		}
		return hostkeys.Open(path)
	}

	hostKeysCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pinned host keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pinned host keys.")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Host, e.KeyType, e.Fingerprint, e.PinnedAt.Local().Format(time.RFC3339)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Host", "Type", "Fingerprint", "Pinned"}, rows))
			return nil
		},
	})

	hostKeysCmd.AddCommand(&cobra.Command{
		Use:   "forget <host[:port]>",
		Short: "Remove a pinned host key so the next connect pins again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			host := pinKey(args[0])
			found, err := store.Forget(host)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no pinned key for %s", host)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot host key for %s\n", host)
			return nil
		},
	})

	return hostKeysCmd
}

// pinKey normalizes a host argument to the host:port form keys are pinned
// under.
func pinKey(arg string) string {
	if _, _, err := net.SplitHostPort(arg); err == nil {
		return arg
	}
	return net.JoinHostPort(arg, "22")
}
