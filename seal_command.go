package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yarkm13/handoff/internal/config"
	"github.com/yarkm13/handoff/internal/secret"
)

const defaultKeyPath = "~/.config/handoff/secret.key"

func newSealCommand(ctx *commandContext) *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a password for session.password",
		Long: "Reads a password from the terminal (or one line from stdin) and prints it sealed with the local key.\n" +
			"The key file is created with mode 0600 when it does not exist yet.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveKeyPath(ctx, keyPath)

			key, created, err := secret.EnsureKey(path)
			if err != nil {
				return err
			}
			defer secret.Wipe(key[:])
			if created {
				fmt.Fprintf(cmd.ErrOrStderr(), "Created new key at %s\n", path)
			}

			password, err := askPassword("Password: ", os.Stdin, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer secret.Wipe(password)
			if len(password) == 0 {
				return fmt.Errorf("empty password")
			}

			sealed, err := secret.Seal(key, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "Key file (default: secret.key_path from config, or "+defaultKeyPath+")")
	return cmd
}

// resolveKeyPath prefers the flag, then the loaded config. A config that does
// not load yet is fine here: seal is usually run before the config is done.
func resolveKeyPath(ctx *commandContext, flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return config.ExpandHome(p)
	}
	if cfg, err := ctx.ensureConfig(); err == nil && cfg.Secret.KeyPath != "" {
		return cfg.Secret.KeyPath
	}
	return config.ExpandHome(defaultKeyPath)
}
