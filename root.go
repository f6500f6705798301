package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/yarkm13/handoff/internal/config"
)

// commandContext loads the configuration once, on first use.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	settings   *config.Settings
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Settings, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.settings, c.configErr = config.Load(path)
	})
	return c.settings, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "handoff",
		Short:         "Unattended file exchange agent",
		Long:          "handoff periodically downloads an inbound archive from a remote server and uploads an outbound completion file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newSealCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newHostKeysCommand(ctx))

	return rootCmd
}
