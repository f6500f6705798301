package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yarkm13/handoff/internal/config"
	"github.com/yarkm13/handoff/internal/retry"
	"github.com/yarkm13/handoff/internal/secret"
	"github.com/yarkm13/handoff/internal/transport"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var connect bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, settingsRows(cfg)))
			if !connect {
				return nil
			}

			sess, err := cfg.ResolveSession()
			if err != nil {
				return err
			}
			defer secret.Wipe(sess.Password)

			rows, err := probeRemote(transport.DefaultRegistry(zap.NewNop()), sess, []config.EndpointConfig{cfg.Inbound, cfg.Outbound})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderTable([]string{"Remote path", "Present"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&connect, "connect", false, "Open one session and check both remote paths")
	return cmd
}

func maskSecret(v string) string {
	switch {
	case v == "":
		return "(unset)"
	case secret.IsSealed(v):
		return "(sealed)"
	default:
		return "(plaintext, consider handoff seal)"
	}
}

func settingsRows(cfg *config.Settings) [][]string {
	file := cfg.File
	if file == "" {
		file = "(environment only)"
	}
	s := cfg.Session
	rows := [][]string{
		{"config file", file},
		{"polling", fmt.Sprintf("%t every %s", cfg.Polling.Enabled, cfg.PollInterval())},
		{"retries", fmt.Sprintf("%d (%d attempts) every %s", cfg.Retry.MaxCount, retry.TotalAttempts(cfg.Retry.MaxCount), cfg.RetryInterval())},
		{"protocol", s.Protocol},
		{"host", s.Host},
		{"port", portLabel(s.Port)},
		{"user", s.User},
		{"auth", s.AuthType},
		{"password", maskSecret(s.Password)},
		{"timeouts", fmt.Sprintf("connect %ds, transfer %ds, keepalive %ds", s.ConnectTimeoutSec, s.TransferTimeoutSec, s.KeepAliveSec)},
		{"host key policy", s.HostKey.Policy},
		{"inbound", fmt.Sprintf("%s/%s -> %s", strings.TrimRight(cfg.Inbound.RemoteDir, "/"), cfg.Inbound.FileName, cfg.Inbound.LocalDir)},
		{"outbound", fmt.Sprintf("%s -> %s/%s", cfg.Outbound.LocalDir, strings.TrimRight(cfg.Outbound.RemoteDir, "/"), cfg.Outbound.FileName)},
		{"shutdown grace", cfg.ShutdownGrace().String()},
		{"log", fmt.Sprintf("%s %s -> %s", cfg.Log.Level, cfg.Log.Format, strings.Join(cfg.Log.Outputs, ", "))},
	}
	if s.AuthType == string(transport.AuthPrivateKey) {
		rows = append(rows, []string{"private key", s.PrivateKeyPath})
	}
	if s.Protocol == "s3" {
		rows = append(rows, []string{"s3", fmt.Sprintf("bucket %s, region %s, path style %t", s.S3.Bucket, s.S3.Region, s.S3.UsePathStyle)})
	}
	return rows
}

func portLabel(port int) string {
	if port <= 0 {
		return "(protocol default)"
	}
	return strconv.Itoa(port)
}

// probeRemote opens one session and reports whether each endpoint's remote
// file exists. Nothing is transferred.
func probeRemote(f transport.Factory, sess transport.Session, endpoints []config.EndpointConfig) ([][]string, error) {
	conn, err := f.Create(sess)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows := make([][]string, 0, len(endpoints))
	for _, ep := range endpoints {
		path := endpoint(ep).RemotePath()
		exists, err := conn.Exists(path)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []string{path, strconv.FormatBool(exists)})
	}
	return rows, nil
}
