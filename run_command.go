package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yarkm13/handoff/internal/agent"
	"github.com/yarkm13/handoff/internal/config"
	"github.com/yarkm13/handoff/internal/exchange"
	"github.com/yarkm13/handoff/internal/logging"
	"github.com/yarkm13/handoff/internal/secret"
	"github.com/yarkm13/handoff/internal/transport"
)

var errShutdownTimeout = errors.New("agent did not stop within the shutdown grace period")

func newRunCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the exchange agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if once {
				cfg.Polling.Enabled = false
			}

			logger, err := logging.Setup(cfg.Log)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			sess, err := cfg.ResolveSession()
			if err != nil {
				return err
			}
			defer secret.Wipe(sess.Password)

			a := agent.New(agentOptions(cfg, sess), transport.DefaultRegistry(logger.Named("transport")), logger.Named("agent"))
			return runUntilSignal(a, cfg.ShutdownGrace(), logger)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single exchange and exit, ignoring polling.enabled")
	return cmd
}

func agentOptions(cfg *config.Settings, sess transport.Session) agent.Options {
	return agent.Options{
		PollingEnabled: cfg.Polling.Enabled,
		PollInterval:   cfg.PollInterval(),
		MaxRetries:     cfg.Retry.MaxCount,
		RetryInterval:  cfg.RetryInterval(),
		Session:        sess,
		Inbound:        endpoint(cfg.Inbound),
		Outbound:       endpoint(cfg.Outbound),
	}
}

func endpoint(c config.EndpointConfig) exchange.Endpoint {
	return exchange.Endpoint{RemoteDir: c.RemoteDir, LocalDir: c.LocalDir, FileName: c.FileName}
}

type runner interface {
	Run() error
	Stop()
}

// runUntilSignal runs r until it returns or SIGINT/SIGTERM arrives. After a
// signal r gets grace to finish its current transfer; past that the process
// gives up on it.
func runUntilSignal(r runner, grace time.Duration, logger *zap.Logger) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	select {
	case err := <-done:
		return err
	case sig := <-signals:
		logger.Info("shutdown requested", zap.String("signal", sig.String()), zap.Duration("grace", grace))
	}

	r.Stop()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		logger.Error("forcing exit", zap.Error(errShutdownTimeout))
		return errShutdownTimeout
	case sig := <-signals:
		logger.Warn("second signal received, forcing exit", zap.String("signal", sig.String()))
		return errShutdownTimeout
	}
}
