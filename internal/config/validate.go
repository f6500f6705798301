package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/yarkm13/handoff/internal/secret"
	"github.com/yarkm13/handoff/internal/transport"
)

var (
	knownProtocols = []string{"sftp", "ftp", "s3"}
	knownLevels    = []string{"debug", "info", "warn", "warning", "error"}
	knownFormats   = []string{"console", "json", "auto"}
)

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Validate checks value ranges and cross-field rules. All problems are
// reported together.
func (s *Settings) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if s.Polling.IntervalMS < 0 {
		add("polling.interval_ms must not be negative, got %d", s.Polling.IntervalMS)
	}
	if s.Polling.Enabled && s.Polling.IntervalMS == 0 {
		add("polling.interval_ms must be positive when polling is enabled")
	}
	if s.Retry.MaxCount < 0 {
		add("retry.max_count must not be negative, got %d", s.Retry.MaxCount)
	}
	if s.Retry.IntervalMS < 0 {
		add("retry.interval_ms must not be negative, got %d", s.Retry.IntervalMS)
	}
	if s.Shutdown.GraceMS < 0 {
		add("shutdown.grace_ms must not be negative, got %d", s.Shutdown.GraceMS)
	}

	sess := s.Session
	if !contains(knownProtocols, sess.Protocol) {
		add("session.protocol %q is not one of %s", sess.Protocol, strings.Join(knownProtocols, ", "))
	}
	if sess.Port < 0 || sess.Port > 65535 {
		add("session.port %d is out of range", sess.Port)
	}
	if strings.TrimSpace(sess.User) == "" {
		add("session.user must not be empty")
	}
	if sess.ConnectTimeoutSec < 0 {
		add("session.connect_timeout_sec must not be negative, got %d", sess.ConnectTimeoutSec)
	}
	if sess.TransferTimeoutSec < 0 {
		add("session.transfer_timeout_sec must not be negative, got %d", sess.TransferTimeoutSec)
	}
	if sess.KeepAliveSec < 0 {
		add("session.keepalive_sec must not be negative, got %d", sess.KeepAliveSec)
	}

	switch transport.AuthType(sess.AuthType) {
	case transport.AuthPassword:
		if strings.TrimSpace(sess.Password) == "" {
			add("session.password is required for password auth")
		}
	case transport.AuthPrivateKey:
		if sess.Protocol != "sftp" {
			add("private_key auth is only supported for sftp")
		}
		if strings.TrimSpace(sess.PrivateKeyPath) == "" {
			add("session.private_key_path is required for private_key auth")
		} else if _, err := os.Stat(sess.PrivateKeyPath); err != nil {
			add("session.private_key_path: %v", err)
		}
	default:
		add("session.auth_type %q is not one of password, private_key", sess.AuthType)
	}

	switch transport.HostKeyPolicy(sess.HostKey.Policy) {
	case transport.HostKeyInsecure:
	case transport.HostKeyKnownHosts:
		if strings.TrimSpace(sess.HostKey.KnownHostsPath) == "" {
			add("session.host_key.known_hosts_path is required for the known_hosts policy")
		}
	case transport.HostKeyPinned:
		if strings.TrimSpace(sess.HostKey.PinStorePath) == "" {
			add("session.host_key.pin_store_path is required for the pinned policy")
		}
	default:
		add("session.host_key.policy %q is not one of insecure, known_hosts, pinned", sess.HostKey.Policy)
	}

	if sess.Protocol == "s3" {
		if strings.TrimSpace(sess.S3.Bucket) == "" {
			add("session.s3.bucket is required for s3")
		}
		if strings.TrimSpace(sess.S3.Region) == "" {
			add("session.s3.region is required for s3")
		}
	}

	if secret.IsSealed(sess.Password) && strings.TrimSpace(s.Secret.KeyPath) == "" {
		add("secret.key_path is required for a sealed password")
	}

	for _, ep := range []struct {
		name string
		cfg  EndpointConfig
	}{{"inbound", s.Inbound}, {"outbound", s.Outbound}} {
		if strings.TrimSpace(ep.cfg.LocalDir) == "" {
			add("%s.local_dir must not be empty", ep.name)
		}
		if strings.TrimSpace(ep.cfg.FileName) == "" {
			add("%s.file_name must not be empty", ep.name)
		}
	}

	if !contains(knownLevels, s.Log.Level) {
		add("log.level %q is not one of %s", s.Log.Level, strings.Join(knownLevels, ", "))
	}
	if !contains(knownFormats, s.Log.Format) {
		add("log.format %q is not one of %s", s.Log.Format, strings.Join(knownFormats, ", "))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
