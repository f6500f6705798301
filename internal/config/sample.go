package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Example returns settings suitable as a starting point for a new install.
func Example() Settings {
	return Settings{
		Polling: PollingConfig{Enabled: true, IntervalMS: 60000},
		Retry:   RetryConfig{MaxCount: 3, IntervalMS: 5000},
		Session: SessionConfig{
			Protocol:           "sftp",
			Host:               "sftp.example.com",
			Port:               22,
			User:               "handoff",
			AuthType:           "password",
			Password:           "sealed:replace-with-output-of-handoff-seal",
			ConnectTimeoutSec:  15,
			TransferTimeoutSec: 120,
			KeepAliveSec:       30,
			HostKey: HostKeyConfig{
				Policy:         "pinned",
				KnownHostsPath: "~/.ssh/known_hosts",
				PinStorePath:   "~/.config/handoff/hostkeys.db",
			},
		},
		Inbound: EndpointConfig{
			RemoteDir: "/outbox",
			LocalDir:  "/var/lib/handoff/inbound",
			FileName:  "recv.zip",
		},
		Outbound: EndpointConfig{
			RemoteDir: "/inbox",
			LocalDir:  "/var/lib/handoff/outbound",
			FileName:  "download.complete",
		},
		Secret:   SecretConfig{KeyPath: "~/.config/handoff/secret.key"},
		Shutdown: ShutdownConfig{GraceMS: 10000},
		Log: LogConfig{
			Level:   "info",
			Format:  "auto",
			Outputs: []string{"stdout", "/var/log/handoff/handoff.log"},
			Rotation: RotationConfig{
				Enable:     true,
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Sample renders Example as TOML.
func Sample() ([]byte, error) {
	data, err := toml.Marshal(Example())
	if err != nil {
		return nil, fmt.Errorf("encode sample config: %w", err)
	}
	return data, nil
}
