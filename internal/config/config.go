// Package config loads handoff settings from a TOML file with environment
// overrides. Environment variables use the prefix HANDOFF and `.` is replaced
// with `_`, for example HANDOFF_SESSION_HOST=sftp.example.com.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "HANDOFF"
	configEnvVar   = "HANDOFF_CONFIG"
	configBaseName = "handoff"
)

// Settings is the root configuration.
type Settings struct {
	Polling  PollingConfig  `mapstructure:"polling" toml:"polling"`
	Retry    RetryConfig    `mapstructure:"retry" toml:"retry"`
	Session  SessionConfig  `mapstructure:"session" toml:"session"`
	Inbound  EndpointConfig `mapstructure:"inbound" toml:"inbound"`
	Outbound EndpointConfig `mapstructure:"outbound" toml:"outbound"`
	Secret   SecretConfig   `mapstructure:"secret" toml:"secret"`
	Shutdown ShutdownConfig `mapstructure:"shutdown" toml:"shutdown"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`

	// File is the config file that was read, empty when settings came from
	// the environment only.
	File string `mapstructure:"-" toml:"-"`
}

type PollingConfig struct {
	Enabled    bool  `mapstructure:"enabled" toml:"enabled"`
	IntervalMS int64 `mapstructure:"interval_ms" toml:"interval_ms"`
}

type RetryConfig struct {
	// MaxCount is the number of retries after the first try.
	MaxCount   int   `mapstructure:"max_count" toml:"max_count"`
	IntervalMS int64 `mapstructure:"interval_ms" toml:"interval_ms"`
}

type SessionConfig struct {
	Protocol           string `mapstructure:"protocol" toml:"protocol"`
	Host               string `mapstructure:"host" toml:"host"`
	Port               int    `mapstructure:"port" toml:"port"`
	User               string `mapstructure:"user" toml:"user"`
	AuthType           string `mapstructure:"auth_type" toml:"auth_type"`
	Password           string `mapstructure:"password" toml:"password"`
	PrivateKeyPath     string `mapstructure:"private_key_path" toml:"private_key_path"`
	ConnectTimeoutSec  int    `mapstructure:"connect_timeout_sec" toml:"connect_timeout_sec"`
	TransferTimeoutSec int    `mapstructure:"transfer_timeout_sec" toml:"transfer_timeout_sec"`
	KeepAliveSec       int    `mapstructure:"keepalive_sec" toml:"keepalive_sec"`

	HostKey HostKeyConfig `mapstructure:"host_key" toml:"host_key"`
	S3      S3Config      `mapstructure:"s3" toml:"s3"`
}

type HostKeyConfig struct {
	// Policy: insecure, known_hosts or pinned
	Policy         string `mapstructure:"policy" toml:"policy"`
	KnownHostsPath string `mapstructure:"known_hosts_path" toml:"known_hosts_path"`
	PinStorePath   string `mapstructure:"pin_store_path" toml:"pin_store_path"`
}

type S3Config struct {
	Region       string `mapstructure:"region" toml:"region"`
	Bucket       string `mapstructure:"bucket" toml:"bucket"`
	UsePathStyle bool   `mapstructure:"use_path_style" toml:"use_path_style"`
}

// EndpointConfig is one side of the exchange.
type EndpointConfig struct {
	RemoteDir string `mapstructure:"remote_dir" toml:"remote_dir"`
	LocalDir  string `mapstructure:"local_dir" toml:"local_dir"`
	FileName  string `mapstructure:"file_name" toml:"file_name"`
}

type SecretConfig struct {
	KeyPath string `mapstructure:"key_path" toml:"key_path"`
}

type ShutdownConfig struct {
	GraceMS int64 `mapstructure:"grace_ms" toml:"grace_ms"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" toml:"level"`
	// Format: console, json or auto (console on a terminal, json otherwise)
	Format string `mapstructure:"format" toml:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs []string `mapstructure:"outputs" toml:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation" toml:"rotation"`
	Development bool           `mapstructure:"development" toml:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable" toml:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" toml:"max_age_days"`
	Compress   bool `mapstructure:"compress" toml:"compress"`
}

// RequiredKeys have no default and must come from the file or environment.
var RequiredKeys = []string{
	"polling.enabled",
	"polling.interval_ms",
	"retry.max_count",
	"retry.interval_ms",
	"session.host",
	"session.user",
	"session.auth_type",
	"session.connect_timeout_sec",
	"session.transfer_timeout_sec",
	"inbound.remote_dir",
	"inbound.local_dir",
	"inbound.file_name",
	"outbound.remote_dir",
	"outbound.local_dir",
	"outbound.file_name",
}

// optionalKeys are bound for environment overrides even without a default.
var optionalKeys = []string{
	"session.password",
	"session.private_key_path",
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".config", "handoff")

	v.SetDefault("session.protocol", "sftp")
	v.SetDefault("session.port", 0)
	v.SetDefault("session.keepalive_sec", 30)
	v.SetDefault("session.host_key.policy", "insecure")
	v.SetDefault("session.host_key.known_hosts_path", filepath.Join(home, ".ssh", "known_hosts"))
	v.SetDefault("session.host_key.pin_store_path", filepath.Join(stateDir, "hostkeys.db"))
	v.SetDefault("session.s3.region", "")
	v.SetDefault("session.s3.bucket", "")
	v.SetDefault("session.s3.use_path_style", false)
	v.SetDefault("secret.key_path", filepath.Join(stateDir, "secret.key"))
	v.SetDefault("shutdown.grace_ms", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.outputs", []string{"stdout"})
	v.SetDefault("log.development", false)
	v.SetDefault("log.rotation.enable", false)
	v.SetDefault("log.rotation.max_size_mb", 50)
	v.SetDefault("log.rotation.max_backups", 3)
	v.SetDefault("log.rotation.max_age_days", 28)
	v.SetDefault("log.rotation.compress", true)
}

// MissingKeyError names the first required key that was not set.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("required setting %q is missing (set it in the config file or as %s)", e.Key, EnvName(e.Key))
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load reads configuration from path when non-empty, otherwise from
// $HANDOFF_CONFIG, ./handoff.toml or ~/.config/handoff/handoff.toml, in that
// order. A missing file is not an error by itself; the required key check
// reports what is absent.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// env-only keys are invisible to Unmarshal unless bound
	for _, key := range append(append([]string{}, RequiredKeys...), optionalKeys...) {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path == "" {
		path = os.Getenv(configEnvVar)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configBaseName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "handoff"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for _, key := range RequiredKeys {
		if !v.IsSet(key) {
			return nil, &MissingKeyError{Key: key}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	s.File = v.ConfigFileUsed()

	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) normalize() {
	s.Session.Protocol = strings.ToLower(strings.TrimSpace(s.Session.Protocol))
	s.Session.AuthType = strings.ToLower(strings.TrimSpace(s.Session.AuthType))
	s.Session.HostKey.Policy = strings.ToLower(strings.TrimSpace(s.Session.HostKey.Policy))
	s.Log.Level = strings.ToLower(strings.TrimSpace(s.Log.Level))
	s.Log.Format = strings.ToLower(strings.TrimSpace(s.Log.Format))
	if s.Log.Format == "" {
		s.Log.Format = "auto"
	}
	if len(s.Log.Outputs) == 0 {
		s.Log.Outputs = []string{"stdout"}
	}

	for _, p := range []*string{
		&s.Session.PrivateKeyPath,
		&s.Session.HostKey.KnownHostsPath,
		&s.Session.HostKey.PinStorePath,
		&s.Secret.KeyPath,
		&s.Inbound.LocalDir,
		&s.Outbound.LocalDir,
	} {
		*p = ExpandHome(*p)
	}
	for i := range s.Log.Outputs {
		s.Log.Outputs[i] = ExpandHome(s.Log.Outputs[i])
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func (s *Settings) PollInterval() time.Duration {
	return time.Duration(s.Polling.IntervalMS) * time.Millisecond
}

func (s *Settings) RetryInterval() time.Duration {
	return time.Duration(s.Retry.IntervalMS) * time.Millisecond
}

func (s *Settings) ShutdownGrace() time.Duration {
	return time.Duration(s.Shutdown.GraceMS) * time.Millisecond
}
