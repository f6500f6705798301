package transport

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Connector is an opened, authenticated session against a remote path
// namespace. Connecting happens in ConnectorFactory.Create. Every error a
// Connector returns is an *Error.
type Connector interface {
	Exists(path string) (bool, error)
	Download(path string, w io.Writer) error
	Upload(r io.Reader, path string, overwrite bool) error
	Delete(path string) error
	Close() error
}

// Factory opens a Connector for one exchange attempt.
type Factory interface {
	Create(s Session) (Connector, error)
}

// ConnectorFactory is a Factory bound to one protocol.
type ConnectorFactory interface {
	Accept(protocol string) bool
	Create(s Session) (Connector, error)
	Name() string
}

type AuthType string

const (
	AuthPassword   AuthType = "password"
	AuthPrivateKey AuthType = "private_key"
)

type HostKeyPolicy string

const (
	// HostKeyInsecure accepts any host key and logs a warning.
	HostKeyInsecure HostKeyPolicy = "insecure"
	// HostKeyKnownHosts checks an OpenSSH known_hosts file.
	HostKeyKnownHosts HostKeyPolicy = "known_hosts"
	// HostKeyPinned trusts the first key seen for a host and rejects changes.
	HostKeyPinned HostKeyPolicy = "pinned"
)

type HostKeyConfig struct {
	Policy         HostKeyPolicy
	KnownHostsPath string
	PinStorePath   string
}

type S3Options struct {
	Region       string
	Bucket       string
	UsePathStyle bool
}

// Session holds fully resolved connection parameters. Password is the
// plaintext secret (or private key passphrase); factories copy it and never
// keep a reference to the caller's slice.
type Session struct {
	Protocol        string
	Host            string
	Port            int
	User            string
	Auth            AuthType
	Password        []byte
	PrivateKeyPath  string
	ConnectTimeout  time.Duration
	TransferTimeout time.Duration
	KeepAlive       time.Duration
	HostKey         HostKeyConfig
	S3              S3Options
}

// Addr returns host:port, using defaultPort when Port is not positive.
func (s Session) Addr(defaultPort int) string {
	port := s.Port
	if port <= 0 {
		port = defaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// Error is the single fault type surfaced by connectors, covering connect,
// authentication, timeout and transfer failures.
type Error struct {
	Protocol string
	Op       string
	Path     string
	Err      error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s %s: %v", e.Protocol, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Protocol, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapError(protocol, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Protocol: protocol, Op: op, Path: path, Err: err}
}

func atLeast(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}
