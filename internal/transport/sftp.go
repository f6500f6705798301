package transport

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const (
	sftpDefaultPort  = 22
	defaultKeepAlive = 30 * time.Second
	keepAliveRequest = "keepalive@openssh.com"
	timeoutFloor     = time.Second
)

type SFTPConnectorFactory struct {
	Logger *zap.Logger
}

func (f *SFTPConnectorFactory) Accept(protocol string) bool { return protocol == "sftp" }

func (f *SFTPConnectorFactory) Create(s Session) (Connector, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewSFTPConnector(s, logger)
}

func (f *SFTPConnectorFactory) Name() string { return "sftp" }

type SFTPConnector struct {
	client    *sftp.Client
	conn      io.Closer
	creds     *Credentials
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewSFTPConnector dials s.Host, authenticates and opens an SFTP subsystem.
// The connect timeout bounds the TCP dial and the SSH handshake; afterwards
// every network read or write is bounded by the transfer timeout.
func NewSFTPConnector(s Session, logger *zap.Logger) (*SFTPConnector, error) {
	creds := newCredentials(s.User, s.Password)

	sc, err := dialSFTP(s, creds, logger)
	if err != nil {
		creds.Clear()
		return nil, wrapError("sftp", "connect", "", err)
	}
	return sc, nil
}

func dialSFTP(s Session, creds *Credentials, logger *zap.Logger) (*SFTPConnector, error) {
	auth, err := sshAuthMethods(s.Auth, s.PrivateKeyPath, creds.password)
	if err != nil {
		return nil, err
	}

	hostKeyCB, release, err := hostKeyCallback(s.HostKey, logger)
	if err != nil {
		return nil, err
	}
	defer release()

	connectTimeout := atLeast(s.ConnectTimeout, timeoutFloor)
	transferTimeout := atLeast(s.TransferTimeout, timeoutFloor)
	addr := s.Addr(sftpDefaultPort)

	raw, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	conn := newDeadlineConn(raw, connectTimeout)

	config := &ssh.ClientConfig{
		User:            creds.username,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         connectTimeout,
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to establish ssh session: %w", err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)
	conn.setTimeout(transferTimeout)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}

	sc := newSFTPConnector(client, sshClient, creds, logger)
	go sc.keepAlive(sshClient, keepAliveInterval(s.KeepAlive, transferTimeout))
	return sc, nil
}

func newSFTPConnector(client *sftp.Client, conn io.Closer, creds *Credentials, logger *zap.Logger) *SFTPConnector {
	return &SFTPConnector{
		client: client,
		conn:   conn,
		creds:  creds,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// keepAliveInterval keeps the idle ssh read loop inside the transfer timeout.
func keepAliveInterval(configured, transferTimeout time.Duration) time.Duration {
	interval := configured
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	if half := transferTimeout / 2; half > 0 && interval > half {
		interval = half
	}
	return interval
}

func sshAuthMethods(auth AuthType, keyPath string, secret []byte) ([]ssh.AuthMethod, error) {
	switch auth {
	case AuthPassword:
		if len(secret) == 0 {
			return nil, errors.New("password is empty for password auth")
		}
		password := string(secret)
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(password), ssh.KeyboardInteractive(answer)}, nil

	case AuthPrivateKey:
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			if len(secret) == 0 {
				return nil, fmt.Errorf("private key %q is encrypted and no passphrase is configured", keyPath)
			}
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, secret)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	default:
		return nil, fmt.Errorf("unknown auth type %q", auth)
	}
}

func (s *SFTPConnector) keepAlive(client *ssh.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest(keepAliveRequest, true, nil); err != nil {
				s.logger.Debug("keepalive failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *SFTPConnector) Exists(path string) (bool, error) {
	_, err := s.client.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, wrapError("sftp", "stat", path, err)
}

func (s *SFTPConnector) Download(path string, w io.Writer) error {
	f, err := s.client.Open(path)
	if err != nil {
		return wrapError("sftp", "open", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return wrapError("sftp", "download", path, err)
	}
	return nil
}

func (s *SFTPConnector) Upload(r io.Reader, path string, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}

	f, err := s.client.OpenFile(path, flags)
	if err != nil {
		return wrapError("sftp", "create", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return wrapError("sftp", "upload", path, err)
	}
	return wrapError("sftp", "upload", path, f.Close())
}

func (s *SFTPConnector) Delete(path string) error {
	return wrapError("sftp", "delete", path, s.client.Remove(path))
}

func (s *SFTPConnector) Close() error {
	var result *multierror.Error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.creds != nil {
			s.creds.Clear()
		}
		result = multierror.Append(result, s.client.Close())
		if s.conn != nil {
			result = multierror.Append(result, s.conn.Close())
		}
	})
	return wrapError("sftp", "close", "", result.ErrorOrNil())
}
