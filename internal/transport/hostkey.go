package transport

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/yarkm13/handoff/internal/hostkeys"
)

type pinVerifier interface {
	Verify(host, keyType, fingerprint string) (bool, error)
}

// hostKeyCallback builds the verification callback for cfg. The returned
// release func must be called once the handshake has finished.
func hostKeyCallback(cfg HostKeyConfig, logger *zap.Logger) (ssh.HostKeyCallback, func(), error) {
	noop := func() {}

	switch cfg.Policy {
	case "", HostKeyInsecure:
		return insecureCallback(logger), noop, nil

	case HostKeyKnownHosts:
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load known_hosts %q: %w", cfg.KnownHostsPath, err)
		}
		return cb, noop, nil

	case HostKeyPinned:
		store, err := hostkeys.Open(cfg.PinStorePath)
		if err != nil {
			return nil, nil, err
		}
		return pinnedCallback(store, logger), func() { _ = store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown host key policy %q", cfg.Policy)
	}
}

func insecureCallback(logger *zap.Logger) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		logger.Warn("host key accepted without verification; consider pinning",
			zap.String("host", hostname),
			zap.String("key_type", key.Type()),
			zap.String("fingerprint", ssh.FingerprintSHA256(key)),
		)
		return nil
	}
}

func pinnedCallback(store pinVerifier, logger *zap.Logger) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		fingerprint := ssh.FingerprintSHA256(key)
		pinned, err := store.Verify(hostname, key.Type(), fingerprint)
		if err != nil {
			return err
		}
		if pinned {
			logger.Info("host key pinned on first use",
				zap.String("host", hostname),
				zap.String("key_type", key.Type()),
				zap.String("fingerprint", fingerprint),
			)
		}
		return nil
	}
}
