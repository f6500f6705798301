package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/yarkm13/handoff/internal/secret"
	"github.com/yarkm13/handoff/internal/transport"
)

// ErrNoSecret is returned by ResolveSession when the password resolves to
// nothing.
var ErrNoSecret = errors.New("resolved password is empty")

// ResolveSession builds the transport session, opening a sealed password
// with the configured key. The caller owns the returned Password slice and
// should wipe it once the agent has finished.
func (s *Settings) ResolveSession() (transport.Session, error) {
	sess := s.Session

	var password []byte
	if sess.Password != "" {
		p, err := secret.Resolve(sess.Password, s.Secret.KeyPath)
		if err != nil {
			return transport.Session{}, fmt.Errorf("session.password: %w", err)
		}
		if len(p) == 0 && transport.AuthType(sess.AuthType) == transport.AuthPassword {
			return transport.Session{}, ErrNoSecret
		}
		password = p
	}

	return transport.Session{
		Protocol:        sess.Protocol,
		Host:            sess.Host,
		Port:            sess.Port,
		User:            sess.User,
		Auth:            transport.AuthType(sess.AuthType),
		Password:        password,
		PrivateKeyPath:  sess.PrivateKeyPath,
		ConnectTimeout:  time.Duration(sess.ConnectTimeoutSec) * time.Second,
		TransferTimeout: time.Duration(sess.TransferTimeoutSec) * time.Second,
		KeepAlive:       time.Duration(sess.KeepAliveSec) * time.Second,
		HostKey: transport.HostKeyConfig{
			Policy:         transport.HostKeyPolicy(sess.HostKey.Policy),
			KnownHostsPath: sess.HostKey.KnownHostsPath,
			PinStorePath:   sess.HostKey.PinStorePath,
		},
		S3: transport.S3Options{
			Region:       sess.S3.Region,
			Bucket:       sess.S3.Bucket,
			UsePathStyle: sess.S3.UsePathStyle,
		},
	}, nil
}
