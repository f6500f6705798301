package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"

	"github.com/jlaffaye/ftp"
)

const ftpDefaultPort = 21

type FTPConnectorFactory struct{}

func (f *FTPConnectorFactory) Accept(protocol string) bool {
	return protocol == "ftp"
}

func (f *FTPConnectorFactory) Create(s Session) (Connector, error) {
	return NewFTPConnector(s)
}

func (f *FTPConnectorFactory) Name() string {
	return "ftp"
}

type FTPConnector struct {
	client *ftp.ServerConn
	creds  *Credentials
	closed bool
}

func NewFTPConnector(s Session) (*FTPConnector, error) {
	if s.Auth != AuthPassword {
		return nil, wrapError("ftp", "connect", "", fmt.Errorf("auth type %q is not supported over ftp", s.Auth))
	}

	connectTimeout := atLeast(s.ConnectTimeout, timeoutFloor)
	transferTimeout := atLeast(s.TransferTimeout, timeoutFloor)
	// Control and data connections both go through dial.
	dial := func(network, address string) (net.Conn, error) {
		conn, err := net.DialTimeout(network, address, connectTimeout)
		if err != nil {
			return nil, err
		}
		return newDeadlineConn(conn, transferTimeout), nil
	}

	c, err := ftp.Dial(s.Addr(ftpDefaultPort), ftp.DialWithDialFunc(dial))
	if err != nil {
		return nil, wrapError("ftp", "connect", "", err)
	}

	creds := newCredentials(s.User, s.Password)
	if err := c.Login(creds.username, string(creds.password)); err != nil {
		c.Quit() // Close connection on login failure
		creds.Clear()
		return nil, wrapError("ftp", "login", "", err)
	}

	return &FTPConnector{client: c, creds: creds}, nil
}

func isFileUnavailable(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable
}

func (f *FTPConnector) Exists(path string) (bool, error) {
	_, err := f.client.FileSize(path)
	if err == nil {
		return true, nil
	}
	if isFileUnavailable(err) {
		return false, nil
	}
	return false, wrapError("ftp", "size", path, err)
}

func (f *FTPConnector) Download(path string, w io.Writer) error {
	r, err := f.client.Retr(path)
	if err != nil {
		return wrapError("ftp", "retr", path, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		r.Close()
		return wrapError("ftp", "download", path, err)
	}
	return wrapError("ftp", "download", path, r.Close())
}

func (f *FTPConnector) Upload(r io.Reader, path string, overwrite bool) error {
	if !overwrite {
		exists, err := f.Exists(path)
		if err != nil {
			return err
		}
		if exists {
			return wrapError("ftp", "stor", path, fmt.Errorf("remote file exists and overwrite is disabled"))
		}
	}
	return wrapError("ftp", "stor", path, f.client.Stor(path, r))
}

func (f *FTPConnector) Delete(path string) error {
	return wrapError("ftp", "delete", path, f.client.Delete(path))
}

func (f *FTPConnector) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.creds != nil {
		f.creds.Clear()
	}
	return wrapError("ftp", "quit", "", f.client.Quit())
}
