// Package exchange runs one GET-then-PUT exchange over an open transport.
//
// GET fetches the inbound archive into a temp file and swaps it over the final
// path only once it is complete; the remote copy is removed afterwards. PUT
// uploads the outbound file unless a producer still holds a lock on it, and
// removes the local copy after the upload succeeded. Every fault is turned into
// an attempt.Outcome here, no error leaves Run.
package exchange

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/yarkm13/handoff/internal/attempt"
	"github.com/yarkm13/handoff/internal/fileutil"
	"github.com/yarkm13/handoff/internal/transport"
)

// Endpoint names one side of the exchange.
type Endpoint struct {
	RemoteDir string
	LocalDir  string
	FileName  string
}

func (e Endpoint) RemotePath() string { return fileutil.JoinPath(e.RemoteDir, e.FileName) }
func (e Endpoint) LocalPath() string  { return fileutil.JoinPath(e.LocalDir, e.FileName) }

// ReasonFileLocked is the retryable reason reported when the outbound file is
// still held by its producer.
const ReasonFileLocked = "file locked"

type Protocol struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Protocol {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Protocol{logger: logger}
}

// Run executes GET and, if it succeeded, PUT.
func (p *Protocol) Run(conn transport.Connector, inbound, outbound Endpoint) attempt.Outcome {
	if out := p.get(conn, inbound); !out.OK() {
		return out
	}
	return p.put(conn, outbound)
}

func (p *Protocol) get(conn transport.Connector, ep Endpoint) attempt.Outcome {
	if err := fileutil.EnsureDir(ep.LocalDir); err != nil {
		return attempt.Fault(fmt.Errorf("get: %w", err))
	}

	remote, local := ep.RemotePath(), ep.LocalPath()
	log := p.logger.With(zap.String("phase", "get"), zap.String("remote", remote), zap.String("local", local))

	exists, err := conn.Exists(remote)
	if err != nil {
		return attempt.Fault(fmt.Errorf("get: %w", err))
	}
	if !exists {
		log.Debug("nothing to download")
		return attempt.Success()
	}

	log.Info("downloading")
	if err := download(conn, remote, local); err != nil {
		return attempt.Fault(fmt.Errorf("get: %w", err))
	}
	log.Info("download complete")

	if err := conn.Delete(remote); err != nil {
		log.Warn("failed to delete remote file after download", zap.Error(err))
	}
	return attempt.Success()
}

// download writes remote into the temp path beside local and renames it over
// local once synced. On failure the temp file is removed and local is left as
// it was.
func download(conn transport.Connector, remote, local string) (err error) {
	tmp := fileutil.TempPath(local)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_, _ = fileutil.RemoveIfExists(tmp)
		}
	}()

	if err = conn.Download(remote, f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return fileutil.ReplaceFile(tmp, local)
}

func (p *Protocol) put(conn transport.Connector, ep Endpoint) attempt.Outcome {
	if err := fileutil.EnsureDir(ep.LocalDir); err != nil {
		return attempt.Fault(fmt.Errorf("put: %w", err))
	}

	remote, local := ep.RemotePath(), ep.LocalPath()
	log := p.logger.With(zap.String("phase", "put"), zap.String("remote", remote), zap.String("local", local))

	exists, err := fileutil.Exists(local)
	if err != nil {
		return attempt.Fault(fmt.Errorf("put: %w", err))
	}
	if !exists {
		log.Debug("nothing to upload")
		return attempt.Success()
	}

	release, err := fileutil.LockExclusive(local)
	if errors.Is(err, fileutil.ErrLocked) {
		return attempt.Retryable(ReasonFileLocked)
	}
	if err != nil {
		return attempt.Fault(fmt.Errorf("put: %w", err))
	}

	log.Info("uploading")
	if err := upload(conn, local, remote); err != nil {
		release()
		return attempt.Fault(fmt.Errorf("put: %w", err))
	}
	release()
	log.Info("upload complete")

	if _, err := fileutil.RemoveIfExists(local); err != nil {
		log.Warn("failed to delete local file after upload", zap.Error(err))
	}
	return attempt.Success()
}

func upload(conn transport.Connector, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer f.Close()
	return conn.Upload(f, remote, true)
}
