package exchange

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yarkm13/handoff/internal/attempt"
	"github.com/yarkm13/handoff/internal/transport"
)

// memConn is an in-memory transport.Connector with per-operation fault hooks.
type memConn struct {
	files map[string][]byte
	calls []string

	existsErr   error
	downloadErr error
	partial     []byte
	uploadErr   error
	deleteErr   error
}

var _ transport.Connector = (*memConn)(nil)

func newMemConn() *memConn { return &memConn{files: map[string][]byte{}} }

func (c *memConn) Exists(path string) (bool, error) {
	c.calls = append(c.calls, "exists "+path)
	if c.existsErr != nil {
		return false, c.existsErr
	}
	_, ok := c.files[path]
	return ok, nil
}

func (c *memConn) Download(path string, w io.Writer) error {
	c.calls = append(c.calls, "download "+path)
	if c.downloadErr != nil {
		_, _ = w.Write(c.partial)
		return c.downloadErr
	}
	_, err := w.Write(c.files[path])
	return err
}

func (c *memConn) Upload(r io.Reader, path string, overwrite bool) error {
	c.calls = append(c.calls, "upload "+path)
	if c.uploadErr != nil {
		return c.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.files[path] = data
	return nil
}

func (c *memConn) Delete(path string) error {
	c.calls = append(c.calls, "delete "+path)
	if c.deleteErr != nil {
		return c.deleteErr
	}
	delete(c.files, path)
	return nil
}

func (c *memConn) Close() error { return nil }

func (c *memConn) called(prefix string) bool {
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

func endpoints(t *testing.T) (Endpoint, Endpoint) {
	t.Helper()
	root := t.TempDir()
	in := Endpoint{RemoteDir: "/outbox", LocalDir: filepath.Join(root, "in"), FileName: "recv.zip"}
	out := Endpoint{RemoteDir: "/inbox/", LocalDir: filepath.Join(root, "out"), FileName: "download.complete"}
	return in, out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRunExchangesBothFiles(t *testing.T) {
	in, out := endpoints(t)
	conn := newMemConn()
	conn.files["/outbox/recv.zip"] = []byte("archive")

	if err := os.MkdirAll(out.LocalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(out.LocalPath(), []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := New(zap.NewNop()).Run(conn, in, out)
	if !res.OK() {
		t.Fatalf("Run = %v", res)
	}

	if got := readFile(t, in.LocalPath()); got != "archive" {
		t.Fatalf("inbound content = %q", got)
	}
	if _, ok := conn.files["/outbox/recv.zip"]; ok {
		t.Fatal("remote inbound file should be deleted")
	}
	if got := string(conn.files["/inbox/download.complete"]); got != "done" {
		t.Fatalf("uploaded content = %q", got)
	}
	if _, err := os.Stat(out.LocalPath()); !os.IsNotExist(err) {
		t.Fatalf("local outbound file should be deleted, stat err = %v", err)
	}
	if _, err := os.Stat(in.LocalPath() + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

func TestRunWithNothingToDoIsSuccess(t *testing.T) {
	in, out := endpoints(t)
	conn := newMemConn()

	for i := 0; i < 2; i++ {
		if res := New(nil).Run(conn, in, out); !res.OK() {
			t.Fatalf("run %d = %v", i, res)
		}
	}
	if conn.called("download") || conn.called("upload") || conn.called("delete") {
		t.Fatalf("unexpected transfer calls: %v", conn.calls)
	}
	for _, dir := range []string{in.LocalDir, out.LocalDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("local dir %s not created: %v", dir, err)
		}
	}
	entries, err := os.ReadDir(in.LocalDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("inbound dir should stay empty, found %s", entries[0].Name())
	}
}

func TestRunIsIdempotentAfterSuccess(t *testing.T) {
	in, out := endpoints(t)
	conn := newMemConn()
	conn.files["/outbox/recv.zip"] = []byte("archive")

	p := New(nil)
	if res := p.Run(conn, in, out); !res.OK() {
		t.Fatalf("first run = %v", res)
	}
	conn.calls = nil
	if res := p.Run(conn, in, out); !res.OK() {
		t.Fatalf("second run = %v", res)
	}
	if conn.called("download") {
		t.Fatal("second run must not download again")
	}
	if got := readFile(t, in.LocalPath()); got != "archive" {
		t.Fatalf("inbound content changed: %q", got)
	}
}

func TestFailedDownloadKeepsPreviousFile(t *testing.T) {
	in, out := endpoints(t)
	if err := os.MkdirAll(in.LocalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(in.LocalPath(), []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}

	conn := newMemConn()
	conn.files["/outbox/recv.zip"] = []byte("archive")
	conn.downloadErr = errors.New("connection reset")
	conn.partial = []byte("arc")

	res := New(nil).Run(conn, in, out)
	if res.Kind() != attempt.KindFault {
		t.Fatalf("Run = %v; want fault", res)
	}
	if !errors.Is(res.Err(), conn.downloadErr) {
		t.Fatalf("fault does not wrap download error: %v", res.Err())
	}
	if got := readFile(t, in.LocalPath()); got != "previous" {
		t.Fatalf("final path modified: %q", got)
	}
	if _, err := os.Stat(in.LocalPath() + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file should be removed after a failed download")
	}
	if _, ok := conn.files["/outbox/recv.zip"]; !ok {
		t.Fatal("remote file must not be deleted after a failed download")
	}
}

func TestGetFaultSkipsPut(t *testing.T) {
	in, out := endpoints(t)
	if err := os.MkdirAll(out.LocalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(out.LocalPath(), []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}

	conn := newMemConn()
	conn.existsErr = errors.New("stat failed")

	if res := New(nil).Run(conn, in, out); res.Kind() != attempt.KindFault {
		t.Fatalf("Run = %v; want fault", res)
	}
	if conn.called("upload") {
		t.Fatal("PUT must not run after a failed GET")
	}
	if got := readFile(t, out.LocalPath()); got != "done" {
		t.Fatalf("outbound file touched: %q", got)
	}
}

func TestLockedOutboundFileIsRetryable(t *testing.T) {
	in, out := endpoints(t)
	if err := os.MkdirAll(out.LocalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(out.LocalPath(), []byte("half"), 0o644); err != nil {
		t.Fatal(err)
	}

	producer := flock.New(out.LocalPath())
	locked, err := producer.TryLock()
	if err != nil || !locked {
		t.Fatalf("producer lock: locked=%v err=%v", locked, err)
	}

	conn := newMemConn()
	p := New(nil)
	res := p.Run(conn, in, out)
	if res.Kind() != attempt.KindRetryable || res.Reason() != ReasonFileLocked {
		t.Fatalf("Run = %v; want retryable %q", res, ReasonFileLocked)
	}
	if conn.called("upload") {
		t.Fatal("locked file must not be uploaded")
	}
	if got := readFile(t, out.LocalPath()); got != "half" {
		t.Fatalf("locked file touched: %q", got)
	}

	if err := producer.Unlock(); err != nil {
		t.Fatal(err)
	}
	if res := p.Run(conn, in, out); !res.OK() {
		t.Fatalf("Run after unlock = %v", res)
	}
	if got := string(conn.files["/inbox/download.complete"]); got != "half" {
		t.Fatalf("uploaded content = %q", got)
	}
}

func TestFailedUploadKeepsLocalFile(t *testing.T) {
	in, out := endpoints(t)
	if err := os.MkdirAll(out.LocalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(out.LocalPath(), []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}

	conn := newMemConn()
	conn.uploadErr = errors.New("quota exceeded")

	if res := New(nil).Run(conn, in, out); res.Kind() != attempt.KindFault {
		t.Fatalf("Run = %v; want fault", res)
	}
	if got := readFile(t, out.LocalPath()); got != "done" {
		t.Fatalf("local file changed after failed upload: %q", got)
	}
}

func TestRemoteDeleteFailureIsOnlyWarning(t *testing.T) {
	in, out := endpoints(t)
	conn := newMemConn()
	conn.files["/outbox/recv.zip"] = []byte("archive")
	conn.deleteErr = errors.New("permission denied")

	core, logs := observer.New(zapcore.WarnLevel)
	res := New(zap.New(core)).Run(conn, in, out)
	if !res.OK() {
		t.Fatalf("Run = %v", res)
	}
	warns := logs.FilterMessage("failed to delete remote file after download")
	if warns.Len() != 1 {
		t.Fatalf("expected one delete warning, got %d", warns.Len())
	}
	fields := warns.All()[0].ContextMap()
	if fields["remote"] != "/outbox/recv.zip" {
		t.Fatalf("warning fields = %v", fields)
	}
	if got := readFile(t, in.LocalPath()); got != "archive" {
		t.Fatalf("inbound content = %q", got)
	}
}

func TestEmptyLocalDirIsFault(t *testing.T) {
	_, out := endpoints(t)
	res := New(nil).Run(newMemConn(), Endpoint{RemoteDir: "/outbox", FileName: "recv.zip"}, out)
	if res.Kind() != attempt.KindFault {
		t.Fatalf("Run = %v; want fault", res)
	}
}

func TestEndpointPaths(t *testing.T) {
	ep := Endpoint{RemoteDir: "/inbox/", LocalDir: `C:\exchange\out`, FileName: "download.complete"}
	if got := ep.RemotePath(); got != "/inbox/download.complete" {
		t.Fatalf("RemotePath = %q", got)
	}
	if got := ep.LocalPath(); got != `C:\exchange\out\download.complete` {
		t.Fatalf("LocalPath = %q", got)
	}
}
