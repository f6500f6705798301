package agent

import (
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yarkm13/handoff/internal/exchange"
	"github.com/yarkm13/handoff/internal/transport"
)

// emptyConn is a remote side with nothing to download.
type emptyConn struct {
	f *countingFactory
}

func (c *emptyConn) Exists(string) (bool, error) {
	if c.f.existsPanic != "" {
		panic(c.f.existsPanic)
	}
	return false, nil
}

func (c *emptyConn) Download(string, io.Writer) error     { return nil }
func (c *emptyConn) Upload(io.Reader, string, bool) error { return nil }
func (c *emptyConn) Delete(string) error                  { return nil }
func (c *emptyConn) Close() error                         { c.f.closed(); return nil }

type countingFactory struct {
	mu          sync.Mutex
	creates     int
	open        int
	overlap     bool
	err         error
	panicMsg    string
	existsPanic string
	created     chan struct{}
}

func (f *countingFactory) Create(transport.Session) (transport.Connector, error) {
	f.mu.Lock()
	f.creates++
	if f.open > 0 {
		f.overlap = true
	}
	f.mu.Unlock()
	if f.created != nil {
		select {
		case f.created <- struct{}{}:
		default:
		}
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.open++
	f.mu.Unlock()
	return &emptyConn{f: f}, nil
}

func (f *countingFactory) closed() {
	f.mu.Lock()
	f.open--
	f.mu.Unlock()
}

func (f *countingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func testOptions(t *testing.T) Options {
	root := t.TempDir()
	return Options{
		PollInterval:  time.Hour,
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
		Session:       transport.Session{Protocol: "sftp", Host: "sftp.example.com"},
		Inbound:       exchange.Endpoint{RemoteDir: "/outbox", LocalDir: filepath.Join(root, "in"), FileName: "recv.zip"},
		Outbound:      exchange.Endpoint{RemoteDir: "/inbox", LocalDir: filepath.Join(root, "out"), FileName: "download.complete"},
	}
}

func TestRunOncePerformsSingleExchange(t *testing.T) {
	f := &countingFactory{}
	a := New(testOptions(t), f, nil)

	if err := a.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.count() != 1 {
		t.Fatalf("creates = %d; want 1", f.count())
	}
	if a.State() != StateTerminated {
		t.Fatalf("state = %v", a.State())
	}
}

func TestRunOnceRetriesConnectFaults(t *testing.T) {
	f := &countingFactory{err: errors.New("connection refused")}
	core, logs := observer.New(zapcore.ErrorLevel)
	a := New(testOptions(t), f, zap.New(core))

	if err := a.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.count() != 3 {
		t.Fatalf("creates = %d; want 3", f.count())
	}
	if logs.FilterMessage("retry budget exhausted").Len() != 1 {
		t.Fatal("expected exhausted budget to be logged")
	}
}

func TestPollingStopsPromptly(t *testing.T) {
	f := &countingFactory{created: make(chan struct{}, 1)}
	opts := testOptions(t)
	opts.PollingEnabled = true
	a := New(opts, f, nil)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	select {
	case <-f.created:
	case <-time.After(5 * time.Second):
		t.Fatal("first attempt never started")
	}
	a.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if f.count() != 1 {
		t.Fatalf("creates = %d; want 1", f.count())
	}
	if a.State() != StateTerminated {
		t.Fatalf("state = %v", a.State())
	}
}

func TestPollingRunsSequentialAttempts(t *testing.T) {
	f := &countingFactory{}
	opts := testOptions(t)
	opts.PollingEnabled = true
	opts.PollInterval = time.Millisecond
	a := New(opts, f, nil)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	deadline := time.Now().Add(5 * time.Second)
	for f.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	a.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creates < 5 {
		t.Fatalf("creates = %d; want at least 5", f.creates)
	}
	if f.overlap || f.open != 0 {
		t.Fatalf("attempts overlapped (overlap=%v open=%d)", f.overlap, f.open)
	}
}

func TestPanickingAttemptIsRetried(t *testing.T) {
	f := &countingFactory{panicMsg: "nil map write"}
	core, logs := observer.New(zapcore.ErrorLevel)
	a := New(testOptions(t), f, zap.New(core))

	if err := a.Run(); err != nil {
		t.Fatalf("Run = %v; want nil", err)
	}
	if f.count() != 3 {
		t.Fatalf("creates = %d; want 3", f.count())
	}
	faults := logs.FilterField(zap.String("event", "attempt_fault")).All()
	if len(faults) != 3 {
		t.Fatalf("attempt_fault entries = %d; want 3", len(faults))
	}
	for i, e := range faults {
		if got := e.ContextMap()["attempt"]; got != int64(i+1) {
			t.Fatalf("entry %d logged attempt %v", i, got)
		}
		if _, ok := e.ContextMap()["stack"]; !ok {
			t.Fatalf("entry %d has no stack", i)
		}
	}
	if logs.FilterField(zap.String("event", "scheduler_fault")).Len() != 0 {
		t.Fatal("attempt panic must not end the loop")
	}
}

func TestPanickingConnectorKeepsPolling(t *testing.T) {
	f := &countingFactory{existsPanic: "malformed server reply"}
	opts := testOptions(t)
	opts.PollingEnabled = true
	opts.PollInterval = time.Millisecond
	a := New(opts, f, nil)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	want := 2 * (opts.MaxRetries + 1)
	deadline := time.Now().Add(5 * time.Second)
	for f.count() < want && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	a.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v; want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creates < want {
		t.Fatalf("creates = %d; want at least %d", f.creates, want)
	}
	if f.open != 0 {
		t.Fatalf("%d transports left open after panics", f.open)
	}
}

func TestLoopFaultTerminatesRun(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core, zap.Hooks(func(e zapcore.Entry) error {
		if e.Message == "exchange completed" {
			panic("broken sink")
		}
		return nil
	}))
	f := &countingFactory{}
	opts := testOptions(t)
	opts.PollingEnabled = true
	opts.PollInterval = time.Millisecond
	a := New(opts, f, logger)

	err := a.Run()
	if !errors.Is(err, ErrUnexpectedFault) {
		t.Fatalf("Run = %v; want ErrUnexpectedFault", err)
	}
	if f.count() != 1 {
		t.Fatalf("creates = %d; want 1", f.count())
	}
	if a.State() != StateTerminated {
		t.Fatalf("state = %v", a.State())
	}
	if logs.FilterField(zap.String("event", "scheduler_fault")).Len() != 1 {
		t.Fatal("expected one scheduler_fault entry")
	}
}

func TestStopDuringRetryWait(t *testing.T) {
	f := &countingFactory{err: errors.New("connection refused"), created: make(chan struct{}, 1)}
	opts := testOptions(t)
	opts.RetryInterval = time.Hour
	a := New(opts, f, nil)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	select {
	case <-f.created:
	case <-time.After(5 * time.Second):
		t.Fatal("first attempt never started")
	}
	a.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return while waiting to retry")
	}
	if f.count() != 1 {
		t.Fatalf("creates = %d; want 1", f.count())
	}
}

func TestSecondRunIsRefused(t *testing.T) {
	a := New(testOptions(t), &countingFactory{}, nil)
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	if err := a.Run(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Run = %v", err)
	}
}

func TestStopBeforeRunSkipsExchange(t *testing.T) {
	f := &countingFactory{}
	a := New(testOptions(t), f, nil)
	a.Stop()
	a.Stop()

	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	if f.count() != 0 {
		t.Fatalf("creates = %d; want 0", f.count())
	}
}

func TestStopSignalSleep(t *testing.T) {
	s := NewStopSignal()
	if !s.Sleep(time.Millisecond) {
		t.Fatal("uninterrupted sleep reported a stop")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Request()
	}()
	start := time.Now()
	if s.Sleep(time.Hour) {
		t.Fatal("interrupted sleep reported completion")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("sleep was not interrupted promptly")
	}

	s.Request()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
	if s.Sleep(0) {
		t.Fatal("sleep after stop must report false")
	}
}
