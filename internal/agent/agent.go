// Package agent runs the exchange on a schedule until it is told to stop.
package agent

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yarkm13/handoff/internal/attempt"
	"github.com/yarkm13/handoff/internal/exchange"
	"github.com/yarkm13/handoff/internal/retry"
	"github.com/yarkm13/handoff/internal/transport"
)

var (
	ErrAlreadyStarted = errors.New("agent already started")
	// ErrUnexpectedFault wraps a recovered panic. Inside an attempt it is a
	// retried fault; in the scheduling loop itself it ends Run.
	ErrUnexpectedFault = errors.New("unexpected fault in exchange loop")
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options is the scheduling and exchange setup for one agent.
type Options struct {
	PollingEnabled bool
	PollInterval   time.Duration
	MaxRetries     int
	RetryInterval  time.Duration

	Session  transport.Session
	Inbound  exchange.Endpoint
	Outbound exchange.Endpoint
}

type Agent struct {
	opts    Options
	factory transport.Factory
	stop    *StopSignal
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	started bool
}

func New(opts Options, factory transport.Factory, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		opts:    opts,
		factory: factory,
		stop:    NewStopSignal(),
		logger:  logger,
	}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Stop asks the loop to finish. An attempt that is already transferring runs
// to completion; only the waits are interrupted.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.state == StateRunning {
		a.state = StateStopping
	}
	a.mu.Unlock()
	a.stop.Request()
}

// Run blocks until the schedule ends: after one iteration when polling is
// disabled, otherwise until Stop. It can be called once per Agent.
func (a *Agent) Run() (err error) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.state = StateRunning
	if a.stop.Requested() {
		a.state = StateStopping
	}
	a.mu.Unlock()

	defer a.setState(StateTerminated)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("exchange loop terminated by unexpected fault",
				zap.String("event", "scheduler_fault"),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrUnexpectedFault, r)
		}
	}()

	policy := retry.Policy{
		MaxRetries: a.opts.MaxRetries,
		Interval:   a.opts.RetryInterval,
		Stop:       a.stop,
		Logger:     a.logger.Named("retry"),
	}

	a.logger.Info("agent started",
		zap.Bool("polling", a.opts.PollingEnabled),
		zap.Duration("interval", a.opts.PollInterval),
		zap.Int("max_attempts", retry.TotalAttempts(a.opts.MaxRetries)))

	for !a.stop.Requested() {
		if policy.Do(a.runAttempt) {
			a.logger.Info("exchange completed")
		} else if !a.stop.Requested() {
			a.logger.Error("exchange did not complete")
		}

		if !a.opts.PollingEnabled {
			break
		}
		if !a.stop.Sleep(a.opts.PollInterval) {
			break
		}
	}

	a.logger.Info("agent stopped")
	return nil
}

// runAttempt opens a transport, runs one exchange and closes the transport
// before returning, so attempts never overlap. A panic from a connector or
// the exchange becomes a Fault outcome and is left to the retry budget.
func (a *Agent) runAttempt(n int) (out attempt.Outcome) {
	log := a.logger.With(zap.String("attempt_id", uuid.NewString()), zap.Int("attempt", n))
	defer func() {
		if r := recover(); r != nil {
			log.Error("attempt aborted by unexpected fault",
				zap.String("event", "attempt_fault"),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			out = attempt.Fault(fmt.Errorf("%w: %v", ErrUnexpectedFault, r))
		}
	}()
	log.Debug("connecting", zap.String("protocol", a.opts.Session.Protocol), zap.String("host", a.opts.Session.Host))

	conn, err := a.factory.Create(a.opts.Session)
	if err != nil {
		return attempt.Fault(err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warn("failed to close transport", zap.Error(err))
		}
	}()

	out = exchange.New(log.Named("exchange")).Run(conn, a.opts.Inbound, a.opts.Outbound)
	log.Debug("attempt finished", zap.Stringer("outcome", out))
	return out
}
