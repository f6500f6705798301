package agent

import (
	"sync"
	"sync/atomic"
	"time"
)

// StopSignal is a one-way latch shared by the scheduler and the retry waits.
// The zero value is not usable; use NewStopSignal.
type StopSignal struct {
	flag atomic.Bool
	once sync.Once
	ch   chan struct{}
}

func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Request latches the signal and wakes every waiter. Safe to call repeatedly
// and from any goroutine.
func (s *StopSignal) Request() {
	s.once.Do(func() {
		s.flag.Store(true)
		close(s.ch)
	})
}

func (s *StopSignal) Requested() bool { return s.flag.Load() }

// Done is closed once a stop was requested.
func (s *StopSignal) Done() <-chan struct{} { return s.ch }

// Sleep waits for d or for a stop request, whichever comes first. It reports
// false if the wait was cut short by a stop.
func (s *StopSignal) Sleep(d time.Duration) bool {
	if s.Requested() {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !s.Requested()
	case <-s.ch:
		return false
	}
}
