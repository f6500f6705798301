// Package retry repeats an exchange attempt a bounded number of times with a
// fixed, interruptible pause between tries.
package retry

import (
	"time"

	"go.uber.org/zap"

	"github.com/yarkm13/handoff/internal/attempt"
)

// Stopper is the part of the stop signal the policy needs.
type Stopper interface {
	Requested() bool
	// Sleep waits d and returns false when a stop interrupted the wait.
	Sleep(d time.Duration) bool
}

// Policy retries an operation up to MaxRetries times after the first try.
type Policy struct {
	MaxRetries int
	Interval   time.Duration
	Stop       Stopper
	Logger     *zap.Logger
}

// InitialTries is the number of tries made before the retry budget is
// touched. The retry boundary is TotalAttempts(n) = n + InitialTries.
const InitialTries = 1

// TotalAttempts is the number of tries made for a given retry budget. A
// negative budget counts as zero.
func TotalAttempts(maxRetries int) int {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return maxRetries + InitialTries
}

// Do runs op until it reports Success, the budget is spent or a stop is
// requested. Attempt numbers passed to op start at 1. It returns true only
// when op succeeded.
func (p Policy) Do(op func(n int) attempt.Outcome) bool {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	total := TotalAttempts(p.MaxRetries)

	for n := 1; n <= total; n++ {
		if p.stopRequested() {
			logger.Info("stop requested, abandoning retries", zap.Int("attempt", n))
			return false
		}

		out := op(n)
		switch out.Kind() {
		case attempt.KindSuccess:
			return true
		case attempt.KindRetryable:
			logger.Warn("attempt not completed, will retry",
				zap.Int("attempt", n), zap.Int("of", total), zap.String("reason", out.Reason()))
		default:
			logger.Error("attempt failed",
				zap.Int("attempt", n), zap.Int("of", total), zap.Error(out.Err()))
		}

		if n == total {
			break
		}
		if !p.sleep(p.Interval) {
			logger.Info("stop requested during retry wait", zap.Int("attempt", n))
			return false
		}
	}

	logger.Error("retry budget exhausted", zap.Int("attempts", total))
	return false
}

func (p Policy) stopRequested() bool {
	return p.Stop != nil && p.Stop.Requested()
}

func (p Policy) sleep(d time.Duration) bool {
	if p.Stop != nil {
		return p.Stop.Sleep(d)
	}
	if d > 0 {
		time.Sleep(d)
	}
	return true
}
