// Package attempt defines the tagged result of one exchange attempt or phase.
package attempt

import "fmt"

// Kind classifies an Outcome.
type Kind int

const (
	// KindSuccess means there was no work or all work completed.
	KindSuccess Kind = iota
	// KindRetryable is a recoverable "not yet" condition, such as a local
	// file still held by its producer. It is not an error-class fault.
	KindRetryable
	// KindFault carries the error that failed the attempt.
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindFault:
		return "fault"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is returned by a phase or an attempt. The zero value is Success.
type Outcome struct {
	kind   Kind
	reason string
	err    error
}

// Success reports a completed (or no-op) attempt.
func Success() Outcome { return Outcome{kind: KindSuccess} }

// Retryable reports a condition that should be tried again later.
func Retryable(reason string) Outcome {
	return Outcome{kind: KindRetryable, reason: reason}
}

// Fault wraps err as a failed attempt. A nil err yields Success.
func Fault(err error) Outcome {
	if err == nil {
		return Success()
	}
	return Outcome{kind: KindFault, err: err}
}

func (o Outcome) Kind() Kind { return o.kind }

// OK reports whether the outcome is Success.
func (o Outcome) OK() bool { return o.kind == KindSuccess }

// Err returns the fault detail, or nil for non-fault outcomes.
func (o Outcome) Err() error { return o.err }

// Reason returns the retryable reason, if any.
func (o Outcome) Reason() string { return o.reason }

func (o Outcome) String() string {
	switch o.kind {
	case KindRetryable:
		return "retryable: " + o.reason
	case KindFault:
		return "fault: " + o.err.Error()
	default:
		return o.kind.String()
	}
}
