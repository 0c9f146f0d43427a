package worker

import "time"

// OutcomeKind classifies a handler run. Retry is decided by the variant,
// not by re-inspecting the error at each call site.
type OutcomeKind int

const (
	// KindOk means the handler returned a value.
	KindOk OutcomeKind = iota
	// KindTransient means the failure may succeed on a later attempt.
	KindTransient
	// KindPermanent means retrying cannot help.
	KindPermanent
)

// Outcome is the explicit result variant of one handler invocation.
type Outcome struct {
	Kind  OutcomeKind
	Value any
	Err   error
}

// Ok wraps a successful handler value.
func Ok(v any) Outcome { return Outcome{Kind: KindOk, Value: v} }

// Transient wraps a retryable failure.
func Transient(err error) Outcome { return Outcome{Kind: KindTransient, Err: err} }

// Permanent wraps a non-retryable failure.
func Permanent(err error) Outcome { return Outcome{Kind: KindPermanent, Err: err} }

// maxRetryDelay caps exponential backoff between redeliveries.
const maxRetryDelay = 3600 * time.Second

// RetryDelay computes the redelivery delay for the given attempt:
// min(base * 2^attempt, 1h).
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}
