package workpool

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull  = errors.New("workpool: queue is full")
	ErrPoolClosed = errors.New("workpool: pool is shut down")
)

// Job is one unit of work. It is called once per attempt.
type Job func(ctx context.Context) (any, error)

// CompletionContext is carried unchanged from Enqueue to the completion callback.
type CompletionContext struct {
	DispatchId int
}

type ResultKind string

const (
	ResultSuccess  ResultKind = "success"
	ResultFailed   ResultKind = "failed"
	ResultCanceled ResultKind = "canceled"
)

// Result is the terminal outcome of a job.
type Result struct {
	Kind        ResultKind
	ReturnValue any
	Err         error
	Attempts    int
}

// ErrorMessage is the failure reason, empty on success.
func (r Result) ErrorMessage() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	switch r.Kind {
	case ResultFailed:
		return "delivery failed"
	case ResultCanceled:
		return "canceled"
	case ResultSuccess:
		return ""
	}
	return ""
}

// OnComplete is invoked exactly once per accepted job.
type OnComplete func(ctx context.Context, cc CompletionContext, result Result)

// RetryPolicy bounds the attempts of a single job. Attempt n+1 waits
// InitialBackoff * Base^(n-1), capped at MaxBackoff when set.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Base           float64
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy waits 2s, 4s and 8s between four attempts.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    4,
	InitialBackoff: 2 * time.Second,
	Base:           2,
	MaxBackoff:     time.Minute,
}

// NoRetry runs a job exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) IsZero() bool {
	return p == RetryPolicy{}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultRetryPolicy.InitialBackoff
	}
	if p.Base < 1 {
		p.Base = DefaultRetryPolicy.Base
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultRetryPolicy.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Delays lists the waits between consecutive attempts under p.
func (p RetryPolicy) Delays() []time.Duration {
	p = p.normalized()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	next := float64(p.InitialBackoff)
	for i := 1; i < p.MaxAttempts; i++ {
		d := time.Duration(next)
		if d > p.MaxBackoff {
			d = p.MaxBackoff
		}
		delays = append(delays, d)
		next *= p.Base
	}
	return delays
}
