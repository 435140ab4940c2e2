package workpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultParallelism = 8
	DefaultQueueSize   = 1024
)

type Config struct {
	// Parallelism caps concurrently executing jobs.
	Parallelism int
	// QueueSize bounds accepted jobs waiting for a worker.
	QueueSize int
	// RetryByDefault applies DefaultRetry to jobs enqueued with a zero RetryPolicy.
	RetryByDefault bool
	DefaultRetry   RetryPolicy

	Logger  *logrus.Logger
	Metrics *Metrics
}

type task struct {
	workId        string
	correlationId string
	job           Job
	policy        RetryPolicy
	cc            CompletionContext
	onComplete    OnComplete
}

// Pool runs jobs on a fixed set of workers with per-job retry and
// reports every accepted job exactly once to its completion callback.
type Pool struct {
	Parallelism    int
	RetryByDefault bool
	DefaultRetry   RetryPolicy
	Logger         *logrus.Logger
	Metrics        *Metrics

	queue chan *task

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config) *Pool {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DefaultRetry.IsZero() {
		cfg.DefaultRetry = DefaultRetryPolicy
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		Parallelism:    cfg.Parallelism,
		RetryByDefault: cfg.RetryByDefault,
		DefaultRetry:   cfg.DefaultRetry,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		queue:          make(chan *task, cfg.QueueSize),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the workers. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.Parallelism; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Enqueue accepts job without blocking and returns its work id. It fails
// with ErrQueueFull or ErrPoolClosed, in which case onComplete is never called.
func (p *Pool) Enqueue(ctx context.Context, job Job, policy RetryPolicy, cc CompletionContext, onComplete OnComplete) (string, error) {
	if job == nil {
		return "", errors.New("workpool: job is nil")
	}
	if policy.IsZero() {
		if p.RetryByDefault {
			policy = p.DefaultRetry
		} else {
			policy = NoRetry()
		}
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	t := &task{
		workId:        uuid.NewString(),
		correlationId: correlationId,
		job:           job,
		policy:        policy.normalized(),
		cc:            cc,
		onComplete:    onComplete,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.Metrics.enqueue("closed")
		return "", ErrPoolClosed
	}
	select {
	case p.queue <- t:
		p.Metrics.enqueue("accepted")
		p.Metrics.setQueueDepth(len(p.queue))
		return t.workId, nil
	default:
		p.Metrics.enqueue("full")
		return "", ErrQueueFull
	}
}

// Shutdown stops accepting jobs and cancels running ones. Jobs still queued
// or in backoff are reported as canceled. It waits for the workers until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.cancel()
	// drain whatever was queued even if Start was never called
	p.Start()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workpool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.Metrics.setQueueDepth(len(p.queue))
		p.run(t)
	}
}

func (p *Pool) run(t *task) {
	p.Metrics.addInFlight(1)
	defer p.Metrics.addInFlight(-1)
	start := time.Now()

	ctx := utils.SetWorkIdInContext(p.ctx, t.workId)
	ctx = utils.SetDispatchIdInContext(ctx, t.cc.DispatchId)
	if t.correlationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, t.correlationId)
	}

	var result Result
	if ctx.Err() != nil {
		result = Result{Kind: ResultCanceled, Err: ctx.Err()}
	} else {
		result = p.execute(ctx, t)
	}

	p.Metrics.complete(result.Kind, time.Since(start).Seconds())
	p.complete(context.WithoutCancel(ctx), t, result)
}

func (p *Pool) execute(ctx context.Context, t *task) Result {
	attempts := 0
	operation := func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		attempts++
		v, err := p.attempt(ctx, t)
		if err != nil {
			p.Metrics.attempt("failed")
			if p.Logger != nil {
				p.Logger.WithFields(logrus.Fields{
					"field":        "Workpool",
					"work_id":      t.workId,
					"dispatch_id":  t.cc.DispatchId,
					"attempt":      attempts,
					"max_attempts": t.policy.MaxAttempts,
				}).Warn("job attempt failed: " + err.Error())
			}
			return nil, err
		}
		p.Metrics.attempt("succeeded")
		return v, nil
	}

	expBackoff := &backoff.ExponentialBackOff{
		InitialInterval:     t.policy.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          t.policy.Base,
		MaxInterval:         t.policy.MaxBackoff,
	}
	expBackoff.Reset()

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(t.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	switch {
	case err == nil:
		return Result{Kind: ResultSuccess, ReturnValue: v, Attempts: attempts}
	case ctx.Err() != nil:
		return Result{Kind: ResultCanceled, Err: ctx.Err(), Attempts: attempts}
	default:
		return Result{Kind: ResultFailed, Err: err, Attempts: attempts}
	}
}

// attempt runs the job once, converting a panic into an error.
func (p *Pool) attempt(ctx context.Context, t *task) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.Logger != nil {
				p.Logger.WithFields(logrus.Fields{
					"field":   "Workpool",
					"work_id": t.workId,
					"stack":   string(debug.Stack()),
				}).Error(fmt.Sprintf("job panicked: %v", r))
			}
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return t.job(ctx)
}

func (p *Pool) complete(ctx context.Context, t *task, result Result) {
	if t.onComplete == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":       "Workpool",
				"work_id":     t.workId,
				"dispatch_id": t.cc.DispatchId,
			}).Error(fmt.Sprintf("completion callback panicked: %v", r))
		}
	}()
	t.onComplete(ctx, t.cc, result)
}
