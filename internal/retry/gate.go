package retry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wichananm65/storefront-backend/internal/apperr"
)

var ErrGateClosed = errors.New("retry gate closed")

type GateConfig struct {
	Policy           Policy
	FailureThreshold int
	Cooldown         time.Duration
	// MinInterval is the minimum spacing between two queued calls.
	MinInterval time.Duration
	QueueSize   int
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		Policy:           DefaultPolicy(),
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		MinInterval:      time.Second,
		QueueSize:        256,
	}
}

// Status is a point-in-time snapshot of the gate.
type Status struct {
	Available          bool       `json:"available"`
	QueueLength        int        `json:"queueLength"`
	Processing         bool       `json:"processing"`
	CircuitBreakerOpen bool       `json:"circuitBreakerOpen"`
	Failures           int        `json:"failures"`
	LastFailureTime    *time.Time `json:"lastFailureTime,omitempty"`
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Gate serialises calls through a single FIFO worker, retries them with
// backoff and stops calling out once too many attempts have failed.
type Gate struct {
	cfg GateConfig
	log logrus.FieldLogger
	now func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	lastCall    time.Time
	processing  bool

	queue     chan *job
	stop      chan struct{}
	stopOnce  sync.Once
	workerEnd chan struct{}
}

type GateOption func(*Gate)

// WithClock replaces time.Now for breaker and spacing decisions.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

func NewGate(cfg GateConfig, log logrus.FieldLogger, opts ...GateOption) *Gate {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	g := &Gate{
		cfg:       cfg,
		log:       log.WithField("component", "retry_gate"),
		now:       time.Now,
		queue:     make(chan *job, cfg.QueueSize),
		stop:      make(chan struct{}),
		workerEnd: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	go g.work()
	return g
}

// Close stops the worker. Calls still queued fail with ErrGateClosed.
func (g *Gate) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
	<-g.workerEnd
}

// Execute queues fn and waits for its final result.
func (g *Gate) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	select {
	case <-g.stop:
		return ErrGateClosed
	default:
	}
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case g.queue <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-g.stop:
		return ErrGateClosed
	}
	return g.await(ctx, j)
}

// await waits for a queued job. A job that slipped into the queue after the
// worker drained it never runs, so the worker exiting ends the wait.
func (g *Gate) await(ctx context.Context, j *job) error {
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-g.workerEnd:
		select {
		case err := <-j.done:
			return err
		default:
			return ErrGateClosed
		}
	}
}

// Do is Execute for calls that produce a value.
func Do[T any](ctx context.Context, g *Gate, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Available reports whether the breaker currently lets calls through.
func (g *Gate) Available() bool {
	return g.checkOpen() == nil
}

func (g *Gate) Status() Status {
	open := !g.Available()
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Status{
		Available:          !open,
		QueueLength:        len(g.queue),
		Processing:         g.processing,
		CircuitBreakerOpen: open,
		Failures:           g.failures,
	}
	if !g.lastFailure.IsZero() {
		t := g.lastFailure
		s.LastFailureTime = &t
	}
	return s
}

func (g *Gate) work() {
	defer close(g.workerEnd)
	for {
		select {
		case <-g.stop:
			g.drain()
			return
		case j := <-g.queue:
			g.run(j)
		}
	}
}

func (g *Gate) drain() {
	for {
		select {
		case j := <-g.queue:
			j.done <- ErrGateClosed
		default:
			return
		}
	}
}

func (g *Gate) run(j *job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	g.mu.Lock()
	g.processing = true
	var wait time.Duration
	if !g.lastCall.IsZero() {
		wait = g.cfg.MinInterval - g.now().Sub(g.lastCall)
	}
	g.mu.Unlock()

	if wait > 0 {
		if err := g.cfg.Policy.sleep(j.ctx, wait); err != nil {
			g.finish()
			j.done <- err
			return
		}
	}

	err := backoff(j.ctx, g.cfg.Policy, g.log, j.fn, &attemptHooks{
		before: g.checkOpen,
		after:  g.record,
	})

	g.mu.Lock()
	g.lastCall = g.now()
	g.mu.Unlock()
	g.finish()
	j.done <- err
}

func (g *Gate) finish() {
	g.mu.Lock()
	g.processing = false
	g.mu.Unlock()
}

// record updates the breaker from one attempt. Gateway throttling counts as
// a failure even though it is not retried.
func (g *Gate) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		g.failures = 0
		return
	}
	if apperr.IsClient(err) && !apperr.Is(err, apperr.KindRateLimit) {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	g.failures++
	g.lastFailure = g.now()
	if g.failures == g.cfg.FailureThreshold {
		g.log.WithField("failures", g.failures).Error("circuit breaker opened")
	}
}

func (g *Gate) checkOpen() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failures < g.cfg.FailureThreshold {
		return nil
	}
	if g.now().Sub(g.lastFailure) >= g.cfg.Cooldown {
		g.failures = 0
		return nil
	}
	return apperr.Unavailable(
		"Payment service temporarily unavailable. Please try again later.",
		int(g.cfg.Cooldown/time.Second),
		nil,
	)
}
