package payments

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"nutripay/internal/gateway"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// settleAttempts is one call plus exactly one retry on timeout.
const settleAttempts = 2

// RetryPolicy controls retry behavior for outbound calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      func(time.Duration) time.Duration
	Sleep       func(context.Context, time.Duration) error
	ShouldRetry func(error) bool
	OnRetry     func(attempt int, err error)
}

// Do executes the function with retries according to the policy.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = gateway.IsTimeout
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == attempts || !shouldRetry(err) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		delay := p.BaseDelay
		if delay > 0 {
			delay = delay << (attempt - 1)
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		delay = jitter(delay)
		if delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// CircuitBreakerConfig configures the breaker in front of Authorize.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures that opens
	// the breaker.
	MaxFailures  int
	ResetTimeout time.Duration
}

// CircuitBreaker stops new authorizations after repeated transport failures.
// Once ResetTimeout has passed a single trial call is let through: success
// closes the breaker, failure reopens it.
type CircuitBreaker struct {
	mu         sync.Mutex
	maxFails   int
	resetAfter time.Duration
	now        func() time.Time

	failures int
	openedAt time.Time // zero while closed
	trial    bool
}

// NewCircuitBreaker constructs a circuit breaker. MaxFailures defaults to 1
// and ResetTimeout to two seconds.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	b := &CircuitBreaker{
		maxFails:   max(cfg.MaxFailures, 1),
		resetAfter: cfg.ResetTimeout,
		now:        time.Now,
	}
	if b.resetAfter <= 0 {
		b.resetAfter = 2 * time.Second
	}
	return b
}

// Execute runs fn unless the breaker is open. A nil breaker always runs fn.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if b == nil {
		return fn()
	}

	b.mu.Lock()
	if !b.openedAt.IsZero() {
		if b.trial || b.now().Sub(b.openedAt) < b.resetAfter {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.trial = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	wasTrial := b.trial
	b.trial = false
	if err == nil {
		b.failures = 0
		b.openedAt = time.Time{}
		return nil
	}
	b.failures++
	if wasTrial || b.failures >= b.maxFails {
		b.failures = 0
		b.openedAt = b.now()
	}
	return err
}

// RateLimiter is a token bucket shared by every processor call.
type RateLimiter struct {
	mu     sync.Mutex
	every  time.Duration
	burst  int
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	onWait func(time.Duration)

	tokens int
	last   time.Time
}

// NewRateLimiter constructs a limiter that refills one token every interval.
// A non-positive interval or burst disables limiting.
func NewRateLimiter(every time.Duration, burst int) *RateLimiter {
	return &RateLimiter{
		every:  every,
		burst:  burst,
		now:    time.Now,
		sleep:  sleepWithContext,
		tokens: burst,
		last:   time.Now(),
	}
}

// OnWait registers a hook called with every delay the limiter imposes.
func (r *RateLimiter) OnWait(fn func(time.Duration)) *RateLimiter {
	r.onWait = fn
	return r
}

// Wait blocks until a token is available or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.every <= 0 || r.burst <= 0 {
		return ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		now := r.now()
		if n := int(now.Sub(r.last) / r.every); n > 0 {
			r.tokens = min(r.tokens+n, r.burst)
			r.last = r.last.Add(time.Duration(n) * r.every)
		}
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := r.every - now.Sub(r.last)
		r.mu.Unlock()
		if r.onWait != nil {
			r.onWait(wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// ReliableGateway wraps a Gateway with reliability controls. Authorize goes
// through the breaker and is never retried. Commit and Cancel are retried
// once on timeout and bypass the breaker so compensation is always attempted.
type ReliableGateway struct {
	base    Gateway
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   RetryPolicy
}

// NewReliableGateway constructs a reliability-wrapped gateway. The retry
// policy's attempt count and predicate are fixed; only its delays are used.
func NewReliableGateway(base Gateway, limiter *RateLimiter, breaker *CircuitBreaker, retry RetryPolicy) *ReliableGateway {
	retry.MaxAttempts = settleAttempts
	retry.ShouldRetry = gateway.IsTimeout
	return &ReliableGateway{
		base:    base,
		limiter: limiter,
		breaker: breaker,
		retry:   retry,
	}
}

func (g *ReliableGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (gateway.Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return gateway.Result{}, err
	}
	var res gateway.Result
	err := g.breaker.Execute(func() error {
		var callErr error
		res, callErr = g.base.Authorize(ctx, req)
		return callErr
	})
	return res, err
}

func (g *ReliableGateway) Commit(ctx context.Context, gatewayTransactionID, description string) (gateway.Result, error) {
	return g.settle(ctx, func() (gateway.Result, error) {
		return g.base.Commit(ctx, gatewayTransactionID, description)
	})
}

func (g *ReliableGateway) Cancel(ctx context.Context, gatewayTransactionID, description string) (gateway.Result, error) {
	return g.settle(ctx, func() (gateway.Result, error) {
		return g.base.Cancel(ctx, gatewayTransactionID, description)
	})
}

func (g *ReliableGateway) settle(ctx context.Context, call func() (gateway.Result, error)) (gateway.Result, error) {
	var res gateway.Result
	err := g.retry.Do(ctx, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		var callErr error
		res, callErr = call()
		return callErr
	})
	return res, err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
