package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"nutripay/internal/gateway"
)

var errTimeout = &gateway.TransportError{Op: gateway.OpCommit, Kind: gateway.KindTimeout}

func TestRetryPolicy_RetriesWithBackoff(t *testing.T) {
	attempts := 0
	var delays []time.Duration
	var retried []int

	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
		ShouldRetry: func(error) bool { return true },
		OnRetry:     func(attempt int, err error) { retried = append(retried, attempt) },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected delays: %v", delays)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Fatalf("unexpected retry hooks: %v", retried)
	}
}

func TestRetryPolicy_DefaultRetriesTimeoutsOnly(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3}
	expected := errors.New("declined")

	err := policy.Do(context.Background(), func() error {
		attempts++
		return expected
	})
	if err != expected {
		t.Fatalf("expected %v, got %v", expected, err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestCircuitBreaker_OpensAndResets(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0

	breaker := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Second})
	breaker.now = func() time.Time { return now }

	fail := func() error {
		calls++
		return errors.New("fail")
	}

	if err := breaker.Execute(fail); err == nil {
		t.Fatalf("expected failure")
	}
	if err := breaker.Execute(fail); err == nil {
		t.Fatalf("expected failure")
	}
	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}

	now = now.Add(2 * time.Second)

	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to allow trial, got %v", err)
	}
	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to close, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 failed calls, got %d", calls)
	}
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Second})
	breaker.now = func() time.Time { return now }
	fail := func() error { return errors.New("fail") }

	for i := 0; i < 3; i++ {
		_ = breaker.Execute(fail)
	}
	now = now.Add(2 * time.Second)

	// One failed trial is enough to reopen, regardless of MaxFailures.
	if err := breaker.Execute(fail); err == nil || errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected trial failure, got %v", err)
	}
	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected reopened breaker, got %v", err)
	}
}

func TestRateLimiter_WaitsWhenExhausted(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var waits []time.Duration
	var observed []time.Duration

	limiter := NewRateLimiter(100*time.Millisecond, 1).OnWait(func(d time.Duration) { observed = append(observed, d) })
	limiter.now = func() time.Time { return now }
	limiter.last = now
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		now = now.Add(d)
		return nil
	}

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waits) != 1 || waits[0] != 100*time.Millisecond {
		t.Fatalf("expected one wait of 100ms, got %v", waits)
	}
	if len(observed) != 1 {
		t.Fatalf("expected wait hook once, got %v", observed)
	}
}

func TestReliableGateway_AuthorizeNeverRetried(t *testing.T) {
	proc := gateway.NewInMemoryProcessor()
	proc.Script(gateway.OpAuthorize, gateway.Reply{Err: &gateway.TransportError{Op: gateway.OpAuthorize, Kind: gateway.KindTimeout}})

	g := NewReliableGateway(proc, nil, nil, RetryPolicy{})
	if _, err := g.Authorize(context.Background(), gateway.AuthorizeRequest{ReferenceID: "ref-1"}); !gateway.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if proc.Calls(gateway.OpAuthorize) != 1 {
		t.Fatalf("expected 1 authorize call, got %d", proc.Calls(gateway.OpAuthorize))
	}
}

func TestReliableGateway_CommitRetriedOnceOnTimeout(t *testing.T) {
	proc := gateway.NewInMemoryProcessor()
	proc.Script(gateway.OpCommit, gateway.Reply{Err: errTimeout}, gateway.Reply{Err: errTimeout}, gateway.Reply{Err: errTimeout})

	g := NewReliableGateway(proc, nil, nil, RetryPolicy{MaxAttempts: 10, ShouldRetry: func(error) bool { return true }})
	if _, err := g.Commit(context.Background(), "T1", ""); !gateway.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if proc.Calls(gateway.OpCommit) != 2 {
		t.Fatalf("expected exactly 2 commit calls, got %d", proc.Calls(gateway.OpCommit))
	}
}

func TestReliableGateway_CommitNotRetriedOnDecline(t *testing.T) {
	proc := gateway.NewInMemoryProcessor()
	proc.Script(gateway.OpCommit, gateway.Reply{Result: gateway.Result{ResponseCode: gateway.CodeDeclinedBySubscriber}})

	g := NewReliableGateway(proc, nil, nil, RetryPolicy{})
	res, err := g.Commit(context.Background(), "T1", "")
	if err != nil || res.Success {
		t.Fatalf("expected declined result, got %+v %v", res, err)
	}
	if proc.Calls(gateway.OpCommit) != 1 {
		t.Fatalf("expected 1 commit call, got %d", proc.Calls(gateway.OpCommit))
	}
}

func TestReliableGateway_OpenBreakerDoesNotBlockCancel(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	proc := gateway.NewInMemoryProcessor()
	proc.Script(gateway.OpAuthorize, gateway.Reply{Err: errors.New("connection refused")})
	breaker := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})
	breaker.now = func() time.Time { return now }

	g := NewReliableGateway(proc, nil, breaker, RetryPolicy{})
	if _, err := g.Authorize(context.Background(), gateway.AuthorizeRequest{ReferenceID: "ref-1"}); err == nil {
		t.Fatalf("expected failure")
	}
	if _, err := g.Authorize(context.Background(), gateway.AuthorizeRequest{ReferenceID: "ref-2"}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if proc.Calls(gateway.OpAuthorize) != 1 {
		t.Fatalf("expected 1 authorize call, got %d", proc.Calls(gateway.OpAuthorize))
	}

	if _, err := g.Cancel(context.Background(), "T1", ""); err != nil {
		t.Fatalf("cancel should bypass breaker, got %v", err)
	}
	if proc.Calls(gateway.OpCancel) != 1 {
		t.Fatalf("expected cancel to reach processor")
	}
}
