package observability

import (
	"sort"
	"sync"
	"time"
)

type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type Snapshot struct {
	UptimeSec       int64                     `json:"uptime_sec"`
	TotalRequests   int64                     `json:"total_requests"`
	TotalErrors     int64                     `json:"total_errors"`
	InFlight        int64                     `json:"in_flight"`
	RateLimitWaits  int64                     `json:"rate_limit_waits"`
	RateLimitWaitMs int64                     `json:"rate_limit_wait_ms"`
	Lifecycle       *LifecycleSnapshot        `json:"lifecycle,omitempty"`
	Methods         map[string]MethodSnapshot `json:"methods"`
	Gateway         map[string]MethodSnapshot `json:"gateway"`
	Outcomes        []OutcomeCount            `json:"outcomes"`
}

// OutcomeCount is the number of purchase attempts that ended in State with ErrorKind.
type OutcomeCount struct {
	State     string `json:"state"`
	ErrorKind string `json:"error_kind,omitempty"`
	Count     int64  `json:"count"`
}

type outcomeKey struct {
	state     string
	errorKind string
}

type methodStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	methods        map[string]*methodStats
	gateway        map[string]*methodStats
	outcomes       map[outcomeKey]int64
	rateLimitWaits int64
	rateLimitWait  time.Duration
	lifecycle      lifecycleStats
}

type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:   time.Now(),
		methods:  make(map[string]*methodStats),
		gateway:  make(map[string]*methodStats),
		outcomes: make(map[outcomeKey]int64),
	}
}

func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.method, dur, err != nil)
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

// ObserveGatewayCall records one processor round trip, retries included.
func (m *Metrics) ObserveGatewayCall(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats, ok := m.gateway[op]
	if !ok {
		stats = &methodStats{}
		m.gateway[op] = stats
	}
	stats.record(d, err != nil)
	m.mu.Unlock()
}

// ObserveOutcome counts a finished purchase or activation retry.
func (m *Metrics) ObserveOutcome(state, errorKind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.outcomes[outcomeKey{state: state, errorKind: errorKind}]++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Methods:         make(map[string]MethodSnapshot),
		Gateway:         make(map[string]MethodSnapshot),
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
	}

	for method, stats := range m.methods {
		snap.Methods[method] = stats.snapshot()
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	for op, stats := range m.gateway {
		snap.Gateway[op] = stats.snapshot()
	}
	for key, count := range m.outcomes {
		snap.Outcomes = append(snap.Outcomes, OutcomeCount{State: key.state, ErrorKind: key.errorKind, Count: count})
	}
	sort.Slice(snap.Outcomes, func(i, j int) bool {
		a, b := snap.Outcomes[i], snap.Outcomes[j]
		if a.State != b.State {
			return a.State < b.State
		}
		return a.ErrorKind < b.ErrorKind
	})

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureMethod(method string) *methodStats {
	stats, ok := m.methods[method]
	if !ok {
		stats = &methodStats{}
		m.methods[method] = stats
	}
	return stats
}

func (m *Metrics) finish(method string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight--
	stats.record(dur, failed)
	m.mu.Unlock()
}

func (s *methodStats) record(dur time.Duration, failed bool) {
	s.count++
	if failed {
		s.errors++
	}
	s.totalLatency += dur
	if dur > s.maxLatency {
		s.maxLatency = dur
	}
	s.lastLatency = dur
}

func (s *methodStats) snapshot() MethodSnapshot {
	avg := 0.0
	if s.count > 0 {
		avg = float64(s.totalLatency.Milliseconds()) / float64(s.count)
	}
	return MethodSnapshot{
		Count:         s.count,
		Errors:        s.errors,
		InFlight:      s.inFlight,
		AvgLatencyMs:  avg,
		MaxLatencyMs:  float64(s.maxLatency.Milliseconds()),
		LastLatencyMs: float64(s.lastLatency.Milliseconds()),
	}
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
