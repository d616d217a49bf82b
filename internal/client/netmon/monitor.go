// Package netmon tracks connectivity to the remote side.
//
// A Monitor holds the current online/offline state, counts transitions and
// notifies subscribers synchronously, in registration order, whenever the
// state flips. State is fed either by a platform callback (Observe) or by
// active probes through a Prober (Refresh, Run). A failing or panicking
// probe never changes the state: the last known value is kept.
package netmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"golang.org/x/time/rate"
)

// State is a point-in-time view of connectivity. Until the first observation
// Known is false and Online is assumed true.
type State struct {
	Online      bool
	Known       bool
	Transitions uint64
	ChangedAt   time.Time
}

// Prober actively checks whether the remote side is reachable.
type Prober interface {
	Probe(ctx context.Context) (online bool, err error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (bool, error)

func (f ProberFunc) Probe(ctx context.Context) (bool, error) { return f(ctx) }

type subscriber struct {
	id uint64
	fn func(State)
}

type Monitor struct {
	prober  Prober
	limiter *rate.Limiter
	logger  logging.Logger
	now     func() time.Time

	// notifyMu serializes transitions so subscribers see them in order.
	notifyMu sync.Mutex

	mu     sync.Mutex
	state  State
	subs   []subscriber
	nextID uint64
}

type Option func(*Monitor)

// WithRateLimit throttles forced refreshes. A zero limit disables throttling.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(m *Monitor) {
		if limit <= 0 {
			m.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		m.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor. prober may be nil when state only arrives through
// Observe.
func New(prober Prober, logger logging.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		prober:  prober,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:  logging.Module(logger, "netmon"),
		now:     time.Now,
		state:   State{Online: true},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for transition notifications and returns a function
// that removes it. fn runs on the goroutine that observed the transition and
// must not call Observe or Refresh.
func (m *Monitor) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Observe records a connectivity report. On a transition every subscriber
// is invoked before Observe returns.
func (m *Monitor) Observe(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	changed := m.state.Online != online
	m.state.Known = true
	if changed {
		m.state.Online = online
		m.state.Transitions++
		m.state.ChangedAt = m.now()
	}
	st := m.state
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info(context.Background(), "connectivity changed", "online", st.Online, "transitions", st.Transitions)

	for _, s := range subs {
		m.notify(s, st)
	}
}

func (m *Monitor) notify(s subscriber, st State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(context.Background(), "subscriber panicked", "panic", fmt.Sprint(r))
		}
	}()
	s.fn(st)
}

// Refresh forces an active probe and returns the resulting state. Refresh
// is rate limited (see WithRateLimit): a call beyond the limit does not probe
// and returns the current state, as do a missing prober and a failed probe.
// Use ProbeNow where a decision must rest on a fresh probe.
func (m *Monitor) Refresh(ctx context.Context) State {
	if !m.limiter.Allow() {
		m.logger.Debug(ctx, "refresh throttled")
		return m.Current()
	}
	m.probe(ctx)
	return m.Current()
}

// ProbeNow probes regardless of the refresh limit. Without a prober, or when
// the probe fails, it returns the current state.
func (m *Monitor) ProbeNow(ctx context.Context) State {
	m.probe(ctx)
	return m.Current()
}

func (m *Monitor) probe(ctx context.Context) {
	if m.prober == nil {
		return
	}

	online, err := m.safeProbe(ctx)
	if err != nil {
		m.logger.Debug(ctx, "probe failed, keeping last state", "error", err)
		return
	}
	m.Observe(online)
}

func (m *Monitor) safeProbe(ctx context.Context) (online bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return m.prober.Probe(ctx)
}

// Run probes immediately and then every interval until ctx is done.
// Periodic probes are not subject to the refresh throttle.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}
