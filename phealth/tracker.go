// Package phealth tracks the liveness of interchangeable upstream providers
// and drives failover decisions between them.
//
// Each provider is in one of three states. Healthy providers are preferred
// in their declared order. Degraded providers are eligible only when no
// healthy alternative exists. Down providers receive no request traffic at
// all and are only touched by the background probe loop, which periodically
// issues a lightweight liveness check against every non-healthy provider so
// that recovered upstreams return to rotation without waiting for a caller
// to pay the cost of a failed request.
package phealth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("phealth")

// State is the liveness state of a provider.
type State int

const (
	Healthy State = iota
	Degraded
	Down
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Down:
		return "down"
	}
	return "unknown"
}

// Prober issues a lightweight liveness check against one provider. It is
// implemented by upstream provider clients.
type Prober interface {
	// Name returns the provider identifier.
	Name() string
	// Probe performs a liveness check, returning nil if the provider is
	// reachable and responding sensibly.
	Probe(ctx context.Context) error
}

// ProviderHealth is a point-in-time view of one provider's health record.
type ProviderHealth struct {
	Provider            string
	State               State
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
	LastProbe           time.Time
}

type record struct {
	state               State
	consecutiveFailures int
	lastSuccess         time.Time
	lastFailure         time.Time
	lastProbe           time.Time
	prober              Prober
}

// Tracker maintains a health record for every configured provider. Records
// are created at construction and live for the life of the process. All
// methods are safe for concurrent use.
type Tracker struct {
	mutex   sync.Mutex
	records map[string]*record
	order   []string

	clock             clock.Clock
	degradedThreshold int
	downThreshold     int
	probeInterval     time.Duration
	probeTimeout      time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewTracker creates a tracker with one health record per prober, all
// starting healthy. If the probe interval is non-zero, a background probe
// loop is started; stop it with Close.
func NewTracker(probers []Prober, options ...Option) (*Tracker, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	if len(probers) == 0 {
		return nil, errors.New("no providers to track")
	}

	t := &Tracker{
		records:           make(map[string]*record, len(probers)),
		clock:             opts.clock,
		degradedThreshold: opts.degradedThreshold,
		downThreshold:     opts.downThreshold,
		probeInterval:     opts.probeInterval,
		probeTimeout:      opts.probeTimeout,
		done:              make(chan struct{}),
	}
	for _, p := range probers {
		name := p.Name()
		if _, ok := t.records[name]; ok {
			return nil, errors.New("duplicate provider: " + name)
		}
		t.records[name] = &record{prober: p}
		t.order = append(t.order, name)
	}

	if opts.probeInterval != 0 {
		go t.run()
	}
	return t, nil
}

// RecordSuccess records a successful call on the named provider. A single
// success resets the failure count and restores the provider to healthy
// from any state.
func (t *Tracker) RecordSuccess(provider string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	r, ok := t.records[provider]
	if !ok {
		return
	}
	if r.state != Healthy {
		log.Infow("Provider recovered", "provider", provider, "previous", r.state.String())
	}
	r.state = Healthy
	r.consecutiveFailures = 0
	r.lastSuccess = t.clock.Now()
}

// RecordFailure records a failed call on the named provider, moving it to
// degraded or down once the consecutive-failure thresholds are crossed.
func (t *Tracker) RecordFailure(provider string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	r, ok := t.records[provider]
	if !ok {
		return
	}
	r.consecutiveFailures++
	r.lastFailure = t.clock.Now()

	prev := r.state
	if r.consecutiveFailures >= t.downThreshold {
		r.state = Down
	} else if r.consecutiveFailures >= t.degradedThreshold {
		r.state = Degraded
	}
	if r.state != prev {
		log.Warnw("Provider state worsened", "provider", provider,
			"state", r.state.String(), "consecutiveFailures", r.consecutiveFailures)
	}
}

// Eligible returns the providers that may serve a request, in preference
// order: every healthy provider in the declared order, then every degraded
// provider in the declared order. Down providers are excluded. An empty
// result means no provider in the set is available.
func (t *Tracker) Eligible(providers []string) []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var eligible []string
	for _, name := range providers {
		if r, ok := t.records[name]; ok && r.state == Healthy {
			eligible = append(eligible, name)
		}
	}
	for _, name := range providers {
		if r, ok := t.records[name]; ok && r.state == Degraded {
			eligible = append(eligible, name)
		}
	}
	return eligible
}

// Snapshot returns the current health record of every tracked provider, in
// the order the providers were registered.
func (t *Tracker) Snapshot() []ProviderHealth {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	snapshot := make([]ProviderHealth, 0, len(t.order))
	for _, name := range t.order {
		r := t.records[name]
		snapshot = append(snapshot, ProviderHealth{
			Provider:            name,
			State:               r.state,
			ConsecutiveFailures: r.consecutiveFailures,
			LastSuccess:         r.lastSuccess,
			LastFailure:         r.lastFailure,
			LastProbe:           r.lastProbe,
		})
	}
	return snapshot
}

// ProbeNow immediately probes every non-healthy provider. The background
// loop calls this on its interval; it is exported so that operational
// tooling can force a recovery check.
func (t *Tracker) ProbeNow(ctx context.Context) {
	t.mutex.Lock()
	var targets []Prober
	for _, name := range t.order {
		r := t.records[name]
		if r.state != Healthy {
			targets = append(targets, r.prober)
		}
	}
	t.mutex.Unlock()

	for _, p := range targets {
		pctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
		err := p.Probe(pctx)
		cancel()

		name := p.Name()
		t.mutex.Lock()
		if r, ok := t.records[name]; ok {
			r.lastProbe = t.clock.Now()
		}
		t.mutex.Unlock()

		if err != nil {
			log.Debugw("Liveness probe failed", "provider", name, "err", err)
			t.RecordFailure(name)
		} else {
			t.RecordSuccess(name)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close stops the background probe loop. Health records remain readable.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}

func (t *Tracker) run() {
	ticker := t.clock.Ticker(t.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.ProbeNow(context.Background())
		}
	}
}
