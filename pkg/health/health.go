// Package health serves the /livez and /readyz endpoints backed by periodic checks.
//
// Every check runs on its own ticker. A passing check turns unhealthy only
// after FailureThreshold consecutive failures and recovers after
// SuccessThreshold consecutive passes, so a single slow ping does not pull
// the pod out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc tests one dependency and returns nil when it is usable.
type CheckFunc func(ctx context.Context) error

// Thresholds used by checks registered without options.
const (
	DefaultFailureThreshold = 3
	DefaultSuccessThreshold = 1
)

// CheckOption tunes a single registered check.
type CheckOption func(*check)

// WithFailureThreshold sets how many consecutive failures mark a check down.
func WithFailureThreshold(n int) CheckOption {
	return func(p *check) {
		if n > 0 {
			p.failAfter = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive passes bring a check back.
func WithSuccessThreshold(n int) CheckOption {
	return func(p *check) {
		if n > 0 {
			p.passAfter = n
		}
	}
}

type kind uint8

const (
	liveness kind = iota
	readiness
)

type check struct {
	name      string
	kind      kind
	timeout   time.Duration
	fn        CheckFunc
	failAfter int
	passAfter int

	mu     sync.Mutex
	up     bool
	streak int // positive: consecutive passes, negative: consecutive failures
	err    error
}

func (p *check) observe(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.err = err
	if err != nil {
		p.streak = min(p.streak, 0) - 1
		if -p.streak >= p.failAfter {
			p.up = false
		}
		return
	}
	p.streak = max(p.streak, 0) + 1
	if p.streak >= p.passAfter {
		p.up = true
	}
}

func (p *check) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.up, p.err
}

func (p *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	p.observe(p.fn(ctx))
}

func (p *check) loop(ctx context.Context, every time.Duration) {
	p.run(ctx)

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.run(ctx)
		}
	}
}

// Health owns the registered checks and the manual readiness gate.
// The zero value is not usable, construct it with New.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that gates /livez.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.add(liveness, name, timeout, fn, opts)
}

// AddReadinessCheck registers a check that gates /readyz.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.add(readiness, name, timeout, fn, opts)
}

func (h *Health) add(k kind, name string, timeout time.Duration, fn CheckFunc, opts []CheckOption) {
	p := &check{
		name:      name,
		kind:      k,
		timeout:   timeout,
		fn:        fn,
		failAfter: DefaultFailureThreshold,
		passAfter: DefaultSuccessThreshold,
		up:        true,
	}
	for _, o := range opts {
		o(p)
	}

	h.mu.Lock()
	h.checks = append(h.checks, p)
	h.mu.Unlock()
}

// Start launches one goroutine per registered check. Checks run once
// immediately, then every interval until ctx ends or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	h.mu.Lock()
	if h.stop != nil {
		h.mu.Unlock()
		return
	}
	ctx, h.stop = context.WithCancel(ctx)
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	for _, p := range checks {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			p.loop(ctx, interval)
		}()
	}
}

// Stop cancels the check goroutines and waits for them to exit.
// It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
	h.wg.Wait()
}

// SetReady opens or closes the readiness gate.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness check is up.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(readiness)) == 0
}

// failures maps each down check of kind k to its last error text.
func (h *Health) failures(k kind) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, p := range h.checks {
		if p.kind != k {
			continue
		}
		up, err := p.state()
		if up {
			continue
		}
		msg := "check is unhealthy"
		if err != nil {
			msg = err.Error()
		}
		out[p.name] = msg
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(liveness))
}

// ReadyEndpoint serves /readyz. A closed gate is reported as the
// "_readiness" entry.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := h.failures(readiness)
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeStatus(w, failed)
}

// writeStatus answers 200 {"status":"ok"} or 503 with the failed checks in
// name order.
func writeStatus(w http.ResponseWriter, failed map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status, text := http.StatusOK, "ok"
	if len(failed) > 0 {
		status, text = http.StatusServiceUnavailable, "unhealthy"
	}

	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(text) })
		if len(failed) == 0 {
			return
		}
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		slices.Sort(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failed[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
