// Package circuitbreaker guards calls to an external collaborator that
// can fail as a whole, such as the discovery indexer. After a run of
// failures the breaker opens and rejects calls locally; after a cooldown
// it lets probe calls through and closes again once enough succeed.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes one breaker. Zero fields take the defaults.
type Config struct {
	// Name labels the breaker in state-change notifications.
	Name string

	// Failures is the run of counted failures that opens the breaker.
	Failures int

	// Probes is the run of successes in half-open that closes it again.
	Probes int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// IsFailure decides whether an error counts against the breaker.
	// The default counts every error except context cancellation, which
	// says something about the caller, not the collaborator.
	IsFailure func(error) bool

	// OnChange is invoked outside the breaker lock on each transition.
	OnChange func(name string, from, to State)
}

type Breaker struct {
	name      string
	failures  int
	probes    int
	cooldown  time.Duration
	isFailure func(error) bool
	onChange  func(name string, from, to State)
	nowFn     func() time.Time

	mu        sync.Mutex
	state     State
	failRun   int
	probeRun  int
	openedAt  time.Time
}

func New(cfg Config) *Breaker {
	if cfg.Failures <= 0 {
		cfg.Failures = 5
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	return &Breaker{
		name:      cfg.Name,
		failures:  cfg.Failures,
		probes:    cfg.Probes,
		cooldown:  cfg.Cooldown,
		isFailure: cfg.IsFailure,
		onChange:  cfg.OnChange,
		nowFn:     time.Now,
	}
}

// Do runs fn under the breaker. While open it returns ErrOpen without
// invoking fn; otherwise fn's error is returned unchanged after being
// counted.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	if b.isFailure(err) {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	return err
}

// State reports the current state, moving an expired open breaker to
// half-open first.
func (b *Breaker) State() State {
	b.mu.Lock()
	notify := b.refreshLocked()
	state := b.state
	b.mu.Unlock()
	b.emit(notify)
	return state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	notify := b.refreshLocked()
	allowed := b.state != Open
	b.mu.Unlock()
	b.emit(notify)
	return allowed
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	var notify []transition
	b.failRun = 0
	if b.state == HalfOpen {
		b.probeRun++
		if b.probeRun >= b.probes {
			notify = b.setStateLocked(Closed)
		}
	}
	b.mu.Unlock()
	b.emit(notify)
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	var notify []transition
	b.failRun++
	b.probeRun = 0
	switch {
	case b.state == HalfOpen:
		b.openedAt = b.nowFn()
		notify = b.setStateLocked(Open)
	case b.state == Closed && b.failRun >= b.failures:
		b.openedAt = b.nowFn()
		notify = b.setStateLocked(Open)
	}
	b.mu.Unlock()
	b.emit(notify)
}

// refreshLocked moves an open breaker whose cooldown has elapsed to
// half-open. Caller holds the lock.
func (b *Breaker) refreshLocked() []transition {
	if b.state == Open && b.nowFn().Sub(b.openedAt) >= b.cooldown {
		return b.setStateLocked(HalfOpen)
	}
	return nil
}

type transition struct {
	from, to State
}

func (b *Breaker) setStateLocked(to State) []transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.probeRun = 0
	if to == Closed {
		b.failRun = 0
	}
	if b.onChange == nil {
		return nil
	}
	return []transition{{from: from, to: to}}
}

func (b *Breaker) emit(notify []transition) {
	for _, tr := range notify {
		b.onChange(b.name, tr.from, tr.to)
	}
}
