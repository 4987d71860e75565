// Package idle implements the idle prompt scheduler: a single background
// timer that injects a synthetic turn after a randomized period without
// human speech.
package idle

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/internal/observe"
)

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// Clock arms timers. The default uses [time.AfterFunc].
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Option is a functional option for [New].
type Option func(*Scheduler)

// WithClock replaces the timer source. Intended for tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithRand sets the random source used to draw delays.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rand = r }
}

// WithMetrics counts every fired prompt on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler keeps at most one idle timer armed. Every call to Reset cancels
// the armed timer before arming a new one. When the timer fires, the prompt
// function runs to completion and the timer is armed again.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	minDelay time.Duration
	maxDelay time.Duration
	prompt   func(ctx context.Context)
	clock    Clock
	rand     *rand.Rand
	metrics  *observe.Metrics

	mu      sync.Mutex
	ctx     context.Context
	timer   Timer
	gen     uint64
	started bool
	stopped bool
	running sync.WaitGroup
}

// New creates a Scheduler that calls prompt after a delay drawn uniformly
// from [minDelay, maxDelay]. It does nothing until Start is called.
func New(minDelay, maxDelay time.Duration, prompt func(ctx context.Context), opts ...Option) *Scheduler {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	s := &Scheduler{
		minDelay: minDelay,
		maxDelay: maxDelay,
		prompt:   prompt,
		clock:    realClock{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Start arms the first timer. ctx is passed to every prompt call.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.ctx = ctx
	s.armLocked()
}

// Reset cancels the armed timer, if any, and arms a new one. Call it after
// every completed human utterance.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return
	}
	s.armLocked()
}

// Stop cancels the armed timer and waits for a running prompt to finish.
// The scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancelLocked()
	s.mu.Unlock()

	s.running.Wait()
}

// Pending returns the number of armed timers: 0 or 1.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return 1
	}
	return 0
}

// delay draws the next timer duration.
func (s *Scheduler) delay() time.Duration {
	span := int64(s.maxDelay - s.minDelay)
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.rand.Int64N(span+1))
}

func (s *Scheduler) armLocked() {
	s.cancelLocked()
	gen := s.gen
	d := s.delay()
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen) })
	slog.Debug("idle: timer armed", "delay", d)
}

func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.gen++
	ctx := s.ctx
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	slog.Info("idle: no speech for a while, injecting prompt")
	if s.metrics != nil {
		s.metrics.IdlePrompts.Add(ctx, 1)
	}
	s.prompt(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped && s.timer == nil {
		s.armLocked()
	}
}
