// Package scheduler reclaims expired invitations and availability sessions.
//
// Two paths run concurrently over the same records: a recurring sweep and
// per-item one-shot timers armed at record creation. Both funnel into the
// engine's single guarded expiry transition, so they are safe to race and
// safe across restarts (the sweep covers timers lost to a process restart).
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Engine is the expiry surface the scheduler drives.
type Engine interface {
	SweepExpired(ctx context.Context) (int, error)
	ExpireInvitation(ctx context.Context, invitationID string) error
	ExpireSession(ctx context.Context, sessionID string) error
}

// Timer is a stoppable one-shot timer.
type Timer interface {
	Stop() bool
}

// DefaultSweepInterval is how often the sweep pass runs.
const DefaultSweepInterval = 2 * time.Minute

// Options configures a Scheduler. Engine is required.
type Options struct {
	Engine        Engine
	SweepInterval time.Duration
	Now           func() time.Time
	// NewTimer schedules fn after d and returns a handle to cancel it.
	// Defaults to time.AfterFunc.
	NewTimer func(d time.Duration, fn func()) Timer
}

// Scheduler owns the sweep loop and the per-item timer set. It has an
// explicit start/stop lifecycle and no ambient state.
type Scheduler struct {
	engine        Engine
	sweepInterval time.Duration
	now           func() time.Time
	newTimer      func(d time.Duration, fn func()) Timer

	mu      sync.Mutex
	timers  map[string]Timer
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Scheduler from options.
func New(opts Options) (*Scheduler, error) {
	if opts.Engine == nil {
		return nil, errors.New("scheduler: engine is required")
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewTimer == nil {
		opts.NewTimer = func(d time.Duration, fn func()) Timer {
			return time.AfterFunc(d, fn)
		}
	}
	return &Scheduler{
		engine:        opts.Engine,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		newTimer:      opts.NewTimer,
		timers:        make(map[string]Timer),
	}, nil
}

// Start launches the sweep loop. The first pass runs immediately to reclaim
// records whose timers were lost to a restart. Start is a no-op when the
// scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.sweepLoop(runCtx)
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer close(s.done)

	s.runSweep(ctx)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	reclaimed, err := s.engine.SweepExpired(ctx)
	if err != nil {
		log.Printf("expiry sweep failed err=%v", err)
		return
	}
	if reclaimed > 0 {
		log.Printf("expiry sweep reclaimed=%d", reclaimed)
	}
}

// Stop cancels the sweep loop and every armed timer, then waits for the loop
// to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	cancel()
	<-done
}

// ArmInvitation schedules a one-shot expiry check for an invitation. Arming
// the same invitation again replaces the previous timer.
func (s *Scheduler) ArmInvitation(invitationID string, expiresAt time.Time) {
	s.arm("invitation:"+invitationID, expiresAt, func(ctx context.Context) error {
		return s.engine.ExpireInvitation(ctx, invitationID)
	})
}

// ArmSession schedules a one-shot expiry check for a session.
func (s *Scheduler) ArmSession(sessionID string, expiresAt time.Time) {
	s.arm("session:"+sessionID, expiresAt, func(ctx context.Context) error {
		return s.engine.ExpireSession(ctx, sessionID)
	})
}

func (s *Scheduler) arm(key string, expiresAt time.Time, expire func(context.Context) error) {
	delay := expiresAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	timer := s.newTimer(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		// The expiry transition re-checks the record's state, so a timer
		// firing for an already-resolved record is a no-op.
		if err := expire(context.Background()); err != nil {
			log.Printf("timer expiry failed key=%s err=%v", key, err)
		}
	})

	s.mu.Lock()
	if previous, ok := s.timers[key]; ok {
		previous.Stop()
	}
	s.timers[key] = timer
	s.mu.Unlock()
}
