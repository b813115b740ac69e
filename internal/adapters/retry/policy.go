package retry

import (
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// Policy decides whether and when a dropped connection is re-established.
type Policy struct {
	Enabled    bool
	Delay      time.Duration
	MaxRetries int
	// Multiplier grows the delay between attempts. Values <= 1 keep it fixed.
	Multiplier float64
	MaxDelay   time.Duration
}

// PolicyFor derives the reconnect policy of a server: a fixed retryDelay,
// at most maxRetries attempts, and only when autoRestart is set.
func PolicyFor(cfg models.ServerConfig) Policy {
	cfg = cfg.WithDefaults()
	return Policy{
		Enabled:    cfg.AutoRestart,
		Delay:      cfg.RetryDelay,
		MaxRetries: cfg.MaxRetries,
		Multiplier: 1,
	}
}

// Allows reports whether attempt (1-based) may run.
func (p Policy) Allows(attempt int) bool {
	return p.Enabled && attempt >= 1 && attempt <= p.MaxRetries
}

// DelayFor returns the wait before attempt (1-based).
func (p Policy) DelayFor(attempt int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Scheduler runs reconnect attempts according to a Policy. At most one
// attempt is pending at a time.
type Scheduler struct {
	mu      sync.Mutex
	policy  Policy
	attempt int
	timer   *time.Timer
	stopped bool
}

func NewScheduler(p Policy) *Scheduler {
	return &Scheduler{policy: p}
}

// Schedule arranges fn to run after the policy delay for the next attempt.
// It returns false when the policy is disabled or exhausted, the scheduler
// was stopped, or an attempt is already pending.
func (s *Scheduler) Schedule(fn func(attempt int)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.timer != nil {
		return false
	}
	next := s.attempt + 1
	if !s.policy.Allows(next) {
		return false
	}
	s.attempt = next
	s.timer = time.AfterFunc(s.policy.DelayFor(next), func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fn(next)
	})
	return true
}

// Reset clears the attempt counter after a successful connection.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = 0
}

// Stop cancels any pending attempt and refuses future ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Attempts returns how many attempts have been scheduled since the last Reset.
func (s *Scheduler) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
