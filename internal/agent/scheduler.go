package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hiring-pipeline-agents/internal/logging"
	"hiring-pipeline-agents/internal/telemetry"
)

// Reporter receives a liveness signal after every cycle that reached the store.
type Reporter interface {
	Heartbeat(ctx context.Context, agent string, processed int) error
}

// Options configures a Scheduler.
type Options struct {
	// Interval is the pause between the end of one cycle and the start of the next.
	Interval time.Duration
	// BackoffMax caps the stretched pause after consecutive failed cycles. Zero
	// keeps the fixed interval regardless of failures.
	BackoffMax time.Duration
	Reporter   Reporter
}

// Status is a point-in-time view of a scheduler for the admin API.
type Status struct {
	Name                string    `json:"name"`
	Phase               string    `json:"phase"`
	Interval            string    `json:"interval"`
	Cycles              int64     `json:"cycles"`
	TotalApplied        int64     `json:"total_applied"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCycleID         string    `json:"last_cycle_id,omitempty"`
	LastCycleAt         time.Time `json:"last_cycle_at,omitempty"`
	LastApplied         int       `json:"last_applied"`
	LastError           string    `json:"last_error,omitempty"`
	NextRunAt           time.Time `json:"next_run_at,omitempty"`
}

// Scheduler runs a Worker on a fixed interval until its context is canceled.
type Scheduler struct {
	worker   *Worker
	opts     Options
	logger   *zap.Logger
	trigger  chan struct{}
	done     chan struct{}
	started  atomic.Bool
	mu       sync.Mutex
	status   Status
	failures int
}

// NewScheduler wraps w. A non-positive interval falls back to one minute.
func NewScheduler(w *Worker, opts Options, logger *zap.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		worker:  w,
		opts:    opts,
		logger:  logger.With(zap.String(logging.FieldAgent, w.Name())),
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
		status:  Status{Name: w.Name(), Interval: opts.Interval.String()},
	}
}

// Name is the wrapped worker's name.
func (s *Scheduler) Name() string {
	return s.worker.Name()
}

// Done is closed once Run has returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Trigger wakes a sleeping scheduler so the next cycle starts immediately. It
// returns false when a wake-up is already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run loops until ctx is canceled. Cancellation is cooperative: it is observed
// between cycles and while sleeping, never inside a cycle, whose calls are
// bounded by the gateway's own timeouts.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}
	defer close(s.done)
	defer s.worker.setPhase(PhaseIdle)

	s.logger.Info("agent started", zap.Duration("interval", s.opts.Interval), zap.Duration("backoff_max", s.opts.BackoffMax))
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("agent stopped")
			return err
		}

		cycleCtx := context.WithoutCancel(ctx)
		res, err := s.runCycle(cycleCtx)
		failures := s.record(res, err)
		if err == nil && s.opts.Reporter != nil {
			if hbErr := s.opts.Reporter.Heartbeat(cycleCtx, s.Name(), res.Applied); hbErr != nil {
				s.logger.Debug("heartbeat failed", zap.Error(hbErr))
			}
		}

		delay := s.nextDelay(failures)
		s.setNextRun(time.Now().Add(delay))
		s.worker.setPhase(PhaseSleeping)
		if failures > 0 {
			s.logger.Info("sleeping after failed cycle", zap.Duration("delay", delay), zap.Int("consecutive_failures", failures))
		} else {
			s.logger.Debug("sleeping", zap.Duration("delay", delay))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("agent stopped")
			return ctx.Err()
		case <-s.trigger:
			timer.Stop()
			s.logger.Info("cycle triggered")
		case <-timer.C:
		}
		s.worker.setPhase(PhaseIdle)
	}
}

// Once runs a single cycle and records it. The error is the fetch failure or
// recovered panic, if any.
func (s *Scheduler) Once(ctx context.Context) (CycleResult, error) {
	res, err := s.runCycle(ctx)
	s.record(res, err)
	s.worker.setPhase(PhaseIdle)
	return res, err
}

// runCycle is the cycle boundary: a panic anywhere inside the pass is recovered here.
func (s *Scheduler) runCycle(ctx context.Context) (res CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
			s.logger.Error("unexpected error in cycle", zap.Any("panic", r), zap.Stack("stack"))
			telemetry.CyclesTotal.WithLabelValues(s.Name(), "panic").Inc()
		}
	}()

	res = s.worker.RunCycle(ctx)
	if res.FetchErr != nil {
		telemetry.CyclesTotal.WithLabelValues(s.Name(), "fetch_failed").Inc()
		return res, res.FetchErr
	}
	telemetry.CyclesTotal.WithLabelValues(s.Name(), "ok").Inc()
	return res, nil
}

func (s *Scheduler) record(res CycleResult, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Cycles++
	s.status.LastCycleID = res.ID
	s.status.LastCycleAt = time.Now()
	s.status.LastApplied = res.Applied
	s.status.TotalApplied += int64(res.Applied)
	if err != nil {
		s.failures++
		s.status.LastError = err.Error()
	} else {
		s.failures = 0
		s.status.LastError = ""
	}
	s.status.ConsecutiveFailures = s.failures
	telemetry.ConsecutiveFailures.WithLabelValues(s.Name()).Set(float64(s.failures))
	return s.failures
}

func (s *Scheduler) setNextRun(at time.Time) {
	s.mu.Lock()
	s.status.NextRunAt = at
	s.mu.Unlock()
}

// Snapshot returns the scheduler's current status.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.Phase = s.worker.Phase().String()
	return st
}

// nextDelay is the plain interval while healthy. After consecutive failures it
// grows exponentially from the interval, with jitter, up to BackoffMax.
func (s *Scheduler) nextDelay(failures int) time.Duration {
	if failures == 0 || s.opts.BackoffMax <= 0 {
		return s.opts.Interval
	}
	d := backoffWithJitter(s.opts.Interval, s.opts.BackoffMax, failures+1)
	if d < s.opts.Interval {
		d = s.opts.Interval
	}
	return d
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := max
	if exp < float64(max) {
		wait = time.Duration(exp)
	}
	if wait/2 <= 0 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
