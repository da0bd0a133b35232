// Package supervisor starts the configured agents side by side and stops them
// together, optionally holding a lock file so only one process runs per host.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"hiring-pipeline-agents/internal/agent"
)

// Supervisor owns a set of schedulers that share nothing but the record store.
type Supervisor struct {
	logger *zap.Logger
	grace  time.Duration

	mu     sync.Mutex
	agents map[string]*agent.Scheduler
	order  []string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithLockFile makes Start fail when another process holds path.
func WithLockFile(path string) Option {
	return func(s *Supervisor) {
		if path == "" {
			return
		}
		s.lockPath = path
		s.lock = flock.New(path)
	}
}

// New constructs a supervisor. grace bounds how long Stop waits for each agent.
func New(grace time.Duration, logger *zap.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		logger: logger,
		grace:  grace,
		agents: make(map[string]*agent.Scheduler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a scheduler. Names must be unique and registration closes once started.
func (s *Supervisor) Register(sch *agent.Scheduler) error {
	if s.running.Load() {
		return errors.New("supervisor already started")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.agents[sch.Name()]; dup {
		return fmt.Errorf("agent %q already registered", sch.Name())
	}
	s.agents[sch.Name()] = sch
	s.order = append(s.order, sch.Name())
	return nil
}

// Start acquires the lock, if configured, and launches every registered agent.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("supervisor already started")
	}
	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			s.running.Store(false)
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			s.running.Store(false)
			return fmt.Errorf("another agents process holds %s", s.lockPath)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		s.logger.Warn("no agents registered")
	}
	for _, name := range s.order {
		sch := s.agents[name]
		go func() {
			if err := sch.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("agent exited", zap.String("agent", sch.Name()), zap.Error(err))
			}
		}()
	}
	s.logger.Info("agents started", zap.Strings("agents", s.order), zap.String("lock", s.lockPath))
	return nil
}

// Stop signals every agent and waits up to the grace period for each one to
// finish its current cycle. It returns the names that were still running.
func (s *Supervisor) Stop() []string {
	if !s.running.Load() {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	scheds := make([]*agent.Scheduler, 0, len(s.order))
	for _, name := range s.order {
		scheds = append(scheds, s.agents[name])
	}
	s.mu.Unlock()

	var (
		wg      sync.WaitGroup
		lateMu  sync.Mutex
		pending []string
	)
	for _, sch := range scheds {
		sch := sch
		wg.Add(1)
		go func() {
			defer wg.Done()
			timer := time.NewTimer(s.grace)
			defer timer.Stop()
			select {
			case <-sch.Done():
			case <-timer.C:
				lateMu.Lock()
				pending = append(pending, sch.Name())
				lateMu.Unlock()
			}
		}()
	}
	wg.Wait()
	sort.Strings(pending)

	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release agents lock", zap.Error(err))
		}
	}
	s.running.Store(false)
	if len(pending) > 0 {
		s.logger.Warn("agents still running after grace period", zap.Strings("agents", pending), zap.Duration("grace", s.grace))
	} else {
		s.logger.Info("agents stopped")
	}
	return pending
}

// Snapshot returns every agent's status in registration order.
func (s *Supervisor) Snapshot() []agent.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Status, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.agents[name].Snapshot())
	}
	return out
}

// Lookup finds a registered agent by name.
func (s *Supervisor) Lookup(name string) (*agent.Scheduler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.agents[name]
	return sch, ok
}
