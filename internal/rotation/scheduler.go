package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/omniusstudio/pms-keyrotation/internal/locking"
	"github.com/omniusstudio/pms-keyrotation/internal/logging"
	"github.com/omniusstudio/pms-keyrotation/internal/metrics"
	"github.com/omniusstudio/pms-keyrotation/internal/policy"
	"github.com/omniusstudio/pms-keyrotation/internal/registry"
	"github.com/omniusstudio/pms-keyrotation/internal/schedule"
)

// State is the scheduler's position in its tick cycle.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateDispatching State = "dispatching"
	StateAdvancing   State = "advancing"
)

// DefaultWorkUnitTimeout caps one key's rotation so a stuck provider call
// cannot starve the worker pool.
const DefaultWorkUnitTimeout = 2 * time.Minute

// SchedulerOptions wires the scheduler's collaborators.
type SchedulerOptions struct {
	Policies policy.Store
	Registry registry.Registry
	Executor *Executor
	Locker   locking.Locker
	Metrics  *metrics.Recorder
	Logger   *logging.Logger
	Clock    schedule.Clock

	// Enabled is the global kill switch. A disabled scheduler ticks but
	// rotates nothing.
	Enabled bool

	CheckInterval     time.Duration
	MaxConcurrency    int
	PendingStaleAfter time.Duration
	WorkUnitTimeout   time.Duration
}

// Scheduler scans for due policies on a fixed interval and dispatches
// their bound keys to the executor through a bounded worker pool.
type Scheduler struct {
	policies policy.Store
	registry registry.Registry
	executor *Executor
	locker   locking.Locker
	metrics  *metrics.Recorder
	logger   *logging.Logger
	clock    schedule.Clock

	enabled           bool
	checkInterval     time.Duration
	maxConcurrency    int
	pendingStaleAfter time.Duration
	workUnitTimeout   time.Duration

	stateMu sync.RWMutex
	state   State
}

// NewScheduler creates a scheduler with sane defaults for any zero option.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = schedule.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(false, true)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder()
	}
	if opts.Locker == nil {
		opts.Locker = locking.NewMemoryLocker()
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 5 * time.Minute
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 4
	}
	if opts.PendingStaleAfter <= 0 {
		opts.PendingStaleAfter = time.Hour
	}
	if opts.WorkUnitTimeout <= 0 {
		opts.WorkUnitTimeout = DefaultWorkUnitTimeout
	}
	return &Scheduler{
		policies:          opts.Policies,
		registry:          opts.Registry,
		executor:          opts.Executor,
		locker:            opts.Locker,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		clock:             opts.Clock,
		enabled:           opts.Enabled,
		checkInterval:     opts.CheckInterval,
		maxConcurrency:    opts.MaxConcurrency,
		pendingStaleAfter: opts.PendingStaleAfter,
		workUnitTimeout:   opts.WorkUnitTimeout,
	}
}

// State returns the scheduler's current tick phase.
func (s *Scheduler) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.state == "" {
		return StateIdle
	}
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Run ticks until the context is cancelled. In-flight rotations finish
// before Run returns, so no Pending record is stranded by a clean shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started (interval %s, concurrency %d)", s.checkInterval, s.maxConcurrency)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduler tick failed: %v", err)
			}
		}
	}
}

// claim is one due policy this instance won the advisory lock for,
// together with the keys it will rotate.
type claim struct {
	tenantID string
	pol      *policy.Policy
	keys     []*registry.Key
	release  func()
}

// Tick runs one scan cycle: sweep stale records, claim due policies,
// rotate their keys, then advance every claimed schedule regardless of
// per-key outcomes.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	s.setState(StateScanning)
	defer s.setState(StateIdle)

	now := s.clock.Now()
	tenants, err := s.policies.Tenants(ctx)
	if err != nil {
		return err
	}

	claims, dueCount := s.scan(ctx, tenants, now)
	s.metrics.RecordTick(dueCount)
	defer func() {
		for _, c := range claims {
			c.release()
		}
	}()

	s.setState(StateDispatching)
	s.dispatch(ctx, claims)

	s.setState(StateAdvancing)
	s.advance(ctx, claims, now)
	return nil
}

func (s *Scheduler) scan(ctx context.Context, tenants []string, now time.Time) ([]*claim, int) {
	var claims []*claim
	due := 0

	for _, tenantID := range tenants {
		s.sweepStale(ctx, tenantID, now)

		policies, err := s.policies.ListDue(ctx, tenantID, now)
		if err != nil {
			s.logger.Error("due-policy scan for tenant %s failed: %v", tenantID, err)
			continue
		}
		due += len(policies)

		for _, pol := range policies {
			release, acquired, err := s.locker.TryAcquire(ctx, tenantID+"/"+pol.ID)
			if err != nil {
				s.logger.Error("advisory lock for policy %s failed: %v", pol.ID, err)
				continue
			}
			if !acquired {
				// Another instance claimed this policy for the tick.
				s.logger.Debug("policy %s already claimed, skipping", pol.ID)
				continue
			}

			keys, err := s.registry.ListForPolicy(ctx, tenantID, pol.ID)
			if err != nil {
				s.logger.Error("key listing for policy %s failed: %v", pol.ID, err)
				release()
				continue
			}
			claims = append(claims, &claim{tenantID: tenantID, pol: pol, keys: keys, release: release})
		}
	}
	return claims, due
}

// dispatch pushes every (policy, key) unit through the bounded pool. A
// failing key never blocks its siblings.
func (s *Scheduler) dispatch(ctx context.Context, claims []*claim) {
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, c := range claims {
		for _, key := range c.keys {
			c, key := c, key
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				workCtx, cancel := context.WithTimeout(ctx, s.workUnitTimeout)
				defer cancel()

				if _, err := s.executor.Rotate(workCtx, c.pol, key); err != nil {
					// Terminal state is already recorded; log and move on.
					s.logger.Debug("rotation of key %s recorded failure: %v", key.ID, err)
				}
			}()
		}
	}
	wg.Wait()
}

// advance recomputes next_rotation_at for every claimed policy from its
// due slot, keeping the cadence anchored to the configured time of day
// even when a cycle had failures.
func (s *Scheduler) advance(ctx context.Context, claims []*claim, now time.Time) {
	for _, c := range claims {
		tb := c.pol.Trigger.TimeBased
		if c.pol.Trigger.Type != policy.TriggerTimeBased || tb == nil || c.pol.NextRotationAt == nil {
			continue
		}

		next, err := schedule.NextRotation(*c.pol.NextRotationAt, tb.IntervalDays, tb.TimeOfDay, tb.Timezone)
		if err != nil {
			s.logger.Error("schedule advance for policy %s failed: %v", c.pol.ID, err)
			continue
		}
		if err := s.policies.AdvanceSchedule(ctx, c.tenantID, c.pol.ID, now, next); err != nil {
			s.logger.Error("schedule persist for policy %s failed: %v", c.pol.ID, err)
		}
	}
}

func (s *Scheduler) sweepStale(ctx context.Context, tenantID string, now time.Time) {
	swept, err := s.executor.trail.SweepStale(ctx, tenantID, now.Add(-s.pendingStaleAfter))
	if err != nil {
		s.logger.Error("stale-record sweep for tenant %s failed: %v", tenantID, err)
		return
	}
	if len(swept) > 0 {
		s.metrics.RecordStaleSweep(len(swept))
		s.logger.Warn("swept %d stranded pending rotation(s) for tenant %s", len(swept), tenantID)
	}
}
