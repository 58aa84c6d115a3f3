// Package runctl implements the run controller: the top-level state machine
// that ensures every configured target has a built artifact, hands the
// resolved set to a distribution strategy task, and enforces single-flight
// execution behind an exclusive external lock.
package runctl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/studentutu/shipyard/internal/builder"
	"github.com/studentutu/shipyard/internal/expr"
	"github.com/studentutu/shipyard/internal/procrun"
	"github.com/studentutu/shipyard/internal/store"
	"github.com/studentutu/shipyard/internal/strategy"
	"github.com/studentutu/shipyard/internal/task"
	"github.com/studentutu/shipyard/pkg/model"
)

// Options configures a Controller.
type Options struct {
	Logger   *slog.Logger
	Store    store.Store
	Builder  builder.Builder
	Registry *strategy.Registry
	Lock     Lock
	Targets  []model.Target

	// Strategy is the distribution strategy runs use.
	Strategy model.StrategyType

	// TickInterval is the pump cadence of DistributeAndWait.
	TickInterval time.Duration
}

// Controller owns run sessions. The scheduler underneath is single-threaded;
// the controller's mutex is what serializes Submit/Tick onto one logical
// control thread while HTTP handlers and signal handlers poke at it from
// their own goroutines.
type Controller struct {
	mu sync.Mutex

	logger       *slog.Logger
	store        store.Store
	builder      builder.Builder
	registry     *strategy.Registry
	lock         Lock
	targets      []model.Target
	strategyType model.StrategyType
	tickInterval time.Duration

	sched  *task.Scheduler
	runner *procrun.Runner
	eval   *expr.Evaluator
	hooks  *Hooks

	running bool
	state   model.RunState
	outcome bool
	run     *model.Run
}

// New creates a Controller.
func New(opts Options) *Controller {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 50 * time.Millisecond
	}
	logger := opts.Logger.With("component", "controller")
	return &Controller{
		logger:       logger,
		store:        opts.Store,
		builder:      opts.Builder,
		registry:     opts.Registry,
		lock:         opts.Lock,
		targets:      opts.Targets,
		strategyType: opts.Strategy,
		tickInterval: opts.TickInterval,
		sched:        task.NewScheduler(opts.Logger),
		runner:       procrun.NewRunner(opts.Logger),
		eval:         expr.NewEvaluator(),
		hooks:        NewHooks(),
		state:        model.RunStateIdle,
	}
}

// IsRunning reports whether a run session is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// State returns the controller's run state. After a run ends it reports that
// run's terminal state until the next Distribute.
func (c *Controller) State() model.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Outcome reports whether the most recently finished run succeeded.
func (c *Controller) Outcome() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// CurrentRun returns a copy of the active (or most recent) run record, or
// nil if no run has started yet.
func (c *Controller) CurrentRun() *model.Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	cp := *c.run
	return &cp
}

// Targets returns the configured target list.
func (c *Controller) Targets() []model.Target {
	return c.targets
}

// Tick advances the scheduler one pass. Safe to call from any goroutine.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.Tick()
}

// Active reports whether the scheduler has registered tasks. Together with
// Tick this satisfies the external tick-source contract.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.Active()
}

// resolveTargets applies each target's when filter and returns the admitted
// subset in configuration order.
func (c *Controller) resolveTargets() ([]model.Target, error) {
	out := make([]model.Target, 0, len(c.targets))
	for _, t := range c.targets {
		ectx := &expr.Context{
			Target: map[string]any{"id": t.ID, "name": t.Name, "work_dir": t.WorkDir},
			Env:    expr.EnvMap(),
		}
		ok, err := c.eval.EvaluateBool(t.When, ectx)
		if err != nil {
			return nil, fmt.Errorf("target %s when filter: %w", t.ID, err)
		}
		if !ok {
			c.logger.Debug("target filtered out", "target_id", t.ID)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// EnsureBuilds makes sure every resolved target has an artifact on disk,
// building the ones that are missing (or all of them when force is set).
// The first build failure aborts the call; targets built before the failure
// stay registered, so a retry only redoes the remainder.
func (c *Controller) EnsureBuilds(ctx context.Context, force bool) ([]model.TargetArtifact, error) {
	targets, err := c.resolveTargets()
	if err != nil {
		return nil, err
	}

	artifacts := make([]model.TargetArtifact, 0, len(targets))
	for _, t := range targets {
		path, err := c.store.GetArtifactPath(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("artifact registry: %w", err)
		}
		if !force && path != "" && artifactExists(path) {
			c.logger.Debug("artifact up to date", "target_id", t.ID, "path", path)
			artifacts = append(artifacts, model.TargetArtifact{Target: t, Path: path})
			continue
		}

		built, err := c.builder.Build(ctx, t, force)
		if err != nil {
			return nil, err
		}
		if err := c.store.SetArtifactPath(ctx, t.ID, built); err != nil {
			return nil, fmt.Errorf("register artifact for %s: %w", t.ID, err)
		}
		artifacts = append(artifacts, model.TargetArtifact{Target: t, Path: built})
	}
	return artifacts, nil
}

// Distribute starts a run: build what is missing, then submit the strategy
// task. Re-entrant calls while a run is active are a silent no-op returning
// false. If the strategy task completes synchronously the return value is its
// outcome; otherwise true means the run is in flight and will settle through
// subsequent ticks.
func (c *Controller) Distribute(ctx context.Context, forceBuild bool) bool {
	c.mu.Lock()
	if c.running {
		c.logger.Debug("distribution already in progress")
		c.mu.Unlock()
		return false
	}
	if err := c.lock.Acquire(); err != nil {
		c.logger.Error("acquire run lock", "error", err)
		c.mu.Unlock()
		return false
	}

	c.running = true
	c.state = model.RunStateBuilding
	run := &model.Run{
		ID:         "run_" + uuid.New().String()[:8],
		Strategy:   c.strategyType,
		State:      model.RunStateBuilding,
		ForceBuild: forceBuild,
		StartedAt:  time.Now().UTC(),
	}
	c.run = run
	if err := c.store.CreateRun(ctx, run); err != nil {
		c.logger.Error("record run start", "run_id", run.ID, "error", err)
	}
	c.logger.Info("run started", "run_id", run.ID, "strategy", c.strategyType, "force_build", forceBuild)
	// Builds run synchronously and can take a while; release the mutex so
	// state queries stay responsive. The running flag keeps re-entrants out.
	c.mu.Unlock()

	artifacts, err := c.EnsureBuilds(ctx, forceBuild)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		// The session was torn down (ForceCancel) while builds were
		// running; the lock is already released, so no distribution may
		// start on its behalf.
		c.logger.Info("run ended during build phase", "run_id", run.ID)
		return false
	}
	if err != nil {
		c.logger.Error("ensure builds", "run_id", run.ID, "error", err)
		c.finishLocked(false)
		return false
	}

	strat, err := c.registry.Get(c.strategyType)
	if err != nil {
		c.logger.Error("resolve strategy", "run_id", run.ID, "error", err)
		c.finishLocked(false)
		return false
	}
	if len(artifacts) == 0 && !strat.AllowEmptyTargets() {
		c.logger.Error("no targets resolved for distribution", "run_id", run.ID)
		c.finishLocked(false)
		return false
	}

	c.state = model.RunStateDistributing
	run.State = model.RunStateDistributing
	run.TargetCount = len(artifacts)
	if err := c.store.UpdateRun(ctx, run); err != nil {
		c.logger.Error("record run progress", "run_id", run.ID, "error", err)
	}

	rc := &strategy.Context{
		Scheduler: c.sched,
		Runner:    c.runner,
		Cancels:   c.hooks,
		Logger:    c.logger,
	}
	inner := strat.Task(rc, artifacts, forceBuild)

	started := false
	top := task.New("run", func() task.Step {
		if !started {
			started = true
			return task.Delegate(inner)
		}
		ok := task.Result[bool](c.sched)
		// Submit and Tick run under the controller mutex, so the session
		// teardown here must not take it again.
		c.finishLocked(ok)
		return task.Done(ok)
	})
	c.sched.Submit(top)

	if !c.running {
		// Synchronous strategies drain inside Submit.
		return c.outcome
	}
	return true
}

// DistributeAndWait runs Distribute and pumps the scheduler until the run
// settles, returning its outcome. Context cancellation force-cancels the run.
func (c *Controller) DistributeAndWait(ctx context.Context, forceBuild bool) bool {
	if !c.Distribute(ctx, forceBuild) {
		return false
	}

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		if !c.running {
			out := c.outcome
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			c.logger.Info("run interrupted", "reason", ctx.Err())
			c.ForceCancel()
			return false
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Cancel fires every registered cancellation hook. The running flag is left
// alone; it clears naturally once the cancelled tasks drain through the
// scheduler's finish path.
func (c *Controller) Cancel() {
	c.logger.Info("cancelling run", "hooks", c.hooks.Len())
	c.hooks.Fire()
}

// ForceCancel is the recovery path: Cancel, then unconditionally end the
// session so the lock is released even if a hook failed to unwind its task.
func (c *Controller) ForceCancel() {
	c.Cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(false)
}

// finishLocked ends the active run session: terminal state, run record
// update, lock release. Idempotent. Callers hold c.mu; task bodies reach
// here through Submit/Tick, which are always invoked under it.
func (c *Controller) finishLocked(ok bool) {
	if !c.running {
		return
	}
	c.running = false
	c.outcome = ok
	if ok {
		c.state = model.RunStateDone
	} else {
		c.state = model.RunStateCancelled
	}

	if c.run != nil {
		now := time.Now().UTC()
		c.run.State = c.state
		c.run.Succeeded = ok
		c.run.CompletedAt = &now
		// Session teardown must complete even if the triggering context is
		// already cancelled.
		if err := c.store.UpdateRun(context.Background(), c.run); err != nil {
			c.logger.Error("record run completion", "run_id", c.run.ID, "error", err)
		}
	}
	if err := c.lock.Release(); err != nil {
		c.logger.Error("release run lock", "error", err)
	}
	c.logger.Info("run finished", "state", c.state, "succeeded", ok)
}

// artifactExists reports whether a regular file exists at path.
func artifactExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
