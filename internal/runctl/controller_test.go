package runctl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/studentutu/shipyard/internal/builder"
	"github.com/studentutu/shipyard/internal/procrun"
	"github.com/studentutu/shipyard/internal/store"
	"github.com/studentutu/shipyard/internal/strategy"
	"github.com/studentutu/shipyard/internal/task"
	"github.com/studentutu/shipyard/pkg/model"
)

// fakeBuilder writes a file per build and records which targets it built.
type fakeBuilder struct {
	mu     sync.Mutex
	dir    string
	built  []string
	failOn string
}

func (b *fakeBuilder) Build(ctx context.Context, target model.Target, force bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target.ID == b.failOn {
		return "", &model.BuildError{TargetID: target.ID, Err: errors.New("compile error")}
	}
	path := filepath.Join(b.dir, target.ID+".bin")
	if err := os.WriteFile(path, []byte(target.ID), 0o644); err != nil {
		return "", err
	}
	b.built = append(b.built, target.ID)
	return path, nil
}

func (b *fakeBuilder) builtIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.built...)
}

// gatedBuilder blocks inside Build until released, signalling entry so the
// test can act while the build phase is in flight.
type gatedBuilder struct {
	fakeBuilder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *gatedBuilder) Build(ctx context.Context, target model.Target, force bool) (string, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.fakeBuilder.Build(ctx, target, force)
}

// stubStrategy completes after pendTicks checkpoints with a fixed outcome.
type stubStrategy struct {
	allowEmpty bool
	outcome    bool
	pendTicks  int

	mu        sync.Mutex
	artifacts []model.TargetArtifact
}

func (s *stubStrategy) Type() model.StrategyType { return model.StrategyType("stub") }
func (s *stubStrategy) AllowEmptyTargets() bool  { return s.allowEmpty }

func (s *stubStrategy) Task(rc *strategy.Context, artifacts []model.TargetArtifact, forceBuild bool) *task.Task {
	s.mu.Lock()
	s.artifacts = artifacts
	s.mu.Unlock()

	remaining := s.pendTicks
	return task.New("stub", func() task.Step {
		if remaining > 0 {
			remaining--
			return task.Pending(nil)
		}
		return task.Done(s.outcome)
	})
}

func (s *stubStrategy) seenArtifacts() []model.TargetArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TargetArtifact(nil), s.artifacts...)
}

func testTargets() []model.Target {
	return []model.Target{
		{ID: "api", Name: "API", BuildCommand: []string{"true"}, Artifact: "api.bin"},
		{ID: "worker", Name: "Worker", BuildCommand: []string{"true"}, Artifact: "worker.bin"},
		{ID: "cli", Name: "CLI", BuildCommand: []string{"true"}, Artifact: "cli.bin"},
	}
}

// testController wires a controller over an in-memory store, a file lock in
// a temp dir, and the given builder and strategy.
func testController(t *testing.T, b builder.Builder, strat strategy.Strategy, targets []model.Target) (*Controller, store.Store, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := strategy.NewRegistry(logger)
	reg.Register(strat)

	lockPath := filepath.Join(t.TempDir(), "run.lock")
	c := New(Options{
		Logger:       logger,
		Store:        st,
		Builder:      b,
		Registry:     reg,
		Lock:         NewFileLock(lockPath),
		Targets:      targets,
		Strategy:     strat.Type(),
		TickInterval: 2 * time.Millisecond,
	})
	return c, st, lockPath
}

// registerArtifact writes a file and records it as target's artifact.
func registerArtifact(t *testing.T, st store.Store, dir, targetID string) string {
	t.Helper()
	path := filepath.Join(dir, targetID+".bin")
	if err := os.WriteFile(path, []byte(targetID), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := st.SetArtifactPath(context.Background(), targetID, path); err != nil {
		t.Fatalf("register artifact: %v", err)
	}
	return path
}

// drainRun ticks the controller until the run settles.
func drainRun(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for c.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatalf("run did not settle")
		}
		c.Tick()
		time.Sleep(2 * time.Millisecond)
	}
}

// lockHeld probes whether the run lock at path is currently held by trying
// to take it from a fresh handle.
func lockHeld(path string) bool {
	probe := NewFileLock(path)
	if err := probe.Acquire(); err != nil {
		return true
	}
	probe.Release()
	return false
}

func TestEnsureBuilds_BuildsOnlyMissing(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	c, st, _ := testController(t, b, &stubStrategy{outcome: true}, testTargets())

	registerArtifact(t, st, dir, "api")
	registerArtifact(t, st, dir, "worker")

	arts, err := c.EnsureBuilds(context.Background(), false)
	if err != nil {
		t.Fatalf("EnsureBuilds: %v", err)
	}
	if len(arts) != 3 {
		t.Fatalf("artifacts = %d, want 3", len(arts))
	}
	if built := b.builtIDs(); len(built) != 1 || built[0] != "cli" {
		t.Errorf("built = %v, want [cli]", built)
	}
	for _, a := range arts {
		if a.Path == "" {
			t.Errorf("target %s has empty artifact path", a.Target.ID)
		}
	}
}

func TestEnsureBuilds_ForceRebuildsAll(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	c, st, _ := testController(t, b, &stubStrategy{outcome: true}, testTargets())

	registerArtifact(t, st, dir, "api")
	registerArtifact(t, st, dir, "worker")
	registerArtifact(t, st, dir, "cli")

	if _, err := c.EnsureBuilds(context.Background(), true); err != nil {
		t.Fatalf("EnsureBuilds: %v", err)
	}
	if built := b.builtIDs(); len(built) != 3 {
		t.Errorf("built = %v, want all three targets", built)
	}
}

func TestEnsureBuilds_StaleRegistryEntryRebuilds(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	c, st, _ := testController(t, b, &stubStrategy{outcome: true}, testTargets()[:1])

	// Registered path points at a file that no longer exists.
	if err := st.SetArtifactPath(context.Background(), "api", filepath.Join(dir, "gone.bin")); err != nil {
		t.Fatalf("register artifact: %v", err)
	}

	if _, err := c.EnsureBuilds(context.Background(), false); err != nil {
		t.Fatalf("EnsureBuilds: %v", err)
	}
	if built := b.builtIDs(); len(built) != 1 || built[0] != "api" {
		t.Errorf("built = %v, want [api]", built)
	}
}

func TestEnsureBuilds_FailureKeepsEarlierBuilds(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir, failOn: "worker"}
	c, st, _ := testController(t, b, &stubStrategy{outcome: true}, testTargets())

	_, err := c.EnsureBuilds(context.Background(), false)
	if err == nil {
		t.Fatalf("EnsureBuilds succeeded, want build failure")
	}
	var be *model.BuildError
	if !errors.As(err, &be) || be.TargetID != "worker" {
		t.Fatalf("error = %v, want BuildError for worker", err)
	}

	// The first target built before the failure stays registered.
	path, err := st.GetArtifactPath(context.Background(), "api")
	if err != nil {
		t.Fatalf("GetArtifactPath: %v", err)
	}
	if path == "" {
		t.Errorf("api artifact not registered after partial ensure")
	}
}

func TestEnsureBuilds_WhenFilterExcludesTargets(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	targets := testTargets()
	targets[1].When = "$(false)"
	c, _, _ := testController(t, b, &stubStrategy{outcome: true}, targets)

	arts, err := c.EnsureBuilds(context.Background(), false)
	if err != nil {
		t.Fatalf("EnsureBuilds: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("artifacts = %d, want 2 after filter", len(arts))
	}
	for _, a := range arts {
		if a.Target.ID == "worker" {
			t.Errorf("filtered target was built")
		}
	}
}

func TestDistribute_SynchronousStrategyOutcome(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	strat := &stubStrategy{outcome: true}
	c, _, lockPath := testController(t, b, strat, testTargets())

	if ok := c.Distribute(context.Background(), false); !ok {
		t.Fatalf("Distribute = false, want synchronous success")
	}
	if c.IsRunning() {
		t.Errorf("run still flagged running after synchronous completion")
	}
	if got := c.State(); got != model.RunStateDone {
		t.Errorf("state = %s, want %s", got, model.RunStateDone)
	}
	if lockHeld(lockPath) {
		t.Errorf("lock still held after completion")
	}
	if got := len(strat.seenArtifacts()); got != 3 {
		t.Errorf("strategy saw %d artifacts, want 3", got)
	}
}

func TestDistribute_ReentrantCallIsNoOp(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	strat := &stubStrategy{outcome: true, pendTicks: 1000}
	c, _, _ := testController(t, b, strat, testTargets())

	if ok := c.Distribute(context.Background(), false); !ok {
		t.Fatalf("Distribute = false, want in-flight true")
	}
	first := c.CurrentRun().ID

	if ok := c.Distribute(context.Background(), false); ok {
		t.Errorf("re-entrant Distribute = true, want silent rejection")
	}
	if got := c.CurrentRun().ID; got != first {
		t.Errorf("run id changed across re-entrant call: %s -> %s", first, got)
	}
	if got := c.State(); got != model.RunStateDistributing {
		t.Errorf("state = %s, want %s", got, model.RunStateDistributing)
	}

	c.ForceCancel()
}

func TestDistribute_BuildFailureReleasesLockAndRecordsRun(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir, failOn: "cli"}
	c, st, lockPath := testController(t, b, &stubStrategy{outcome: true}, testTargets())

	if ok := c.Distribute(context.Background(), false); ok {
		t.Fatalf("Distribute = true, want failure")
	}
	if c.IsRunning() {
		t.Errorf("running flag still set after build failure")
	}
	if lockHeld(lockPath) {
		t.Errorf("lock still held after build failure")
	}

	runs, err := st.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].State != model.RunStateCancelled || runs[0].Succeeded {
		t.Errorf("run record = %s/succeeded=%v, want %s/false",
			runs[0].State, runs[0].Succeeded, model.RunStateCancelled)
	}
	if runs[0].CompletedAt == nil {
		t.Errorf("run record missing completion timestamp")
	}
}

func TestDistribute_EmptyTargetsAbortUnlessAllowed(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	targets := testTargets()
	for i := range targets {
		targets[i].When = "$(false)"
	}

	strict := &stubStrategy{outcome: true}
	c, _, lockPath := testController(t, b, strict, targets)
	if ok := c.Distribute(context.Background(), false); ok {
		t.Fatalf("Distribute = true, want empty-target abort")
	}
	if lockHeld(lockPath) {
		t.Errorf("lock still held after empty-target abort")
	}

	tolerant := &stubStrategy{outcome: true, allowEmpty: true}
	c2, _, _ := testController(t, b, tolerant, targets)
	if ok := c2.Distribute(context.Background(), false); !ok {
		t.Fatalf("Distribute = false, want tolerated empty run to succeed")
	}
}

func TestDistributeAndWait_PumpsUntilSettled(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	strat := &stubStrategy{outcome: true, pendTicks: 5}
	c, st, _ := testController(t, b, strat, testTargets())

	if ok := c.DistributeAndWait(context.Background(), false); !ok {
		t.Fatalf("DistributeAndWait = false, want success")
	}
	if got := c.State(); got != model.RunStateDone {
		t.Errorf("state = %s, want %s", got, model.RunStateDone)
	}

	run, err := st.GetRun(context.Background(), c.CurrentRun().ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil || !run.Succeeded || run.TargetCount != 3 {
		t.Errorf("run record = %+v, want succeeded with 3 targets", run)
	}
}

func TestForceCancel_ReleasesLockImmediately(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	strat := strategy.NewCommandStrategy(
		[]string{"sh", "-c", "sleep 30"}, false, procrun.DefaultExitPolicy())
	c, st, lockPath := testController(t, b, strat, testTargets()[:1])

	registerArtifact(t, st, dir, "api")

	if ok := c.Distribute(context.Background(), false); !ok {
		t.Fatalf("Distribute = false, want in-flight run")
	}
	if c.hooks.Len() != 1 {
		t.Fatalf("registered hooks = %d, want 1", c.hooks.Len())
	}
	if !lockHeld(lockPath) {
		t.Fatalf("lock not held mid-run")
	}

	c.ForceCancel()

	// Flag and lock clear before the cancelled process drains.
	if c.IsRunning() {
		t.Errorf("running flag still set after ForceCancel")
	}
	if lockHeld(lockPath) {
		t.Errorf("lock still held after ForceCancel")
	}

	// The cancelled wait task still completes through the normal path.
	deadline := time.Now().Add(30 * time.Second)
	for c.Active() {
		if time.Now().After(deadline) {
			t.Fatalf("cancelled tasks did not drain")
		}
		c.Tick()
		time.Sleep(2 * time.Millisecond)
	}
}

func TestForceCancel_DuringBuildPhaseAbandonsDistribution(t *testing.T) {
	dir := t.TempDir()
	gb := &gatedBuilder{
		fakeBuilder: fakeBuilder{dir: dir},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	strat := &stubStrategy{outcome: true}
	c, _, lockPath := testController(t, gb, strat, testTargets())

	done := make(chan bool, 1)
	go func() { done <- c.Distribute(context.Background(), false) }()

	<-gb.entered
	c.ForceCancel()
	if lockHeld(lockPath) {
		t.Errorf("lock still held after ForceCancel during builds")
	}

	close(gb.release)
	if ok := <-done; ok {
		t.Errorf("Distribute = true, want false after mid-build ForceCancel")
	}

	// The ended session must not come back to life once builds return.
	if c.IsRunning() {
		t.Errorf("running flag set again after builds returned")
	}
	if got := c.State(); got != model.RunStateCancelled {
		t.Errorf("state = %s, want %s", got, model.RunStateCancelled)
	}
	if c.Active() {
		t.Errorf("scheduler has active tasks after mid-build ForceCancel")
	}
	if got := len(strat.seenArtifacts()); got != 0 {
		t.Errorf("strategy task built with %d artifacts after session ended", got)
	}

	// The released lock is usable by a fresh run.
	if ok := c.Distribute(context.Background(), false); !ok {
		t.Fatalf("follow-up Distribute = false, want success")
	}
}

func TestCancel_DrainsNaturally(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{dir: dir}
	strat := strategy.NewCommandStrategy(
		[]string{"sh", "-c", "sleep 30"}, false, procrun.DefaultExitPolicy())
	c, st, lockPath := testController(t, b, strat, testTargets()[:1])

	registerArtifact(t, st, dir, "api")

	if ok := c.Distribute(context.Background(), false); !ok {
		t.Fatalf("Distribute = false, want in-flight run")
	}

	c.Cancel()
	if !c.IsRunning() {
		t.Fatalf("Cancel cleared the running flag; it should drain naturally")
	}

	drainRun(t, c)
	if c.Outcome() {
		t.Errorf("outcome = true, want false for cancelled run")
	}
	if lockHeld(lockPath) {
		t.Errorf("lock still held after cancelled run drained")
	}
	if got := c.State(); got != model.RunStateCancelled {
		t.Errorf("state = %s, want %s", got, model.RunStateCancelled)
	}
}
