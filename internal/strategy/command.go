package strategy

import (
	"github.com/studentutu/shipyard/internal/procrun"
	"github.com/studentutu/shipyard/internal/task"
	"github.com/studentutu/shipyard/pkg/model"
)

// CommandStrategy distributes each artifact by running a configured external
// command with the artifact path appended (remote transfer, store publish,
// anything scriptable). Artifacts are processed in order; each process wait
// is a delegated task, so the run suspends while a transfer is in flight.
type CommandStrategy struct {
	command    []string
	allowEmpty bool
	policy     procrun.ExitPolicy
}

// NewCommandStrategy creates a CommandStrategy.
func NewCommandStrategy(command []string, allowEmpty bool, policy procrun.ExitPolicy) *CommandStrategy {
	return &CommandStrategy{command: command, allowEmpty: allowEmpty, policy: policy}
}

// Type returns model.StrategyTypeCommand.
func (s *CommandStrategy) Type() model.StrategyType {
	return model.StrategyTypeCommand
}

// AllowEmptyTargets reports the configured tolerance for empty target sets.
func (s *CommandStrategy) AllowEmptyTargets() bool {
	return s.allowEmpty
}

// Task builds the distribution task. One process per artifact; a cancel
// code ends the run quietly, any other non-zero exit fails it with the
// captured output logged once.
func (s *CommandStrategy) Task(rc *Context, artifacts []model.TargetArtifact, forceBuild bool) *task.Task {
	logger := rc.Logger.With("component", "command-strategy")

	idx := 0
	waiting := false
	var proc *procrun.Proc
	var remove func()

	return task.New("distribute-command", func() task.Step {
		if waiting {
			// Resumed from a delegated process wait: the exit code is in
			// the result slot.
			code := task.Result[int](rc.Scheduler)
			remove()
			waiting = false

			art := artifacts[idx]
			switch s.policy.Classify(code) {
			case procrun.OutcomeCancelled:
				logger.Info("distribution cancelled", "target_id", art.Target.ID, "exit_code", code)
				return task.Done(false)
			case procrun.OutcomeFailed:
				perr := &model.ProcessError{Command: s.command[0], ExitCode: code, Output: proc.Output()}
				logger.Error("distribute command failed",
					"target_id", art.Target.ID,
					"error", perr,
					"output", perr.Output,
				)
				return task.Done(false)
			}
			logger.Info("artifact distributed", "target_id", art.Target.ID, "path", art.Path)
			idx++
		}

		if idx >= len(artifacts) {
			return task.Done(true)
		}
		if len(s.command) == 0 {
			logger.Error("no distribute command configured")
			return task.Done(false)
		}

		art := artifacts[idx]
		args := append(append([]string{}, s.command[1:]...), art.Path)
		p, err := rc.Runner.Start(procrun.Spec{
			Command:  s.command[0],
			Args:     args,
			OnStdout: func(line string) { logger.Debug("distribute", "target_id", art.Target.ID, "line", line) },
			OnStderr: func(line string) { logger.Debug("distribute", "target_id", art.Target.ID, "line", line) },
		})
		if err != nil {
			logger.Error("start distribute command", "target_id", art.Target.ID, "error", err)
			return task.Done(false)
		}

		proc = p
		remove = rc.Cancels.Add(p.Cancel)
		waiting = true
		return task.Delegate(p.WaitTask())
	})
}
