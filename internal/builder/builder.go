// Package builder produces build artifacts for targets by running their
// configured build commands.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/studentutu/shipyard/internal/expr"
	"github.com/studentutu/shipyard/pkg/model"
)

// Builder maps a target descriptor to a fresh artifact path.
type Builder interface {
	Build(ctx context.Context, target model.Target, force bool) (string, error)
}

// CommandBuilder runs the target's build command as a local process and
// resolves the artifact path template afterwards.
type CommandBuilder struct {
	logger *slog.Logger
	eval   *expr.Evaluator
}

// NewCommandBuilder creates a CommandBuilder.
func NewCommandBuilder(logger *slog.Logger) *CommandBuilder {
	return &CommandBuilder{
		logger: logger.With("component", "builder"),
		eval:   expr.NewEvaluator(),
	}
}

// Build runs the target's build command synchronously and returns the
// resolved artifact path. The artifact must exist on disk afterwards.
func (b *CommandBuilder) Build(ctx context.Context, target model.Target, force bool) (string, error) {
	if len(target.BuildCommand) == 0 {
		return "", &model.BuildError{TargetID: target.ID, Err: errors.New("build_command is empty")}
	}

	cmd := exec.CommandContext(ctx, target.BuildCommand[0], target.BuildCommand[1:]...)
	cmd.Dir = target.WorkDir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	b.logger.Info("building target", "target_id", target.ID, "force", force)
	runErr := cmd.Run()

	switch err := runErr.(type) {
	case nil:
	case *exec.ExitError:
		return "", &model.BuildError{
			TargetID: target.ID,
			Output:   stdoutBuf.String() + stderrBuf.String(),
			Err:      fmt.Errorf("build command exited with code %d", err.ExitCode()),
		}
	default:
		// Non-exit errors (e.g. binary not found).
		return "", &model.BuildError{TargetID: target.ID, Err: fmt.Errorf("run build command: %w", runErr)}
	}

	path, err := b.artifactPath(target)
	if err != nil {
		return "", &model.BuildError{TargetID: target.ID, Err: err}
	}
	if _, err := os.Stat(path); err != nil {
		return "", &model.BuildError{TargetID: target.ID, Err: fmt.Errorf("artifact missing after build: %w", err)}
	}

	b.logger.Info("target built", "target_id", target.ID, "path", path)
	return path, nil
}

// artifactPath resolves the target's artifact template. $(...) expressions
// see the target fields and the process environment.
func (b *CommandBuilder) artifactPath(target model.Target) (string, error) {
	ectx := &expr.Context{
		Target: map[string]any{
			"id":       target.ID,
			"name":     target.Name,
			"work_dir": target.WorkDir,
		},
		Env: expr.EnvMap(),
	}

	path, err := b.eval.Interpolate(target.Artifact, ectx)
	if err != nil {
		return "", fmt.Errorf("artifact template: %w", err)
	}
	if path == "" {
		return "", errors.New("artifact path is empty")
	}
	if !filepath.IsAbs(path) && target.WorkDir != "" {
		path = filepath.Join(target.WorkDir, path)
	}
	return path, nil
}
