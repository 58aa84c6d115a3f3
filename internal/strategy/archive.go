package strategy

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/studentutu/shipyard/internal/expr"
	"github.com/studentutu/shipyard/internal/task"
	"github.com/studentutu/shipyard/pkg/model"
)

// ArchiveStrategy packages every artifact into a single zip bundle in the
// output directory. Packaging is local and synchronous, so the task
// completes on its first advance.
type ArchiveStrategy struct {
	dir          string
	nameTemplate string
	eval         *expr.Evaluator
}

// NewArchiveStrategy creates an ArchiveStrategy writing bundles to dir.
// nameTemplate may contain $(...) expressions with access to env.
func NewArchiveStrategy(dir, nameTemplate string) *ArchiveStrategy {
	if dir == "" {
		dir = "dist"
	}
	if nameTemplate == "" {
		nameTemplate = "bundle-$(new Date().toISOString().slice(0, 10)).zip"
	}
	return &ArchiveStrategy{dir: dir, nameTemplate: nameTemplate, eval: expr.NewEvaluator()}
}

// Type returns model.StrategyTypeArchive.
func (s *ArchiveStrategy) Type() model.StrategyType {
	return model.StrategyTypeArchive
}

// AllowEmptyTargets returns false: an empty bundle is a misconfiguration.
func (s *ArchiveStrategy) AllowEmptyTargets() bool {
	return false
}

// Task builds the packaging task.
func (s *ArchiveStrategy) Task(rc *Context, artifacts []model.TargetArtifact, forceBuild bool) *task.Task {
	logger := rc.Logger.With("component", "archive-strategy")

	return task.New("distribute-archive", func() task.Step {
		path, size, err := s.pack(artifacts)
		if err != nil {
			logger.Error("pack artifacts", "error", err)
			return task.Done(false)
		}
		logger.Info("bundle written",
			"path", path,
			"size", humanize.Bytes(uint64(size)),
			"artifacts", len(artifacts),
		)
		return task.Done(true)
	})
}

// pack writes the zip bundle and returns its path and size.
func (s *ArchiveStrategy) pack(artifacts []model.TargetArtifact) (string, int64, error) {
	name, err := s.eval.Interpolate(s.nameTemplate, &expr.Context{Env: expr.EnvMap()})
	if err != nil {
		return "", 0, fmt.Errorf("bundle name template: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create bundle dir: %w", err)
	}
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create bundle: %w", err)
	}

	zw := zip.NewWriter(f)
	for _, art := range artifacts {
		if err := addEntry(zw, art); err != nil {
			zw.Close()
			f.Close()
			return "", 0, fmt.Errorf("add %s: %w", art.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	return path, st.Size(), nil
}

// addEntry stores one artifact under <target-id>/<basename>.
func addEntry(zw *zip.Writer, art model.TargetArtifact) error {
	src, err := os.Open(art.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.Create(filepath.Join(art.Target.ID, filepath.Base(art.Path)))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
