package store

import (
	"context"

	"github.com/studentutu/shipyard/pkg/model"
)

// Store is the persistence layer: the target artifact registry plus run
// session history.
type Store interface {
	// Artifact registry
	GetArtifactPath(ctx context.Context, targetID string) (string, error)
	SetArtifactPath(ctx context.Context, targetID, path string) error

	// Run history
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*model.Run, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
