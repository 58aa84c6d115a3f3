package model

// Target describes one named build target: the command that produces its
// artifact and the path the artifact lands at.
type Target struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	BuildCommand []string `yaml:"build_command" json:"build_command"`
	WorkDir      string   `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`

	// Artifact is the path the build command produces, relative to WorkDir
	// unless absolute. It may contain $(...) expressions evaluated against
	// the target and the process environment.
	Artifact string `yaml:"artifact" json:"artifact"`

	// When is an optional boolean expression; targets whose filter
	// evaluates to false are excluded from the run.
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// TargetArtifact pairs a target with its resolved artifact path.
type TargetArtifact struct {
	Target Target `json:"target"`
	Path   string `json:"path"`
}
