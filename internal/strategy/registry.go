package strategy

import (
	"fmt"
	"log/slog"

	"github.com/studentutu/shipyard/pkg/model"
)

// Registry maps StrategyType values to their Strategy implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	strategies map[model.StrategyType]Strategy
	logger     *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		strategies: make(map[model.StrategyType]Strategy),
		logger:     logger.With("component", "strategy-registry"),
	}
}

// Register adds a Strategy to the registry, keyed by its Type().
func (r *Registry) Register(s Strategy) {
	t := s.Type()
	r.strategies[t] = s
	r.logger.Info("strategy registered", "type", t)
}

// Get returns the Strategy for the given type or an error if none is registered.
func (r *Registry) Get(t model.StrategyType) (Strategy, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for type %q", t)
	}
	return s, nil
}
