package expression

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DependencyResolver looks up the direct dependency ids of a persisted
// dependent calculation. Non-dependent calculations resolve to nil.
type DependencyResolver func(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)

// CycleError reports a dependency cycle found while validating a dependent
// calculation. Path lists the ids along the cycle, starting and ending at
// the calculation being saved.
type CycleError struct {
	Path []uuid.UUID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = id.String()
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, " -> "))
}

// DetectCycle walks the dependency graph from the calculation being saved
// (with its proposed dependency list) and fails if any path leads back to
// it. Checked at create/update time so a cycle can never be persisted.
func DetectCycle(ctx context.Context, id uuid.UUID, deps []Dependency, resolve DependencyResolver) error {
	path := []uuid.UUID{id}
	onPath := map[uuid.UUID]bool{id: true}

	var walk func(ids []uuid.UUID) error
	walk = func(ids []uuid.UUID) error {
		for _, next := range ids {
			if onPath[next] {
				return &CycleError{Path: append(append([]uuid.UUID{}, path...), next)}
			}

			children, err := resolve(ctx, next)
			if err != nil {
				return fmt.Errorf("failed to resolve dependencies of %s: %w", next, err)
			}
			if len(children) == 0 {
				continue
			}

			path = append(path, next)
			onPath[next] = true
			if err := walk(children); err != nil {
				return err
			}
			delete(onPath, next)
			path = path[:len(path)-1]
		}
		return nil
	}

	direct := make([]uuid.UUID, len(deps))
	for i, d := range deps {
		direct[i] = d.CalculationID
	}
	return walk(direct)
}
