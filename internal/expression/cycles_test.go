package expression

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphResolver(graph map[uuid.UUID][]uuid.UUID) DependencyResolver {
	return func(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
		return graph[id], nil
	}
}

func TestDetectCycleDirect(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	// a -> b, and b already depends on a.
	graph := map[uuid.UUID][]uuid.UUID{
		b: {a},
	}

	err := DetectCycle(context.Background(), a, []Dependency{{CalculationID: b, Variable: "b"}}, graphResolver(graph))
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []uuid.UUID{a, b, a}, cycleErr.Path)
}

func TestDetectCycleTransitive(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	graph := map[uuid.UUID][]uuid.UUID{
		b: {c},
		c: {a},
	}

	err := DetectCycle(context.Background(), a, []Dependency{{CalculationID: b, Variable: "b"}}, graphResolver(graph))
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []uuid.UUID{a, b, c, a}, cycleErr.Path)
}

func TestDetectCycleAcyclicGraph(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	// Diamond: a -> b -> c, a -> c. No cycle.
	graph := map[uuid.UUID][]uuid.UUID{
		b: {c},
	}

	deps := []Dependency{
		{CalculationID: b, Variable: "b"},
		{CalculationID: c, Variable: "c"},
	}
	assert.NoError(t, DetectCycle(context.Background(), a, deps, graphResolver(graph)))
}

func TestDetectCycleSelfReference(t *testing.T) {
	a := uuid.New()

	err := DetectCycle(context.Background(), a, []Dependency{{CalculationID: a, Variable: "self"}}, graphResolver(nil))
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []uuid.UUID{a, a}, cycleErr.Path)
}
