package directory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/aggregate"
	"github.com/bryannaegele/maestro/pkg/hlc"
	"github.com/bryannaegele/maestro/pkg/registry"
	"github.com/bryannaegele/maestro/pkg/store/memory"
)

func testConfig() aggregate.Config {
	return aggregate.NewConfig("counter", aggregate.WithInitialState(func() *structpb.Struct {
		s, _ := structpb.NewStruct(map[string]any{"count": 0})
		return s
	}))
}

func TestWhereisStartsAndReusesInstance(t *testing.T) {
	ctx := context.Background()
	dir := New(ctx, testConfig(), memory.New(), registry.New(), hlc.NewSystemClock(), nil)

	first, err := dir.Whereis("a1")
	require.NoError(t, err)
	second, err := dir.Whereis("a1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, dir.Len())
}

func TestWhereisCollapsesConcurrentStartsOntoOneInstance(t *testing.T) {
	ctx := context.Background()
	dir := New(ctx, testConfig(), memory.New(), registry.New(), hlc.NewSystemClock(), nil)

	const n = 20
	results := make([]*aggregate.Instance, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			inst, err := dir.Whereis("shared")
			require.NoError(t, err)
			results[i] = inst
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, dir.Len())
}

func TestWhereisDistinctIDsGetDistinctInstances(t *testing.T) {
	ctx := context.Background()
	dir := New(ctx, testConfig(), memory.New(), registry.New(), hlc.NewSystemClock(), nil)

	a, err := dir.Whereis("a1")
	require.NoError(t, err)
	b, err := dir.Whereis("a2")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, dir.Len())
}

func TestForgetRemovesTrackedInstance(t *testing.T) {
	ctx := context.Background()
	dir := New(ctx, testConfig(), memory.New(), registry.New(), hlc.NewSystemClock(), nil)

	_, err := dir.Whereis("a1")
	require.NoError(t, err)
	require.Equal(t, 1, dir.Len())

	dir.Forget("a1")
	assert.Equal(t, 0, dir.Len())
}
