package hlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemClockMonotone(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	c := NewSystemClockWithNode(7).WithTimeSource(func() time.Time { return frozen })

	var prev Timestamp
	for i := 0; i < 1000; i++ {
		ts, err := c.Now()
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, prev.Before(ts), "timestamp %d did not advance past %d", i, i-1)
		}
		prev = ts
	}
	assert.Equal(t, uint64(7), prev.Node)
}

func TestSystemClockAdvancesWithWallTime(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	cur := base
	c := NewSystemClockWithNode(1).WithTimeSource(func() time.Time { return cur })

	first, err := c.Now()
	require.NoError(t, err)

	cur = base.Add(5 * time.Millisecond)
	second, err := c.Now()
	require.NoError(t, err)

	assert.True(t, first.Before(second))
	assert.Equal(t, uint32(0), second.Logical)
	assert.Greater(t, second.Physical, first.Physical)
}

func TestTimestampCompare(t *testing.T) {
	a := Timestamp{Physical: 10, Logical: 0, Node: 1}
	b := Timestamp{Physical: 10, Logical: 1, Node: 1}
	c := Timestamp{Physical: 10, Logical: 1, Node: 2}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, -1, b.Compare(c))
	assert.Equal(t, 0, a.Compare(a))
}

func TestStringRoundTripsAndSorts(t *testing.T) {
	a := Timestamp{Physical: 1_700_000_000_000, Logical: 3, Node: 42}
	b := Timestamp{Physical: 1_700_000_000_001, Logical: 0, Node: 1}

	parsedA, err := Parse(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsedA)

	parsedB, err := Parse(b.String())
	require.NoError(t, err)
	assert.Equal(t, b, parsedB)

	assert.Less(t, a.String(), b.String())
}

func TestNodeIDStableAcrossCalls(t *testing.T) {
	c := NewSystemClock()
	node := c.NodeID()
	ts, err := c.Now()
	require.NoError(t, err)
	assert.Equal(t, node, ts.Node)
}
