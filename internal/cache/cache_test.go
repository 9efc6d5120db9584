package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRemove(t *testing.T) {
	c := New(2)
	c.Put("a", "1")

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)

	c.Remove("a")
	_, ok = c.Get("a")
	require.False(t, ok)
}

func TestCapacityZeroDisablesCaching(t *testing.T) {
	c := New(0)
	c.Put("a", "1")

	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Get("a") // touch a, making b the LRU entry
	c.Put("c", "3")

	_, ok := c.Get("b")
	require.False(t, ok, "b should have been evicted")

	_, ok = c.Get("a")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
}

func TestClearDropsEverything(t *testing.T) {
	c := New(2)
	c.Put("a", "1")
	c.Clear()

	_, ok := c.Get("a")
	require.False(t, ok)
}
