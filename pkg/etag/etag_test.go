package etag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	items := []string{"milk", "eggs"}

	a, err := Compute(items, 1)
	require.NoError(t, err)
	b, err := Compute(items, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 34)

	c, err := Compute(items, 2)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := Compute([]string{"milk"}, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestMatch(t *testing.T) {
	tag := `"abc"`
	assert.True(t, Match(`"abc"`, tag))
	assert.True(t, Match(`"x", "abc"`, tag))
	assert.True(t, Match(`W/"abc"`, tag))
	assert.True(t, Match(`*`, tag))
	assert.False(t, Match(`"abd"`, tag))
	assert.False(t, Match("", tag))
}
