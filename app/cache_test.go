package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheGetSetNegative(t *testing.T) {
	c := NewCache[string, int]()

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.False(t, c.IsNegative("a"))

	c.Set("a", 42)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.False(t, c.IsNegative("a"))

	c.SetNegative("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.True(t, c.IsNegative("a"))

	c.Set("a", 7)
	assert.False(t, c.IsNegative("a"))
	v, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	c.Flush()
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.False(t, c.IsNegative("a"))
}
