package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(t time.Time) (*time.Time, func() time.Time) {
	now := t
	return &now, func() time.Time { return now }
}

func TestSetAndGet(t *testing.T) {
	c := New[bool]()
	c.Set("blocked:203.0.113.5", true, time.Second)
	val, ok := c.Get("blocked:203.0.113.5")
	assert.True(t, ok)
	assert.True(t, val)
}

func TestExpiration(t *testing.T) {
	c := New[string]()
	now, clock := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.now = clock

	c.Set("key1", "value1", time.Minute)
	*now = now.Add(time.Minute)
	_, ok := c.Get("key1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestDelete(t *testing.T) {
	c := New[string]()
	c.Set("key1", "value1", time.Second)
	c.Delete("key1")
	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := New[int]()
	c.Set("blocked:1", 1, time.Second)
	c.Set("blocked:2", 2, time.Second)
	c.Set("tenant:1", 3, time.Second)
	c.Invalidate("blocked:")
	_, ok1 := c.Get("blocked:1")
	_, ok2 := c.Get("blocked:2")
	_, ok3 := c.Get("tenant:1")
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3)
}
