package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)
	assert.Equal(t, start, c.Now())

	assert.Equal(t, start.Add(time.Minute), c.Advance(time.Minute))
	assert.Equal(t, start.Add(time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestSystem_IsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System{}.Now().Location())
}
