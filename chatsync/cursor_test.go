package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCursorAdvance(t *testing.T) {
	c := NewCursor(base)

	assert.True(t, c.Advance(base.Add(time.Second)))
	assert.Equal(t, base.Add(time.Second), c.Current())

	assert.False(t, c.Advance(base.Add(time.Second)), "same value is not an advance")
	assert.False(t, c.Advance(base), "cursor must not regress")
	assert.Equal(t, base.Add(time.Second), c.Current())
}
