package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountEmpty(t *testing.T) {
	assert.Equal(t, 0, NewCounter().Count(""))
}

func TestCountGrowsWithText(t *testing.T) {
	// Exact counts depend on whether the encoding could be loaded; both the
	// real tokenizer and the bytes/4 estimate satisfy these bounds.
	c := NewCounter()
	short := c.Count("goblin")
	long := c.Count("The goblin shaman raises its gnarled staff and the cave walls shudder.")

	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestCountIsStable(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, c.Count("the flooded crypt"), c.Count("the flooded crypt"))
}
