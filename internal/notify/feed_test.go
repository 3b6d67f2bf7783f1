package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_DrainReturnsInOrderAndClears(t *testing.T) {
	f := NewFeed(4, nil)
	f.Success("Burger added to cart!")
	f.Error("No more Burger in stock!")

	got := f.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, LevelSuccess, got[0].Level)
	assert.Equal(t, "Burger added to cart!", got[0].Message)
	assert.Equal(t, LevelError, got[1].Level)

	assert.Empty(t, f.Drain())
}

func TestFeed_DropsOldestWhenFull(t *testing.T) {
	f := NewFeed(2, nil)
	f.Success("a")
	f.Success("b")
	f.Success("c")

	got := f.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
	assert.Equal(t, "c", got[1].Message)
}
