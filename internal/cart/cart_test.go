package cart

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/canteen-station/internal/apperr"
	"github.com/mmeshcher/canteen-station/internal/model"
	"github.com/mmeshcher/canteen-station/internal/notify"
)

func entry(id, name string, price int64, qty int) model.CatalogEntry {
	return model.CatalogEntry{
		ID:                id,
		Name:              name,
		UnitPrice:         decimal.NewFromInt(price),
		AvailableQuantity: qty,
		Category:          "Meals",
	}
}

func TestAddOrIncrement_SoldOut(t *testing.T) {
	feed := notify.NewFeed(8, nil)
	c := New(feed)
	fries := entry("2", "Fries", 30, 0)

	for i := 0; i < 3; i++ {
		err := c.AddOrIncrement(fries)
		require.ErrorIs(t, err, apperr.ErrSoldOut)
	}

	assert.True(t, c.IsEmpty())

	notices := feed.Drain()
	require.Len(t, notices, 3)
	assert.Equal(t, notify.LevelError, notices[0].Level)
	assert.Equal(t, "Fries is sold out!", notices[0].Message)
}

func TestAddOrIncrement_UpToStockThenExhausted(t *testing.T) {
	feed := notify.NewFeed(16, nil)
	c := New(feed)
	burger := entry("1", "Burger", 50, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.AddOrIncrement(burger))
	}

	err := c.AddOrIncrement(burger)
	require.ErrorIs(t, err, apperr.ErrStockExhausted)
	assert.Equal(t, 3, c.Quantity("1"))
	assert.Equal(t, 1, c.Len())

	notices := feed.Drain()
	require.Len(t, notices, 4)
	assert.Equal(t, "Burger added to cart!", notices[0].Message)
	assert.Equal(t, "No more Burger in stock!", notices[3].Message)
}

func TestAddOrIncrement_PreservesInsertionOrder(t *testing.T) {
	c := New(nil)
	burger := entry("1", "Burger", 50, 5)
	tea := entry("2", "Tea", 10, 5)
	samosa := entry("3", "Samosa", 15, 5)

	require.NoError(t, c.AddOrIncrement(tea))
	require.NoError(t, c.AddOrIncrement(burger))
	require.NoError(t, c.AddOrIncrement(samosa))
	require.NoError(t, c.AddOrIncrement(tea))

	lines := c.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "2", lines[0].Entry.ID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "1", lines[1].Entry.ID)
	assert.Equal(t, "3", lines[2].Entry.ID)
}

func TestAddOrIncrement_StockShrankBelowCartQuantity(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddOrIncrement(entry("1", "Burger", 50, 5)))
	require.NoError(t, c.AddOrIncrement(entry("1", "Burger", 50, 5)))

	err := c.AddOrIncrement(entry("1", "Burger", 50, 1))
	require.ErrorIs(t, err, apperr.ErrStockExhausted)
	assert.Equal(t, 2, c.Quantity("1"))
}

func TestDecrement(t *testing.T) {
	c := New(nil)
	burger := entry("1", "Burger", 50, 5)

	c.Decrement(burger)
	assert.True(t, c.IsEmpty())

	require.NoError(t, c.AddOrIncrement(burger))
	require.NoError(t, c.AddOrIncrement(burger))

	c.Decrement(burger)
	assert.Equal(t, 1, c.Quantity("1"))

	c.Decrement(burger)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, 0, c.Quantity("1"))
}

func TestTotal(t *testing.T) {
	c := New(nil)
	burger := entry("1", "Burger", 50, 5)
	tea := model.CatalogEntry{ID: "2", Name: "Tea", UnitPrice: decimal.RequireFromString("12.5"), AvailableQuantity: 3}

	assert.True(t, c.Total().IsZero())

	require.NoError(t, c.AddOrIncrement(burger))
	require.NoError(t, c.AddOrIncrement(burger))
	require.NoError(t, c.AddOrIncrement(tea))

	assert.True(t, decimal.RequireFromString("112.5").Equal(c.Total()), "total = %s", c.Total())

	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Total().IsZero())
}

func TestLines_ReturnsCopy(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddOrIncrement(entry("1", "Burger", 50, 5)))

	lines := c.Lines()
	lines[0].Quantity = 99

	assert.Equal(t, 1, c.Quantity("1"))
}

func TestRandomSequencesKeepInvariants(t *testing.T) {
	menu := []model.CatalogEntry{
		entry("1", "Burger", 50, 5),
		entry("2", "Fries", 30, 0),
		entry("3", "Tea", 10, 1),
		entry("4", "Thali", 120, 3),
	}
	rng := rand.New(rand.NewPCG(7, 42))
	c := New(nil)

	for step := 0; step < 2000; step++ {
		e := menu[rng.IntN(len(menu))]
		if rng.IntN(3) == 0 {
			c.Decrement(e)
		} else {
			_ = c.AddOrIncrement(e)
		}

		seen := map[string]bool{}
		want := decimal.Zero
		for _, l := range c.Lines() {
			require.GreaterOrEqual(t, l.Quantity, 1, "step %d", step)
			require.LessOrEqual(t, l.Quantity, l.Entry.AvailableQuantity, "step %d", step)
			require.False(t, seen[l.Entry.ID], "duplicate line for %s at step %d", l.Entry.ID, step)
			seen[l.Entry.ID] = true
			want = want.Add(l.Entry.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
		require.True(t, want.Equal(c.Total()), "step %d: total %s, want %s", step, c.Total(), want)
		require.False(t, seen["2"], "sold out entry must never enter the cart")
	}
}
