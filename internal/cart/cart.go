// Package cart реализует корзину, ограниченную известным остатком позиций меню.
package cart

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/canteen-station/internal/apperr"
	"github.com/mmeshcher/canteen-station/internal/model"
	"github.com/mmeshcher/canteen-station/internal/notify"
)

// Cart хранит строки корзины в порядке первого добавления.
//
// Остаток проверяется только в момент изменения по последнему снимку меню.
// Окончательную проверку выполняет сервис при оформлении заказа.
type Cart struct {
	mu       sync.Mutex
	lines    []model.CartLine
	notifier notify.Notifier
}

// New создаёт пустую корзину.
func New(n notify.Notifier) *Cart {
	if n == nil {
		n = notify.Discard{}
	}
	return &Cart{notifier: n}
}

// AddOrIncrement добавляет одну единицу позиции.
func (c *Cart) AddOrIncrement(entry model.CatalogEntry) error {
	err := c.addOrIncrement(entry)

	var msg string
	switch {
	case err == nil:
		c.notifier.Success(fmt.Sprintf("%s added to cart!", entry.Name))
		return nil
	case err == apperr.ErrSoldOut:
		msg = fmt.Sprintf("%s is sold out!", entry.Name)
	case err == apperr.ErrStockExhausted:
		msg = fmt.Sprintf("No more %s in stock!", entry.Name)
	}

	c.notifier.Error(msg)
	return apperr.Reject(err, msg)
}

func (c *Cart) addOrIncrement(entry model.CatalogEntry) error {
	if entry.SoldOut() {
		return apperr.ErrSoldOut
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(entry.ID)
	if i < 0 {
		c.lines = append(c.lines, model.CartLine{Entry: entry, Quantity: 1})
		return nil
	}

	if c.lines[i].Quantity >= entry.AvailableQuantity {
		return apperr.ErrStockExhausted
	}

	c.lines[i].Entry = entry
	c.lines[i].Quantity++
	return nil
}

// Decrement убирает одну единицу позиции. Строка удаляется, когда количество доходит до нуля.
// Для позиции, которой нет в корзине, ничего не делает.
func (c *Cart) Decrement(entry model.CatalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(entry.ID)
	if i < 0 {
		return
	}

	if c.lines[i].Quantity <= 1 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return
	}
	c.lines[i].Quantity--
}

// Clear удаляет все строки.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// Total пересчитывает сумму корзины при каждом вызове.
func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Lines возвращает копию строк корзины.
func (c *Cart) Lines() []model.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Quantity возвращает количество единиц позиции в корзине.
func (c *Cart) Quantity(entryID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(entryID); i >= 0 {
		return c.lines[i].Quantity
	}
	return 0
}

// Len возвращает число строк.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// IsEmpty сообщает, пуста ли корзина.
func (c *Cart) IsEmpty() bool {
	return c.Len() == 0
}

func (c *Cart) indexOf(entryID string) int {
	for i := range c.lines {
		if c.lines[i].Entry.ID == entryID {
			return i
		}
	}
	return -1
}
