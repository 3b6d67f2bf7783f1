// Package model содержит доменные сущности станции столовой.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogEntry описывает позицию меню с ценой и доступным остатком.
type CatalogEntry struct {
	ID                string
	Name              string
	UnitPrice         decimal.Decimal
	AvailableQuantity int
	Category          string
	ImageURL          string
}

// SoldOut сообщает, что позиция закончилась.
func (e CatalogEntry) SoldOut() bool {
	return e.AvailableQuantity <= 0
}

// CartLine описывает количество единиц одной позиции в корзине.
type CartLine struct {
	Entry    CatalogEntry
	Quantity int
}

// Subtotal возвращает стоимость строки корзины.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Entry.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderLine описывает строку заказа в момент оформления.
type OrderLine struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// OrderRequest содержит снимок корзины, отправляемый при оформлении заказа.
type OrderRequest struct {
	Lines       []OrderLine
	TotalAmount decimal.Decimal
}

// OrderStatus описывает статус заказа на стороне сервиса.
type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusFulfilled OrderStatus = "fulfilled"
)

// PickupLine описывает позицию, которую нужно выдать.
type PickupLine struct {
	Name     string
	Quantity int
}

// Order описывает заказ, подтверждённый сервисом выдачи.
type Order struct {
	OrderID     string
	Lines       []PickupLine
	TotalAmount decimal.Decimal
	Status      OrderStatus
}

// Confirmation передаётся экрану подтверждения после успешного оформления.
type Confirmation struct {
	OrderID  string
	Request  OrderRequest
	PlacedAt time.Time
}

// ScanState описывает состояние сеанса сканирования.
type ScanState string

const (
	ScanStateIdle      ScanState = "idle"
	ScanStateScanning  ScanState = "scanning"
	ScanStateVerifying ScanState = "verifying"
	ScanStateVerified  ScanState = "verified"
	ScanStateFailed    ScanState = "failed"
)

// IsTerminal сообщает, завершён ли цикл проверки.
func (s ScanState) IsTerminal() bool {
	return s == ScanStateVerified || s == ScanStateFailed
}

// ScanStatus содержит снимок сеанса сканирования для отображения.
type ScanStatus struct {
	SessionID     string
	State         ScanState
	LastPayload   string
	VerifiedOrder *Order
	ErrorMessage  string
}

// VerificationRecord описывает запись журнала проверок выдачи.
type VerificationRecord struct {
	SessionID  string
	Payload    string
	Outcome    string
	OrderID    string
	Message    string
	VerifiedAt time.Time
}
