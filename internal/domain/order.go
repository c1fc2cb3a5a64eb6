package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus es el ciclo de vida de una orden en el CLOB.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderExpired   OrderStatus = "EXPIRED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal devuelve true si el status no puede cambiar más.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderExpired, OrderCancelled:
		return true
	}
	return false
}

// Side es la dirección de una orden.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order es una orden local. ClientID es el identificador interno que liga
// orden, posición y persistencia; el venue identifica la orden por el hash
// que devuelve tras el submit.
type Order struct {
	ClientID    string // UUID asignado localmente
	CLOBOrderID string // hash de orden del venue (0x...), tras el submit
	ConditionID string
	TokenID     string
	Side        Side
	Price       float64
	Shares      float64
	Cost        Micros
	Status      OrderStatus
	CreatedAt   time.Time
	SubmittedAt *time.Time
	FilledAt    *time.Time
	FilledPrice float64
	FilledSize  float64
}

// NewOrder crea una orden en estado CREATED con un ClientID fresco.
func NewOrder(conditionID, tokenID string, side Side, sized SizedOrder, now time.Time) Order {
	return Order{
		ClientID:    uuid.NewString(),
		ConditionID: conditionID,
		TokenID:     tokenID,
		Side:        side,
		Price:       sized.Price,
		Shares:      sized.Shares,
		Cost:        sized.Cost,
		Status:      OrderCreated,
		CreatedAt:   now,
	}
}

// LegRole identifica la posición de un leg dentro de un trade multi-leg.
type LegRole int

const (
	LegFirst LegRole = iota
	LegSecond
)

// Leg es una orden más su rol dentro de un trade atómico.
type Leg struct {
	Role    LegRole
	Order   Order
	Outcome string // "Yes" | "No", para el ledger
}

// PlaceOrderRequest es la petición que viaja al executor del CLOB.
type PlaceOrderRequest struct {
	ClientID    string
	TokenID     string
	ConditionID string
	Price       float64
	Shares      float64
	Side        Side
	OrderType   string // "FOK" | "GTC"
	NegRisk     bool
}

// PlacedOrder es la respuesta del CLOB tras colocar una orden.
type PlacedOrder struct {
	CLOBOrderID string
	Status      string
	TakenAmount float64 // llenado inmediato (taker)
	MadeAmount  float64 // resting en el book (maker)
}
