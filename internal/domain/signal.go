package domain

import "time"

// Action es la recomendación direccional de un signal provider.
type Action string

const (
	ActionBuyYes  Action = "buy_yes"
	ActionBuyNo   Action = "buy_no"
	ActionBuyBoth Action = "buy_both"
	ActionSkip    Action = "skip"
	ActionNeutral Action = "neutral" // el provider no opina; no cuenta en el voto
)

// Signal es el voto de un provider sobre un mercado.
type Signal struct {
	Provider   string
	Action     Action
	Confidence float64 // [0, 1]
	Reasoning  string
}

// SignalContext es lo que un provider ve para decidir: el mercado, sus books
// y el estado del feed de referencia. Todo read-only.
type SignalContext struct {
	Market       Market
	YesBook      OrderBook
	NoBook       OrderBook
	RefPrice     float64 // último spot del feed de referencia, 0 si no hay
	RefMomentum  float64 // cambio fraccional en la ventana de momentum
	RefVolatility float64
	Now          time.Time
}

// PriceTick es una observación del feed externo de precios de referencia.
type PriceTick struct {
	Symbol string
	Price  float64
	At     time.Time
}
