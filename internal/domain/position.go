package domain

import "time"

// PositionStatus es el ciclo de vida de una posición en el ledger.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
)

// CloseReason registra por qué se cerró una posición.
type CloseReason string

const (
	CloseMarketGuard  CloseReason = "market_close_guard"
	CloseMaxAge       CloseReason = "max_age"
	CloseTrailingStop CloseReason = "trailing_stop"
	CloseTakeProfit   CloseReason = "take_profit"
	CloseStopLoss     CloseReason = "stop_loss"
	CloseUnwind       CloseReason = "unwind"
	CloseRedemption   CloseReason = "redemption"
	CloseOrphan       CloseReason = "orphan_cleanup"
)

// Position es una posición abierta. Existe solo tras el fill confirmado de su
// leg de entrada; el ledger es su único dueño y nadie más la muta.
type Position struct {
	ID          string // UUID
	PairID      string // une YES+NO del mismo trade atómico; "" si direccional
	ConditionID string
	TokenID     string
	Asset       string
	Outcome     string // "Yes" | "No"
	Shares      float64
	EntryPrice  float64
	EntryCost   Micros // coste real pagado incluyendo fees
	EntryTime   time.Time
	PeakPrice   float64 // máximo precio observado desde la entrada (trailing)
	Status      PositionStatus
	CloseReason CloseReason
	ClosedAt    *time.Time
	ExitPrice   float64
	RealizedPnL Micros
	MarketEnd   time.Time
}

// Age devuelve la edad de la posición en now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// UnrealizedPnL devuelve el P&L no realizado en Micros si la posición se
// vendiera entera a exitPrice, sin contar fees de salida.
func (p Position) UnrealizedPnL(exitPrice float64) Micros {
	proceeds := MulPrice(FromUSDC(p.Shares, RoundNearest), PriceToMicros(exitPrice), RoundDown)
	return proceeds - p.EntryCost
}

// UnrealizedReturn devuelve el P&L no realizado como fracción del coste de
// entrada. 0.05 = +5%.
func (p Position) UnrealizedReturn(exitPrice float64) float64 {
	if p.EntryCost <= 0 {
		return 0
	}
	return float64(p.UnrealizedPnL(exitPrice)) / float64(p.EntryCost)
}

// TradeOutcome es el resultado realizado de un cierre, consumido por el risk
// manager. Los unwinds cuentan en la pérdida diaria pero no en las rachas.
type TradeOutcome struct {
	PositionID  string
	Asset       string
	PnL         Micros
	Reason      CloseReason
	IsUnwind    bool
	ClosedAt    time.Time
	GasCostUSDC Micros // coste on-chain atribuible (redemptions)
}
