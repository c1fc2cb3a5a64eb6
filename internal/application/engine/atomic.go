package engine

// atomic.go — coordinador de trades multi-leg.
//
// Un par YES+NO solo tiene valor completo: un leg suelto es una posición
// direccional que nadie pidió. La máquina de estados es estricta: si el
// segundo leg no llena, el primero se deshace vendiendo al bid ejecutable y
// la pérdida del unwind se contabiliza como coste de ejecución.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// PairState es el estado de un trade atómico.
type PairState string

const (
	PairPreparing      PairState = "PREPARING"
	PairLegsSubmitted  PairState = "LEGS_SUBMITTED"
	PairAllFilled      PairState = "ALL_FILLED"
	PairPartialFailure PairState = "PARTIAL_FAILURE"
	PairUnwinding      PairState = "UNWINDING"
	PairUnwound        PairState = "UNWOUND"
	PairAborted        PairState = "ABORTED" // ningún leg llenó, sin exposición
)

// PairResult es el desenlace de un trade atómico.
type PairResult struct {
	State         PairState
	PairID        string
	Positions     []domain.Position   // posiciones abiertas (AllFilled)
	UnwindOutcome *domain.TradeOutcome // pérdida realizada del unwind, si hubo
	StrandedLeg   *domain.Position     // leg que no se pudo deshacer, si hubo
}

// AtomicExecutor ejecuta oportunidades leg a leg con unwind compensatorio.
type AtomicExecutor struct {
	legs  *LegRunner
	fees  *domain.FeeModel
	store ports.Store
}

// NewAtomicExecutor crea el coordinador.
func NewAtomicExecutor(legs *LegRunner, fees *domain.FeeModel, store ports.Store) *AtomicExecutor {
	return &AtomicExecutor{legs: legs, fees: fees, store: store}
}

// Execute corre los legs de la oportunidad en orden. Con todos llenos devuelve
// las posiciones listas para el ledger; con fallo parcial deshace lo llenado.
func (ae *AtomicExecutor) Execute(ctx context.Context, opp domain.Opportunity) (PairResult, error) {
	res := PairResult{State: PairPreparing}
	if len(opp.Legs) == 0 {
		return res, fmt.Errorf("atomic: opportunity without legs")
	}
	if len(opp.Legs) > 1 {
		res.PairID = uuid.NewString()
	}

	res.State = PairLegsSubmitted
	filled := make([]domain.Leg, 0, len(opp.Legs))

	for i := range opp.Legs {
		leg := opp.Legs[i]
		if err := ae.legs.Run(ctx, &leg.Order, opp.Market.NegRisk); err != nil {
			slog.Warn("leg execution error", "token", leg.Order.TokenID, "err", err)
		}
		if leg.Order.Status != domain.OrderFilled {
			if len(filled) == 0 {
				res.State = PairAborted
				return res, nil
			}
			res.State = PairPartialFailure
			return ae.unwind(ctx, res, opp, filled)
		}
		filled = append(filled, leg)
	}

	res.State = PairAllFilled
	now := time.Now()
	for _, leg := range filled {
		res.Positions = append(res.Positions, ae.positionFromLeg(leg, opp.Market, res.PairID, now))
	}
	return res, nil
}

// unwind vende los legs llenados al bid ejecutable. La pérdida resultante es
// un coste de ejecución: cuenta en el P&L diario pero no en las rachas.
func (ae *AtomicExecutor) unwind(ctx context.Context, res PairResult, opp domain.Opportunity, filled []domain.Leg) (PairResult, error) {
	res.State = PairUnwinding
	now := time.Now()

	for _, leg := range filled {
		book := opp.YesBook
		if leg.Outcome == "No" {
			book = opp.NoBook
		}
		shares := leg.Order.FilledSize
		bid := book.ExecutableBid(shares)
		if bid <= 0 {
			bid = book.BestBid()
		}

		entryCost := ae.filledCost(leg.Order)

		if bid <= 0 {
			// Sin bids no hay unwind posible: el leg queda como posición
			// direccional huérfana y la política de salidas lo gestiona.
			stranded := ae.positionFromLeg(leg, opp.Market, res.PairID, now)
			res.StrandedLeg = &stranded
			slog.Error("unwind impossible, stranded leg", "token", leg.Order.TokenID, "shares", shares)
			return res, nil
		}

		sell := domain.NewOrder(leg.Order.ConditionID, leg.Order.TokenID, domain.SideSell, domain.SizedOrder{
			Price:  bid,
			Shares: shares,
			Cost:   domain.MulPrice(domain.FromUSDC(shares, domain.RoundNearest), domain.PriceToMicros(bid), domain.RoundDown),
		}, now)

		if err := ae.legs.Run(ctx, &sell, opp.Market.NegRisk); err != nil {
			slog.Warn("unwind sell error", "token", leg.Order.TokenID, "err", err)
		}
		if sell.Status != domain.OrderFilled {
			stranded := ae.positionFromLeg(leg, opp.Market, res.PairID, now)
			res.StrandedLeg = &stranded
			slog.Error("unwind sell not filled, stranded leg", "token", leg.Order.TokenID)
			return res, nil
		}

		proceeds := domain.MulPrice(
			domain.FromUSDC(sell.FilledSize, domain.RoundNearest),
			domain.PriceToMicros(sell.FilledPrice),
			domain.RoundDown)
		pnl := proceeds - entryCost

		out := domain.TradeOutcome{
			PositionID: leg.Order.ClientID,
			Asset:      opp.Market.Asset,
			PnL:        pnl,
			Reason:     domain.CloseUnwind,
			IsUnwind:   true,
			ClosedAt:   now,
		}
		res.UnwindOutcome = &out
		slog.Warn("pair unwound", "asset", opp.Market.Asset, "loss", pnl.USDC())
	}

	res.State = PairUnwound
	return res, nil
}

// positionFromLeg construye la posición resultante de un leg lleno. El coste
// de entrada incluye el fee del venue redondeado hacia arriba.
func (ae *AtomicExecutor) positionFromLeg(leg domain.Leg, market domain.Market, pairID string, now time.Time) domain.Position {
	return domain.Position{
		ID:          uuid.NewString(),
		PairID:      pairID,
		ConditionID: market.ConditionID,
		TokenID:     leg.Order.TokenID,
		Asset:       market.Asset,
		Outcome:     leg.Outcome,
		Shares:      leg.Order.FilledSize,
		EntryPrice:  leg.Order.FilledPrice,
		EntryCost:   ae.filledCost(leg.Order),
		EntryTime:   now,
		PeakPrice:   leg.Order.FilledPrice,
		Status:      domain.PositionOpen,
		MarketEnd:   market.EndDate,
	}
}

// filledCost devuelve el coste real pagado por un leg lleno: fill × precio más
// el fee del venue, ambos redondeados hacia arriba.
func (ae *AtomicExecutor) filledCost(o domain.Order) domain.Micros {
	sharesM := domain.FromUSDC(o.FilledSize, domain.RoundNearest)
	priceM := domain.PriceToMicros(o.FilledPrice)
	cost := domain.MulPrice(sharesM, priceM, domain.RoundUp)
	fee := cost.MulFrac(int64(math.Round(ae.fees.Rate(o.FilledPrice)*1e6)), 1e6, domain.RoundUp)
	return cost + fee
}
