package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Store persiste el estado del trader: posiciones, órdenes, outcomes, riesgo
// y el checkpoint del sequencer.
type Store interface {
	ApplySchema(ctx context.Context) error

	// Posiciones
	SavePosition(ctx context.Context, p domain.Position) error
	UpdatePosition(ctx context.Context, p domain.Position) error
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)

	// Órdenes
	SaveOrder(ctx context.Context, o domain.Order) error
	UpdateOrder(ctx context.Context, o domain.Order) error

	// Outcomes realizados
	SaveOutcome(ctx context.Context, out domain.TradeOutcome) error

	// Estado de riesgo (sobrevive reinicios)
	SaveRiskState(ctx context.Context, rs domain.RiskState) error
	LoadRiskState(ctx context.Context) (domain.RiskState, bool, error)

	// Redemptions on-chain
	SaveRedemption(ctx context.Context, r domain.RedeemResult) error

	// Checkpoint del sequencer: último nonce usado.
	SaveSequencerCheckpoint(ctx context.Context, nonce uint64) error
	LoadSequencerCheckpoint(ctx context.Context) (uint64, bool, error)

	// Resumen diario
	UpsertDailySummary(ctx context.Context, d domain.DailySummary) error
	GetDailySummaries(ctx context.Context, from, to time.Time) ([]domain.DailySummary, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
