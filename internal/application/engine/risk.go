package engine

// risk.go — gates de riesgo previos a cada entrada.
//
// El RiskManager envuelve domain.RiskState con el mutex y la persistencia.
// Cada outcome realizado pasa por aquí antes de que el engine siga; el estado
// se escribe a DB en el mismo paso para que el breaker sobreviva reinicios.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/config"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// RiskManager aplica los límites de RiskConfig sobre un RiskState persistido.
type RiskManager struct {
	mu      sync.Mutex
	state   *domain.RiskState
	cfg     config.RiskConfig
	capital domain.Micros
	store   ports.Store
}

// NewRiskManager crea el manager con estado limpio. Llamar Restore antes de
// operar para recuperar el estado persistido.
func NewRiskManager(cfg config.RiskConfig, initialCapitalUSDC float64, store ports.Store) *RiskManager {
	return &RiskManager{
		state:   domain.NewRiskState(time.Now()),
		cfg:     cfg,
		capital: domain.FromUSDC(initialCapitalUSDC, domain.RoundNearest),
		store:   store,
	}
}

// Restore carga el estado de riesgo persistido si existe. Un estado de otro
// día se conserva: el rollover del primer ciclo lo resetea preservando rachas.
func (r *RiskManager) Restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, found, err := r.store.LoadRiskState(ctx)
	if err != nil {
		return fmt.Errorf("risk.Restore: %w", err)
	}
	if !found {
		return nil
	}
	if rs.OpenByAsset == nil {
		rs.OpenByAsset = make(map[string]int)
	}
	r.state = &rs
	slog.Info("risk state restored",
		"day", rs.Day,
		"daily_pnl", rs.DailyRealized.USDC(),
		"loss_streak", rs.ConsecutiveLoss,
		"breaker", rs.BreakerActive)
	return nil
}

// Rollover resetea el acumulado diario al cruzar la frontera de día.
func (r *RiskManager) Rollover(ctx context.Context, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.RolloverIfNewDay(now) {
		return false
	}
	slog.Info("daily risk rollover", "day", r.state.Day,
		"loss_streak", r.state.ConsecutiveLoss, "breaker", r.state.BreakerActive)
	if err := r.store.SaveRiskState(ctx, *r.state); err != nil {
		slog.Error("persist risk state after rollover", "err", err)
	}
	return true
}

// MayEnter evalúa los gates en orden fijo y devuelve el primero que bloquea.
// openNotional y openByAsset vienen del ledger: el risk manager no cuenta
// posiciones, solo juzga.
func (r *RiskManager) MayEnter(asset string, notional, openNotional domain.Micros, openByAsset map[string]int) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.BreakerActive {
		return false, "circuit breaker active"
	}

	lossCap := domain.FromUSDC(r.cfg.DailyLossCapUSDC, domain.RoundNearest)
	if r.state.DailyRealized <= -lossCap {
		return false, fmt.Sprintf("daily loss cap reached (%.2f)", r.state.DailyRealized.USDC())
	}

	if r.capital > 0 {
		heat := float64(openNotional+notional) / float64(r.capital)
		if heat > r.cfg.PortfolioHeatCap {
			return false, fmt.Sprintf("portfolio heat %.2f above cap %.2f", heat, r.cfg.PortfolioHeatCap)
		}
	}

	if openByAsset[asset] >= r.cfg.MaxPositionsPerAsset {
		return false, fmt.Sprintf("max positions for %s reached (%d)", asset, r.cfg.MaxPositionsPerAsset)
	}

	return true, ""
}

// ApplyOutcome registra un cierre realizado: rachas, breaker y acumulado
// diario, y persiste el estado y el outcome.
func (r *RiskManager) ApplyOutcome(ctx context.Context, out domain.TradeOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasActive := r.state.BreakerActive
	r.state.ApplyOutcome(out, r.cfg.BreakerLossStreak, r.cfg.BreakerWinStreak, out.ClosedAt)

	if r.state.BreakerActive && !wasActive {
		slog.Warn("circuit breaker OPEN", "loss_streak", r.state.ConsecutiveLoss, "asset", out.Asset)
	}
	if !r.state.BreakerActive && wasActive {
		slog.Info("circuit breaker closed", "win_streak", r.state.ConsecutiveWin)
	}

	if err := r.store.SaveOutcome(ctx, out); err != nil {
		slog.Error("persist trade outcome", "position", out.PositionID, "err", err)
	}
	if err := r.store.SaveRiskState(ctx, *r.state); err != nil {
		slog.Error("persist risk state", "err", err)
	}
}

// SyncExposure actualiza la foto de exposición en el estado persistido.
func (r *RiskManager) SyncExposure(ctx context.Context, openNotional domain.Micros, byAsset map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.OpenNotional = openNotional
	r.state.OpenByAsset = byAsset
	if err := r.store.SaveRiskState(ctx, *r.state); err != nil {
		slog.Error("persist risk exposure", "err", err)
	}
}

// BreakerActive devuelve si el breaker está abierto.
func (r *RiskManager) BreakerActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.BreakerActive
}

// DailyRealized devuelve el P&L realizado del día.
func (r *RiskManager) DailyRealized() domain.Micros {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.DailyRealized
}

// Snapshot devuelve una copia del estado para informes.
func (r *RiskManager) Snapshot() domain.RiskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := *r.state
	rs.OpenByAsset = make(map[string]int, len(r.state.OpenByAsset))
	for k, v := range r.state.OpenByAsset {
		rs.OpenByAsset[k] = v
	}
	return rs
}
