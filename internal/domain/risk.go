package domain

import "time"

// RiskState es el estado de riesgo del motor. Solo el risk manager lo muta;
// el scanner lo lee antes de cada entrada. Se persiste entero para sobrevivir
// reinicios.
type RiskState struct {
	Day             string // "2006-01-02", frontera del reset diario
	DailyRealized   Micros // P&L realizado del día (negativo = pérdida)
	ConsecutiveLoss int
	ConsecutiveWin  int
	BreakerActive   bool
	BreakerSince    *time.Time
	OpenNotional    Micros           // suma de EntryCost de posiciones abiertas
	OpenByAsset     map[string]int   // posiciones abiertas por asset
}

// NewRiskState crea un estado limpio para el día de now.
func NewRiskState(now time.Time) *RiskState {
	return &RiskState{
		Day:         now.Format("2006-01-02"),
		OpenByAsset: make(map[string]int),
	}
}

// RolloverIfNewDay resetea el acumulado diario al cruzar la frontera de día
// wall-clock. Las rachas y el breaker NO se resetean: una racha de pérdidas a
// las 23:59 sigue siendo una racha a las 00:01.
func (rs *RiskState) RolloverIfNewDay(now time.Time) bool {
	day := now.Format("2006-01-02")
	if day == rs.Day {
		return false
	}
	rs.Day = day
	rs.DailyRealized = 0
	return true
}

// ApplyOutcome actualiza rachas y acumulado diario con un cierre realizado.
// Los unwinds cuentan en DailyRealized pero no tocan las rachas: son fallos
// de ejecución, no señales de calidad de la estrategia.
func (rs *RiskState) ApplyOutcome(out TradeOutcome, lossStreak, winStreak int, now time.Time) {
	rs.DailyRealized += out.PnL - out.GasCostUSDC
	if out.IsUnwind {
		return
	}
	if out.PnL < 0 {
		rs.ConsecutiveLoss++
		rs.ConsecutiveWin = 0
		if !rs.BreakerActive && lossStreak > 0 && rs.ConsecutiveLoss >= lossStreak {
			rs.BreakerActive = true
			t := now
			rs.BreakerSince = &t
		}
		return
	}
	rs.ConsecutiveWin++
	rs.ConsecutiveLoss = 0
	if rs.BreakerActive && winStreak > 0 && rs.ConsecutiveWin >= winStreak {
		rs.BreakerActive = false
		rs.BreakerSince = nil
	}
}
