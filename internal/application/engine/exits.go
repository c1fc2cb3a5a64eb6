package engine

// exits.go — política de salida de posiciones direccionales.
//
// Las reglas se evalúan en orden de prioridad fija: guard de cierre del
// mercado, edad máxima, trailing stop, take-profit dinámico y stop-loss
// dinámico. La primera que dispara gana; el precio de salida cotiza siempre
// contra el bid ejecutable para el tamaño entero, nunca contra el midpoint.

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/polytrader/config"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

// ExitDecision es el veredicto de la política para una posición.
type ExitDecision struct {
	Close     bool
	Reason    domain.CloseReason
	ExitPrice float64 // bid ejecutable para el tamaño de la posición
	Detail    string
}

// ExitPolicy evalúa las reglas de salida con los umbrales de config.
type ExitPolicy struct {
	cfg     config.ExitConfig
	highVol float64 // umbral de volatilidad que estrecha el stop
	minMove float64 // momentum adverso mínimo que encoge el take-profit
}

// NewExitPolicy crea la política con los umbrales de config.
func NewExitPolicy(cfg config.ExitConfig, highVol, minMove float64) *ExitPolicy {
	return &ExitPolicy{cfg: cfg, highVol: highVol, minMove: minMove}
}

// Evaluate decide si la posición debe cerrarse. adverseMomentum es el momentum
// del spot en contra de la posición (positivo = en contra); refVol la
// volatilidad del feed de referencia.
func (ep *ExitPolicy) Evaluate(p domain.Position, market domain.Market, book domain.OrderBook, adverseMomentum, refVol float64, now time.Time) ExitDecision {
	bid := book.ExecutableBid(p.Shares)
	if bid <= 0 {
		// Sin profundidad para el tamaño entero: degradar al best bid y que el
		// FOK decida. Si tampoco hay bids no hay salida posible este ciclo.
		bid = book.BestBid()
	}

	// 1. Guard de cierre: con el mercado a punto de resolver, la liquidez se
	// evapora y el riesgo pasa a ser binario. Fuera incondicionalmente.
	if secs := market.SecondsToClose(now); secs > 0 && secs < float64(ep.cfg.CloseGuardSeconds) {
		return ExitDecision{Close: true, Reason: domain.CloseMarketGuard, ExitPrice: bid,
			Detail: "market closing soon"}
	}

	// 2. Edad máxima.
	maxAge := time.Duration(ep.cfg.MaxAgeSeconds) * time.Second
	if age := p.Age(now); age >= maxAge {
		return ExitDecision{Close: true, Reason: domain.CloseMaxAge, ExitPrice: bid,
			Detail: "position too old"}
	}

	if bid <= 0 {
		return ExitDecision{}
	}

	ret := p.UnrealizedReturn(bid)

	// 3. Trailing stop: activo solo tras una ganancia mínima en el pico; cierra
	// si el retroceso desde el pico devora la fracción configurada de la ganancia.
	if p.PeakPrice > p.EntryPrice && p.EntryPrice > 0 {
		peakGain := (p.PeakPrice - p.EntryPrice) / p.EntryPrice
		if peakGain >= ep.cfg.TrailingActivation {
			giveback := (p.PeakPrice - bid) / (p.PeakPrice - p.EntryPrice)
			if giveback >= ep.cfg.TrailingRetracement {
				return ExitDecision{Close: true, Reason: domain.CloseTrailingStop, ExitPrice: bid,
					Detail: "retraced from peak"}
			}
		}
	}

	// 4. Take-profit dinámico.
	tp := ep.dynamicTakeProfit(p, market, adverseMomentum, now)
	if ret >= tp {
		return ExitDecision{Close: true, Reason: domain.CloseTakeProfit, ExitPrice: bid,
			Detail: "take profit hit"}
	}

	// 5. Stop-loss dinámico.
	sl := ep.dynamicStopLoss(p, refVol, now)
	if ret <= -sl {
		return ExitDecision{Close: true, Reason: domain.CloseStopLoss, ExitPrice: bid,
			Detail: "stop loss hit"}
	}

	return ExitDecision{}
}

// dynamicTakeProfit parte del TP base y lo encoge con tres factores: tiempo
// restante del mercado, edad de la posición y momentum adverso del spot. El
// resultado se acota a [TakeProfitMin, TakeProfitMax].
func (ep *ExitPolicy) dynamicTakeProfit(p domain.Position, market domain.Market, adverseMomentum float64, now time.Time) float64 {
	tp := ep.cfg.TakeProfitBase

	// Menos tiempo hasta el cierre: menos recorrido posible, conformarse antes.
	if secs := market.SecondsToClose(now); secs > 0 {
		frac := secs / (15 * 60)
		if frac < 1 {
			tp *= 0.5 + 0.5*frac
		}
	}

	// Posición vieja: el edge de entrada ya se diluyó.
	maxAge := float64(ep.cfg.MaxAgeSeconds)
	if maxAge > 0 {
		ageFrac := p.Age(now).Seconds() / maxAge
		if ageFrac > 0.5 {
			tp *= 1.5 - ageFrac
		}
	}

	// Spot moviéndose en contra: tomar lo que haya.
	if ep.minMove > 0 && adverseMomentum >= ep.minMove {
		tp *= 0.6
	}

	final := clampF(tp, ep.cfg.TakeProfitMin, ep.cfg.TakeProfitMax)
	if final != ep.cfg.TakeProfitBase {
		slog.Debug("dynamic take profit",
			"position", p.ID, "base", ep.cfg.TakeProfitBase, "final", final)
	}
	return final
}

// dynamicStopLoss estrecha el SL base con volatilidad alta del spot y con la
// edad de la posición. Nunca baja del 1%.
func (ep *ExitPolicy) dynamicStopLoss(p domain.Position, refVol float64, now time.Time) float64 {
	sl := ep.cfg.StopLossBase

	if ep.highVol > 0 && refVol > ep.highVol {
		sl *= 0.7
	}
	maxAge := float64(ep.cfg.MaxAgeSeconds)
	if maxAge > 0 && p.Age(now).Seconds() > maxAge/2 {
		sl *= 0.8
	}

	final := clampF(sl, 0.01, ep.cfg.StopLossBase)
	if final != ep.cfg.StopLossBase {
		slog.Debug("dynamic stop loss",
			"position", p.ID, "base", ep.cfg.StopLossBase, "final", final)
	}
	return final
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
