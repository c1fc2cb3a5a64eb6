package signal

// momentum.go — provider direccional basado en el feed de referencia.
//
// Si el spot de Binance se movió más que el umbral dentro de la ventana de
// momentum, el lado YES (Up) o NO (Down) del mercado de 15 minutos está
// infravalorado con más probabilidad que el book lo refleja. Alta volatilidad
// degrada la confianza: un pico de momentum en mercado nervioso revierte fácil.

import (
	"context"
	"fmt"
	"math"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// MomentumProvider vota según el momentum del precio spot de referencia.
type MomentumProvider struct {
	minMove  float64 // cambio fraccional mínimo para opinar
	highVol  float64 // umbral de volatilidad que degrada la confianza
}

// NewMomentumProvider crea el provider con el movimiento mínimo y el umbral de
// volatilidad alta de la config.
func NewMomentumProvider(minMove, highVol float64) *MomentumProvider {
	return &MomentumProvider{minMove: minMove, highVol: highVol}
}

func (p *MomentumProvider) Name() string { return "momentum" }

// Evaluate vota buy_yes con momentum positivo fuerte, buy_no con negativo.
// Sin feed o sin movimiento suficiente: neutral.
func (p *MomentumProvider) Evaluate(_ context.Context, sctx domain.SignalContext) (domain.Signal, error) {
	sig := domain.Signal{Provider: p.Name(), Action: domain.ActionNeutral}

	if sctx.RefPrice <= 0 {
		sig.Reasoning = "no reference price"
		return sig, nil
	}

	move := sctx.RefMomentum
	if math.Abs(move) < p.minMove {
		sig.Reasoning = fmt.Sprintf("move %.4f below threshold %.4f", move, p.minMove)
		return sig, nil
	}

	// Confianza proporcional al exceso sobre el umbral, saturando en 3x.
	conf := math.Abs(move) / (p.minMove * 3)
	if conf > 1 {
		conf = 1
	}
	if p.highVol > 0 && sctx.RefVolatility > p.highVol {
		conf *= 0.5
	}

	if move > 0 {
		sig.Action = domain.ActionBuyYes
	} else {
		sig.Action = domain.ActionBuyNo
	}
	sig.Confidence = conf
	sig.Reasoning = fmt.Sprintf("spot moved %+.4f (vol %.5f)", move, sctx.RefVolatility)
	return sig, nil
}
