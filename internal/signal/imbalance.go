package signal

// imbalance.go — provider basado en la presión del orderbook.
//
// Compara la profundidad USD de bids contra asks en ambos libros. Presión
// compradora fuerte en YES junto con presión vendedora en NO sugiere que el
// mercado está digiriendo información a favor de Up; y viceversa.

import (
	"context"
	"fmt"
	"math"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const imbalanceLevels = 5

// ImbalanceProvider vota según el desequilibrio bid/ask de los books.
type ImbalanceProvider struct {
	threshold float64 // desequilibrio neto mínimo para opinar, en [0, 1]
}

// NewImbalanceProvider crea el provider. threshold 0 usa el default 0.3.
func NewImbalanceProvider(threshold float64) *ImbalanceProvider {
	if threshold <= 0 {
		threshold = 0.3
	}
	return &ImbalanceProvider{threshold: threshold}
}

func (p *ImbalanceProvider) Name() string { return "imbalance" }

// Evaluate combina el imbalance de ambos books: el del YES pesa a favor de Up,
// el del NO en contra. Books vacíos o señal débil: neutral.
func (p *ImbalanceProvider) Evaluate(_ context.Context, sctx domain.SignalContext) (domain.Signal, error) {
	sig := domain.Signal{Provider: p.Name(), Action: domain.ActionNeutral}

	if len(sctx.YesBook.Bids) == 0 && len(sctx.YesBook.Asks) == 0 {
		sig.Reasoning = "empty yes book"
		return sig, nil
	}

	yesImb := sctx.YesBook.Imbalance(imbalanceLevels)
	noImb := sctx.NoBook.Imbalance(imbalanceLevels)
	net := (yesImb - noImb) / 2 // [-1, 1], positivo = presión hacia Up

	if math.Abs(net) < p.threshold {
		sig.Reasoning = fmt.Sprintf("net imbalance %.3f below %.3f", net, p.threshold)
		return sig, nil
	}

	conf := (math.Abs(net) - p.threshold) / (1 - p.threshold)
	if conf > 1 {
		conf = 1
	}

	if net > 0 {
		sig.Action = domain.ActionBuyYes
	} else {
		sig.Action = domain.ActionBuyNo
	}
	sig.Confidence = conf
	sig.Reasoning = fmt.Sprintf("yes imb %.3f, no imb %.3f, net %.3f", yesImb, noImb, net)
	return sig, nil
}
