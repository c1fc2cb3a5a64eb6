package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// SignalProvider emite una recomendación direccional sobre un mercado.
// Un timeout o error del provider se trata como skip, nunca tumba el ciclo.
type SignalProvider interface {
	// Name identifica al provider en logs y en los pesos de config.
	Name() string

	// Evaluate devuelve el voto del provider para el contexto dado.
	Evaluate(ctx context.Context, sctx domain.SignalContext) (domain.Signal, error)
}
