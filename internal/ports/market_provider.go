package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// MarketProvider obtiene el snapshot de mercados tradeables desde el venue.
type MarketProvider interface {
	// FetchIntervalMarkets devuelve los mercados up/down del intervalo de 15
	// minutos en curso para los assets dados. El snapshot es inmutable: cada
	// llamada lo reemplaza entero.
	FetchIntervalMarkets(ctx context.Context, assets []string) ([]domain.Market, error)
}
