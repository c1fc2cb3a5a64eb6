package ports

import (
	"context"
	"time"
)

// ReferenceFeed es el stream externo de precios spot (Binance). El stream es
// infinito y no reiniciable: una reconexión crea una secuencia nueva, los
// consumidores solo ven el estado agregado.
type ReferenceFeed interface {
	// Run consume el stream hasta que el contexto se cancele, reconectando
	// ante cortes. Bloqueante; lanzar en su propia goroutine.
	Run(ctx context.Context) error

	// LastPrice devuelve el último precio del símbolo y si hay dato fresco.
	LastPrice(symbol string) (float64, bool)

	// Momentum devuelve el cambio fraccional del precio en la ventana dada.
	// 0 si no hay historia suficiente.
	Momentum(symbol string, window time.Duration) float64

	// Volatility devuelve la desviación de retornos por segundo en la ventana.
	Volatility(symbol string, window time.Duration) float64
}
