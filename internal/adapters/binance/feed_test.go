package binance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

func tick(symbol string, price float64, age time.Duration) domain.PriceTick {
	return domain.PriceTick{Symbol: symbol, Price: price, At: time.Now().Add(-age)}
}

func TestLastPrice(t *testing.T) {
	f := NewFeed(Config{HistoryCapacity: 10}, []string{"BTC"})

	_, ok := f.LastPrice("BTCUSDT")
	assert.False(t, ok, "sin ticks no hay precio")

	f.seed(tick("BTCUSDT", 65000, time.Second))
	price, ok := f.LastPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 65000.0, price)

	_, ok = f.LastPrice("ETHUSDT")
	assert.False(t, ok, "símbolo no suscrito")
}

func TestLastPrice_StaleNotFresh(t *testing.T) {
	f := NewFeed(Config{HistoryCapacity: 10}, []string{"BTC"})
	f.seed(tick("BTCUSDT", 65000, time.Minute))

	price, ok := f.LastPrice("BTCUSDT")
	assert.False(t, ok, "un tick de hace un minuto no es fresco")
	assert.Equal(t, 65000.0, price, "el precio se devuelve igualmente")
}

func TestMomentum(t *testing.T) {
	f := NewFeed(Config{HistoryCapacity: 10}, []string{"BTC"})
	f.seed(
		tick("BTCUSDT", 64000, 8*time.Second),
		tick("BTCUSDT", 64500, 4*time.Second),
		tick("BTCUSDT", 64640, time.Second),
	)

	m := f.Momentum("BTCUSDT", 10*time.Second)
	assert.InDelta(t, 0.01, m, 0.0001, "(64640-64000)/64000 = 1%%")

	// Ventana que solo cubre el último tick: sin momentum.
	assert.Zero(t, f.Momentum("BTCUSDT", 2*time.Second))
	assert.Zero(t, f.Momentum("ETHUSDT", 10*time.Second))
}

func TestMomentum_Negative(t *testing.T) {
	f := NewFeed(Config{HistoryCapacity: 10}, []string{"ETH"})
	f.seed(
		tick("ETHUSDT", 3000, 5*time.Second),
		tick("ETHUSDT", 2970, time.Second),
	)
	assert.InDelta(t, -0.01, f.Momentum("ETHUSDT", 10*time.Second), 0.0001)
}

func TestVolatility(t *testing.T) {
	f := NewFeed(Config{HistoryCapacity: 20}, []string{"BTC"})

	// Precio constante: volatilidad cero.
	for i := 10; i > 0; i-- {
		f.seed(tick("BTCUSDT", 64000, time.Duration(i)*time.Second))
	}
	assert.Zero(t, f.Volatility("BTCUSDT", 30*time.Second))

	// Precio oscilante: volatilidad positiva.
	g := NewFeed(Config{HistoryCapacity: 20}, []string{"BTC"})
	prices := []float64{64000, 64320, 63900, 64400, 63800}
	for i, p := range prices {
		g.seed(tick("BTCUSDT", p, time.Duration(len(prices)-i)*time.Second))
	}
	assert.Greater(t, g.Volatility("BTCUSDT", 30*time.Second), 0.0)

	// Historia insuficiente.
	assert.Zero(t, f.Volatility("ETHUSDT", 30*time.Second))
}

func TestRing_Overwrite(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.push(domain.PriceTick{Price: float64(i), At: time.Now()})
	}

	assert.Equal(t, 3, r.len())
	assert.Equal(t, 5.0, r.last().Price)

	ticks := r.since(time.Time{})
	require.Len(t, ticks, 3)
	// Los más viejos se descartan, el orden de llegada se conserva.
	assert.Equal(t, 3.0, ticks[0].Price)
	assert.Equal(t, 4.0, ticks[1].Price)
	assert.Equal(t, 5.0, ticks[2].Price)
}

func TestSymbolFor(t *testing.T) {
	assert.Equal(t, "BTCUSDT", SymbolFor("btc"))
	assert.Equal(t, "XRPUSDT", SymbolFor("XRP"))
}
