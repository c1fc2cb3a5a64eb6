package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeOrder_Basic(t *testing.T) {
	// $10 a 0.50 → 20 shares, coste $10.00
	so, err := SizeOrder(FromUSDC(10, RoundNearest), 0.50, FromUSDC(1, RoundNearest), 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, so.Shares, 1e-9)
	assert.Equal(t, FromUSDC(10, RoundNearest), so.Cost)
}

func TestSizeOrder_RoundsSharesUpToLot(t *testing.T) {
	// $10 a 0.48 → 20.8333… shares → 20.84 con lot 0.01
	so, err := SizeOrder(FromUSDC(10, RoundNearest), 0.48, FromUSDC(1, RoundNearest), 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 20.84, so.Shares, 1e-9)
	assert.GreaterOrEqual(t, int64(so.Cost), int64(FromUSDC(10, RoundNearest)))
}

func TestSizeOrder_ProductAlwaysCoversMinimum(t *testing.T) {
	minOrder := FromUSDC(1, RoundNearest)
	prices := []float64{0.01, 0.03, 0.07, 0.13, 0.33, 0.48, 0.50, 0.52, 0.67, 0.97, 0.99}
	notionals := []float64{0.5, 1.0, 1.01, 2.37, 5, 9.99, 100}
	lots := []float64{0.01, 0.1, 1, 5}
	for _, p := range prices {
		for _, n := range notionals {
			for _, lot := range lots {
				so, err := SizeOrder(FromUSDC(n, RoundNearest), p, minOrder, lot)
				require.NoError(t, err, "p=%f n=%f lot=%f", p, n, lot)
				value := MulPrice(FromUSDC(so.Shares, RoundNearest), PriceToMicros(so.Price), RoundDown)
				assert.GreaterOrEqual(t, int64(value), int64(minOrder), "p=%f n=%f lot=%f", p, n, lot)
			}
		}
	}
}

func TestSizeOrder_SizeNeverBelowTarget(t *testing.T) {
	notional := FromUSDC(7.77, RoundNearest)
	so, err := SizeOrder(notional, 0.61, FromUSDC(1, RoundNearest), 0.01)
	require.NoError(t, err)
	// shares × price ≥ notional pedido
	assert.GreaterOrEqual(t, int64(so.Cost), int64(notional))
}

func TestSizeOrder_MinimumDominatesSmallNotional(t *testing.T) {
	// Notional de $0.10 con mínimo de $1 → el sizing sube al mínimo.
	so, err := SizeOrder(FromUSDC(0.10, RoundNearest), 0.50, FromUSDC(1, RoundNearest), 0.01)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(so.Cost), int64(FromUSDC(1, RoundNearest)))
}

func TestSizeOrder_FailsClosed(t *testing.T) {
	_, err := SizeOrder(FromUSDC(10, RoundNearest), 0, FromUSDC(1, RoundNearest), 0.01)
	assert.ErrorIs(t, err, ErrBadSizingInput)

	_, err = SizeOrder(FromUSDC(10, RoundNearest), 1.5, FromUSDC(1, RoundNearest), 0.01)
	assert.ErrorIs(t, err, ErrBadSizingInput)

	_, err = SizeOrder(0, 0.5, FromUSDC(1, RoundNearest), 0.01)
	assert.ErrorIs(t, err, ErrBadSizingInput)

	_, err = SizeOrder(FromUSDC(10, RoundNearest), 0.5, FromUSDC(1, RoundNearest), 0)
	assert.ErrorIs(t, err, ErrBadSizingInput)
}

func TestCeilToStep(t *testing.T) {
	assert.Equal(t, Micros(100), ceilToStep(100, 10))
	assert.Equal(t, Micros(110), ceilToStep(101, 10))
	assert.Equal(t, Micros(110), ceilToStep(109, 10))
}
