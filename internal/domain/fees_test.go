package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeeModel_PeakAtMidpoint(t *testing.T) {
	f := NewFeeModel(0.001, 0.03)
	assert.InDelta(t, 0.03, f.Rate(0.50), 1e-9)
}

func TestFeeModel_DecaysTowardExtremes(t *testing.T) {
	f := NewFeeModel(0.001, 0.03)
	assert.Greater(t, f.Rate(0.50), f.Rate(0.70))
	assert.Greater(t, f.Rate(0.70), f.Rate(0.90))
}

func TestFeeModel_FloorAtExtremes(t *testing.T) {
	f := NewFeeModel(0.001, 0.03)
	assert.InDelta(t, 0.001, f.Rate(0.99), 1e-9)
	assert.InDelta(t, 0.001, f.Rate(0.01), 1e-9)
	assert.InDelta(t, 0.001, f.Rate(0.0), 1e-9)
}

func TestFeeModel_OutOfRangeClamped(t *testing.T) {
	f := NewFeeModel(0.001, 0.03)
	assert.Equal(t, f.Rate(0.0), f.Rate(-0.5))
	assert.Equal(t, f.Rate(1.0), f.Rate(1.5))
}

func TestFeeModel_CacheHitMatchesRecompute(t *testing.T) {
	f := NewFeeModel(0.001, 0.03)
	first := f.Rate(0.4321)
	second := f.Rate(0.4321)
	assert.Equal(t, first, second)
	// Misma key de 6 decimales → mismo valor cacheado.
	assert.Equal(t, first, f.Rate(0.43210000001))
}

// Para todo p con fee(p) > 0: total_cost(p, 1−p) ≥ p + (1−p). Los fees nunca
// subsidian el trade.
func TestFeeModel_TotalCostNeverSubsidizes(t *testing.T) {
	f := NewFeeModel(0.001, 0.03)
	for p := 0.01; p < 1.0; p += 0.01 {
		_, _, total := f.TotalCost(p, 1-p)
		base := PriceToMicros(p) + PriceToMicros(1-p)
		assert.GreaterOrEqual(t, int64(total), int64(base), "p=%f", p)
	}
}

func TestFeeModel_TotalCostComponents(t *testing.T) {
	f := NewFeeModel(0.001, 0.03)
	feeYes, feeNo, total := f.TotalCost(0.48, 0.47)
	assert.Greater(t, int64(feeYes), int64(0))
	assert.Greater(t, int64(feeNo), int64(0))
	expected := PriceToMicros(0.48) + PriceToMicros(0.47) + feeYes + feeNo
	assert.Equal(t, expected, total)
}

func TestNewFeeModel_DegenerateParams(t *testing.T) {
	f := NewFeeModel(-1, -2)
	assert.Equal(t, 0.0, f.Rate(0.5))
}
