package domain

// fees.go — modelo de fees del venue.
//
// La curva tiene su máximo en p=0.50 y decae linealmente hacia los extremos,
// con un suelo mínimo. Forma y parámetros vienen de config porque el venue
// los cambia; nada está hard-coded.

import (
	"math"
	"sync"
)

// FeeModel calcula el fee rate para un precio dado. Es una función pura con
// cache: un miss recomputa exactamente el mismo valor, la cache solo ahorra
// trabajo en los hot paths del scanner.
type FeeModel struct {
	floor float64
	peak  float64

	mu    sync.RWMutex
	cache map[int64]float64
}

// NewFeeModel crea el modelo con la curva rate(p) = max(floor, peak×(1−|2p−1|)).
func NewFeeModel(floor, peak float64) *FeeModel {
	if floor < 0 {
		floor = 0
	}
	if peak < floor {
		peak = floor
	}
	return &FeeModel{
		floor: floor,
		peak:  peak,
		cache: make(map[int64]float64),
	}
}

// feeKey redondea el precio a 6 decimales para acotar el tamaño de la cache.
func feeKey(price float64) int64 {
	return int64(math.Round(price * 1e6))
}

// Rate devuelve el fee rate para un precio en [0, 1]. Precios fuera de rango
// se tratan como el extremo más cercano.
func (f *FeeModel) Rate(price float64) float64 {
	if price < 0 {
		price = 0
	}
	if price > 1 {
		price = 1
	}
	key := feeKey(price)

	f.mu.RLock()
	if rate, ok := f.cache[key]; ok {
		f.mu.RUnlock()
		return rate
	}
	f.mu.RUnlock()

	rate := f.compute(float64(key) / 1e6)

	f.mu.Lock()
	f.cache[key] = rate
	f.mu.Unlock()
	return rate
}

func (f *FeeModel) compute(price float64) float64 {
	rate := f.peak * (1 - math.Abs(2*price-1))
	if rate < f.floor {
		rate = f.floor
	}
	return rate
}

// TotalCost calcula el coste total de comprar ambos lados de un par binario:
// total = pYes + pNo + pYes×fee(pYes) + pNo×fee(pNo), todo en Micros.
// Los fees se redondean hacia arriba: el coste estimado nunca queda corto.
func (f *FeeModel) TotalCost(priceYes, priceNo float64) (feeYes, feeNo, total Micros) {
	pY := PriceToMicros(priceYes)
	pN := PriceToMicros(priceNo)
	feeYes = feeMicros(pY, f.Rate(priceYes))
	feeNo = feeMicros(pN, f.Rate(priceNo))
	total = pY + pN + feeYes + feeNo
	return feeYes, feeNo, total
}

// feeMicros aplica un rate a un precio en Micros, redondeando hacia arriba.
func feeMicros(price Micros, rate float64) Micros {
	return price.MulFrac(int64(math.Round(rate*1e6)), 1e6, RoundUp)
}
