package domain

// money.go — aritmética monetaria en punto fijo.
//
// Todos los importes que afectan a una orden (notional, fees, P&L, el producto
// price×size del sizing) se representan como micro-USDC en int64. Los float64
// solo viven en el borde de market data (precios de book) y en display.

import (
	"fmt"
	"math"
)

// Micros es un importe en micro-USDC (1 USDC = 1_000_000 Micros).
type Micros int64

// MicrosPerUSDC es el factor de conversión USDC ↔ Micros.
const MicrosPerUSDC = 1_000_000

// Rounding identifica el modo de redondeo de una conversión. Cada conversión
// que afecta a una orden declara su modo explícitamente; no hay redondeo
// implícito en ningún camino de dinero.
type Rounding int

const (
	// RoundDown trunca hacia cero. Para estimaciones de proceeds.
	RoundDown Rounding = iota
	// RoundUp redondea alejándose de cero. Para costes y tamaños mínimos:
	// nunca subestimar lo que pagamos.
	RoundUp
	// RoundNearest redondea al más cercano, half away from zero. Para display
	// y claves de cache.
	RoundNearest
)

// FromUSDC convierte un importe en USDC a Micros con el modo de redondeo dado.
func FromUSDC(v float64, mode Rounding) Micros {
	scaled := v * MicrosPerUSDC
	switch mode {
	case RoundUp:
		if scaled >= 0 {
			return Micros(math.Ceil(scaled))
		}
		return Micros(math.Floor(scaled))
	case RoundNearest:
		return Micros(math.Round(scaled))
	default:
		return Micros(math.Trunc(scaled))
	}
}

// USDC devuelve el importe como float64 en USDC. Solo para display y logs.
func (m Micros) USDC() float64 {
	return float64(m) / MicrosPerUSDC
}

// String formatea como dólares con 6 decimales.
func (m Micros) String() string {
	return fmt.Sprintf("$%.6f", m.USDC())
}

// MulFrac multiplica por una fracción num/den con el modo de redondeo dado.
// La multiplicación intermedia usa int64; con importes < $9e12 no desborda.
func (m Micros) MulFrac(num, den int64, mode Rounding) Micros {
	if den == 0 {
		return 0
	}
	prod := int64(m) * num
	q := prod / den
	r := prod % den
	if r == 0 {
		return Micros(q)
	}
	switch mode {
	case RoundUp:
		if (prod >= 0) == (den >= 0) {
			q++
		} else {
			q--
		}
	case RoundNearest:
		if abs64(r)*2 >= abs64(den) {
			if (prod >= 0) == (den >= 0) {
				q++
			} else {
				q--
			}
		}
	}
	return Micros(q)
}

// MulPrice multiplica un tamaño en shares (Micros de share) por un precio
// [0,1] expresado también en Micros, devolviendo el coste en micro-USDC.
func MulPrice(size, price Micros, mode Rounding) Micros {
	return size.MulFrac(int64(price), MicrosPerUSDC, mode)
}

// PriceToMicros convierte un precio de book [0, 1] a Micros por share.
// Los precios se redondean al más cercano: son datos cotizados, no derivados.
func PriceToMicros(p float64) Micros {
	return FromUSDC(p, RoundNearest)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
