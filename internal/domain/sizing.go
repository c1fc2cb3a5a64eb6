package domain

// sizing.go — conversión de notional deseado a (price, size) legal para el venue.
//
// Fuente clásica de rechazos por un centavo: un size redondeado hacia abajo
// deja el producto por debajo del mínimo del venue. Aquí el size SIEMPRE se
// redondea hacia arriba al lot step y el producto se re-verifica en Micros
// después del redondeo. Si aun así no cuadra, se rechaza el trade.

import (
	"errors"
	"fmt"
)

var (
	// ErrBelowMinOrder indica que ni redondeando el size hacia arriba se
	// alcanza el valor mínimo de orden del venue.
	ErrBelowMinOrder = errors.New("sizing: order value below venue minimum")
	// ErrBadSizingInput indica parámetros imposibles (precio o lot step cero).
	ErrBadSizingInput = errors.New("sizing: invalid input")
)

// SizedOrder es el resultado del sizing: precio y tamaño listos para el wire,
// más el coste verificado en Micros.
type SizedOrder struct {
	Price  float64 // precio por share, tal como se cotiza
	Shares float64 // tamaño en shares, múltiplo del lot step
	Cost   Micros  // Price × Shares verificado, redondeado hacia arriba
}

// SizeOrder produce un (price, size) tal que price×size ≥ minOrderValue y
// size cubre al menos el notional pedido. lotStep es la granularidad de size
// del venue en shares (p. ej. 0.01). Falla cerrado: ante cualquier duda, error.
func SizeOrder(notional Micros, price float64, minOrderValue Micros, lotStep float64) (SizedOrder, error) {
	if price <= 0 || price > 1 || lotStep <= 0 || notional <= 0 {
		return SizedOrder{}, fmt.Errorf("%w: notional=%s price=%f lot=%f",
			ErrBadSizingInput, notional, price, lotStep)
	}

	priceMicros := PriceToMicros(price)
	if priceMicros <= 0 {
		return SizedOrder{}, fmt.Errorf("%w: price rounds to zero", ErrBadSizingInput)
	}
	lotMicros := FromUSDC(lotStep, RoundNearest)
	if lotMicros <= 0 {
		return SizedOrder{}, fmt.Errorf("%w: lot step rounds to zero", ErrBadSizingInput)
	}

	// Target: el mayor entre el notional pedido y el mínimo del venue.
	target := notional
	if minOrderValue > target {
		target = minOrderValue
	}

	// shares = ceil(target / price), luego hacia arriba al múltiplo de lot.
	shares := target.MulFrac(MicrosPerUSDC, int64(priceMicros), RoundUp)
	shares = ceilToStep(shares, lotMicros)

	// Re-verificación del producto tras el redondeo. El coste se redondea
	// hacia arriba (es lo que pagamos); el check del mínimo usa el producto
	// redondeado hacia abajo, que es lo que el venue va a ver como valor.
	cost := MulPrice(shares, priceMicros, RoundUp)
	venueValue := MulPrice(shares, priceMicros, RoundDown)
	if venueValue < minOrderValue {
		// Un lot más y re-verificar una única vez; si sigue corto, rechazar.
		shares += lotMicros
		cost = MulPrice(shares, priceMicros, RoundUp)
		venueValue = MulPrice(shares, priceMicros, RoundDown)
		if venueValue < minOrderValue {
			return SizedOrder{}, fmt.Errorf("%w: value=%s min=%s", ErrBelowMinOrder, venueValue, minOrderValue)
		}
	}

	return SizedOrder{Price: price, Shares: shares.USDC(), Cost: cost}, nil
}

// ceilToStep redondea v hacia arriba al múltiplo de step más cercano.
func ceilToStep(v, step Micros) Micros {
	if step <= 0 {
		return v
	}
	rem := v % step
	if rem == 0 {
		return v
	}
	return v + step - rem
}
