package domain

import "strconv"

// OrderBook representa el libro de órdenes de un token.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // ordenados mayor a menor precio
	Asks    []BookEntry // ordenados menor a mayor precio
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread devuelve el spread del book (ask - bid).
func (ob OrderBook) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// ExecutableAsk devuelve el peor precio que habría que cruzar para COMPRAR
// shares unidades contra los asks. Es el precio límite que garantiza fill
// inmediato para ese tamaño. Devuelve 0 si no hay profundidad suficiente.
func (ob OrderBook) ExecutableAsk(shares float64) float64 {
	return walkLevels(ob.Asks, shares)
}

// ExecutableBid devuelve el peor precio que habría que cruzar para VENDER
// shares unidades contra los bids. Las salidas cotizan siempre contra este
// precio, no contra el midpoint: un límite no ejecutable deja la posición
// colgada. Devuelve 0 si no hay profundidad suficiente.
func (ob OrderBook) ExecutableBid(shares float64) float64 {
	return walkLevels(ob.Bids, shares)
}

func walkLevels(levels []BookEntry, shares float64) float64 {
	if shares <= 0 || len(levels) == 0 {
		return 0
	}
	remaining := shares
	for _, lvl := range levels {
		remaining -= lvl.Size
		if remaining <= 0 {
			return lvl.Price
		}
	}
	return 0
}

// Imbalance devuelve (bidDepth − askDepth) / (bidDepth + askDepth) sobre los
// primeros levels niveles, en [−1, 1]. Positivo = presión compradora.
func (ob OrderBook) Imbalance(levels int) float64 {
	var bid, ask float64
	for i, b := range ob.Bids {
		if i >= levels {
			break
		}
		bid += b.Size * b.Price
	}
	for i, a := range ob.Asks {
		if i >= levels {
			break
		}
		ask += a.Size * a.Price
	}
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}

// VolumeWeightedPrice calcula el precio medio ponderado por volumen
// para comprar hasta maxUSDC en USDC recorriendo los asks del book.
func VolumeWeightedPrice(asks []BookEntry, maxUSDC float64) float64 {
	if len(asks) == 0 || maxUSDC <= 0 {
		return 0
	}
	totalShares := 0.0
	totalCost := 0.0
	remaining := maxUSDC

	for _, ask := range asks {
		levelCost := ask.Size * ask.Price
		if levelCost <= remaining {
			totalShares += ask.Size
			totalCost += levelCost
			remaining -= levelCost
		} else {
			// Fill parcial de este nivel
			sharesToBuy := remaining / ask.Price
			totalShares += sharesToBuy
			totalCost += remaining
			break
		}
	}

	if totalShares == 0 {
		return 0
	}
	return totalCost / totalShares
}

// ParsePrice convierte un string de precio a float64.
// Usado en el mapping de la API.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
