package domain

import "time"

// StrategyTag identifica la estrategia que detectó una oportunidad.
type StrategyTag string

const (
	// StrategySumBelow es el arbitraje clásico: YES ask + NO ask + fees < 1.00.
	StrategySumBelow StrategyTag = "sum_below_redemption"
	// StrategyDirectional es una entrada a un solo lado votada por el ensemble.
	StrategyDirectional StrategyTag = "directional"
)

// Opportunity es un mispricing detectado, con los legs necesarios para
// capturarlo. Caduca: pasado el TTL los precios ya no son fiables y no debe
// ejecutarse.
type Opportunity struct {
	Strategy   StrategyTag
	Market     Market
	YesBook    OrderBook
	NoBook     OrderBook
	Legs       []Leg
	Edge       float64 // fracción de profit esperada sobre el coste
	EdgeMicros Micros  // profit esperado en micro-USDC para el sizing usado
	DetectedAt time.Time
	TTL        time.Duration
}

// Expired devuelve true si la oportunidad ya no debe ejecutarse.
func (o Opportunity) Expired(now time.Time) bool {
	return now.Sub(o.DetectedAt) > o.TTL
}

// Notional devuelve el coste total de todos los legs en Micros.
func (o Opportunity) Notional() Micros {
	var total Micros
	for _, leg := range o.Legs {
		total += leg.Order.Cost
	}
	return total
}
