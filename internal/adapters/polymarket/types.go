package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket es la metadata de un mercado en Gamma. Gamma devuelve varios
// campos numéricos y los arrays de tokens/outcomes como strings JSON.
type gammaMarket struct {
	ConditionID  string      `json:"conditionId"`
	QuestionID   string      `json:"questionID"`
	Question     string      `json:"question"`
	Slug         string      `json:"slug"`
	EndDateISO   string      `json:"endDateIso"`
	ClobTokenIDs string      `json:"clobTokenIds"` // "[\"123...\",\"456...\"]"
	Outcomes     string      `json:"outcomes"`     // "[\"Up\",\"Down\"]"
	Volume24h    json.Number `json:"volume24hr"`
	Active       bool        `json:"active"`
	Closed       bool        `json:"closed"`
}

// --- CLOB API ---

// clobMarketResponse es GET /markets/{condition_id}: los parámetros de trading
// que el venue declara y que nunca se asumen (tick, mínimo, neg risk).
type clobMarketResponse struct {
	ConditionID     string      `json:"condition_id"`
	QuestionID      string      `json:"question_id"`
	MinimumOrderSz  json.Number `json:"minimum_order_size"`
	MinimumTickSize json.Number `json:"minimum_tick_size"`
	NegRisk         bool        `json:"neg_risk"`
	Active          bool        `json:"active"`
	Closed          bool        `json:"closed"`
	Tokens          []clobToken `json:"tokens"`
}

// clobToken representa un token (outcome) en el CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
