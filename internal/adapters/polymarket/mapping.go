package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// mapGammaMarket convierte un gammaMarket a domain.Market. Gamma codifica los
// token IDs y outcomes como strings JSON anidados; si no se pueden parsear el
// mercado se descarta (sin tokens no hay nada que tradear).
func mapGammaMarket(gm gammaMarket) (domain.Market, bool) {
	var tokenIDs []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) < 2 {
		return domain.Market{}, false
	}
	var outcomes []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil || len(outcomes) < 2 {
		return domain.Market{}, false
	}

	m := domain.Market{
		ConditionID: gm.ConditionID,
		QuestionID:  gm.QuestionID,
		Question:    gm.Question,
		Slug:        gm.Slug,
		Asset:       domain.AssetFromSlug(gm.Slug),
		Active:      gm.Active,
		Closed:      gm.Closed,
		EndDate:     parseGammaDate(gm.EndDateISO),
	}

	// El venue etiqueta los outcomes Up/Down; internamente el primer outcome
	// es el lado YES y el segundo el NO.
	m.Tokens[0] = domain.Token{TokenID: tokenIDs[0], Outcome: "Yes"}
	m.Tokens[1] = domain.Token{TokenID: tokenIDs[1], Outcome: "No"}

	return m, true
}

// applyClobParams copia los parámetros de trading declarados por el CLOB
// (tick, mínimo de orden, neg risk, precios actuales) sobre el mercado.
func applyClobParams(m *domain.Market, cm clobMarketResponse) {
	if v, err := cm.MinimumTickSize.Float64(); err == nil && v > 0 {
		m.TickSize = v
	}
	if v, err := cm.MinimumOrderSz.Float64(); err == nil && v > 0 {
		m.MinOrderValue = v
	}
	m.NegRisk = cm.NegRisk
	if cm.Closed {
		m.Closed = true
	}

	for _, t := range cm.Tokens {
		for i := range m.Tokens {
			if m.Tokens[i].TokenID == t.TokenID {
				m.Tokens[i].Price = t.Price
			}
		}
	}
}

// parseGammaDate intenta los formatos de fecha que usa Polymarket.
func parseGammaDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		ob := domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
		result[r.AssetID] = ob
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}
