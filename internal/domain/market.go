package domain

import (
	"strings"
	"time"
)

// Market representa un mercado de predicción binario de 15 minutos (up/down
// sobre un spot crypto). Inmutable por snapshot: cada refresh lo reemplaza
// entero, nunca se muta in place.
type Market struct {
	ConditionID   string
	QuestionID    string
	Question      string
	Slug          string    // p.ej. "btc-updown-15m-2026-08-29-1430"
	Asset         string    // BTC | ETH | SOL | XRP
	EndDate       time.Time // cierre del intervalo de 15 minutos
	TickSize      float64   // granularidad de precio declarada por el venue
	MinOrderValue float64   // valor mínimo de orden en USDC declarado por el venue
	NegRisk       bool
	Tokens        [2]Token
	Active        bool
	Closed        bool
}

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string  // "Yes" | "No"
	Price   float64 // último precio mid del CLOB
}

// SecondsToClose devuelve los segundos hasta el cierre del mercado en now.
// Devuelve 0 si EndDate no está definido o ya pasó.
func (m Market) SecondsToClose(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	s := m.EndDate.Sub(now).Seconds()
	if s < 0 {
		return 0
	}
	return s
}

// Tradeable devuelve true si el mercado acepta órdenes: activo, no cerrado y
// con cierre en el futuro.
func (m Market) Tradeable(now time.Time) bool {
	return m.Active && !m.Closed && m.EndDate.After(now)
}

// YesToken devuelve el token YES del mercado.
func (m Market) YesToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "Yes" {
			return t
		}
	}
	return m.Tokens[0]
}

// NoToken devuelve el token NO del mercado.
func (m Market) NoToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "No" {
			return t
		}
	}
	return m.Tokens[1]
}

// AssetFromSlug extrae el asset de un slug "{asset}-updown-15m-...".
// Devuelve "" si el slug no sigue el patrón.
func AssetFromSlug(slug string) string {
	idx := strings.Index(slug, "-updown-15m-")
	if idx <= 0 {
		return ""
	}
	return strings.ToUpper(slug[:idx])
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del conditionID como fallback.
func TruncateQuestion(question, conditionID string, maxLen int) string {
	q := question
	if q == "" {
		if len(conditionID) > 20 {
			q = conditionID[:20] + "..."
		} else {
			q = conditionID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
