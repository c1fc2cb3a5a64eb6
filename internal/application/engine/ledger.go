package engine

// ledger.go — dueño único de las posiciones abiertas.
//
// Toda mutación de posiciones pasa por aquí bajo un solo mutex: el scanner,
// la política de salidas y el coordinador atómico ven snapshots, nunca
// punteros compartidos. La DB se escribe en el mismo paso que la memoria para
// que un crash deje como mucho una posición de más, nunca una de menos.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// Ledger mantiene las posiciones abiertas en memoria con persistencia write-through.
type Ledger struct {
	mu    sync.Mutex
	byID  map[string]*domain.Position
	store ports.Store
}

// NewLedger crea un ledger vacío.
func NewLedger(store ports.Store) *Ledger {
	return &Ledger{
		byID:  make(map[string]*domain.Position),
		store: store,
	}
}

// Adopt incorpora posiciones recuperadas de la DB en el arranque. No escribe:
// ya están persistidas.
func (l *Ledger) Adopt(positions []domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		p := p
		l.byID[p.ID] = &p
	}
}

// Open registra una posición nueva y la persiste.
func (l *Ledger) Open(ctx context.Context, p domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[p.ID]; exists {
		return fmt.Errorf("ledger.Open: duplicate position %s", p.ID)
	}
	if err := l.store.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("ledger.Open: %w", err)
	}
	stored := p
	l.byID[p.ID] = &stored
	return nil
}

// MarkPeak actualiza el pico de precio si price lo supera. Solo memoria: el
// pico se persiste en el siguiente write de la posición, perderlo en un crash
// solo retrasa un trailing stop.
func (l *Ledger) MarkPeak(id string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.byID[id]; ok && p.Status == domain.PositionOpen && price > p.PeakPrice {
		p.PeakPrice = price
	}
}

// BeginClose transiciona OPEN → CLOSING y persiste. Devuelve false si la
// posición no está abierta: otro camino de cierre llegó antes.
func (l *Ledger) BeginClose(ctx context.Context, id string, reason domain.CloseReason) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.byID[id]
	if !ok || p.Status != domain.PositionOpen {
		return domain.Position{}, false
	}
	p.Status = domain.PositionClosing
	p.CloseReason = reason
	if err := l.store.UpdatePosition(ctx, *p); err != nil {
		// Volver atrás en memoria: sin persistencia no hay transición.
		p.Status = domain.PositionOpen
		p.CloseReason = ""
		return domain.Position{}, false
	}
	return *p, true
}

// AbortClose revierte CLOSING → OPEN cuando la orden de salida no se ejecutó.
func (l *Ledger) AbortClose(ctx context.Context, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byID[id]
	if !ok || p.Status != domain.PositionClosing {
		return
	}
	p.Status = domain.PositionOpen
	p.CloseReason = ""
	_ = l.store.UpdatePosition(ctx, *p)
}

// CompleteClose finaliza un cierre: persiste el estado terminal, saca la
// posición del ledger y devuelve el outcome realizado.
func (l *Ledger) CompleteClose(ctx context.Context, id string, exitPrice float64, pnl domain.Micros, now time.Time) (domain.TradeOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.byID[id]
	if !ok {
		return domain.TradeOutcome{}, fmt.Errorf("ledger.CompleteClose: unknown position %s", id)
	}

	p.Status = domain.PositionClosed
	p.ClosedAt = &now
	p.ExitPrice = exitPrice
	p.RealizedPnL = pnl
	if err := l.store.UpdatePosition(ctx, *p); err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("ledger.CompleteClose: %w", err)
	}

	out := domain.TradeOutcome{
		PositionID: p.ID,
		Asset:      p.Asset,
		PnL:        pnl,
		Reason:     p.CloseReason,
		IsUnwind:   p.CloseReason == domain.CloseUnwind,
		ClosedAt:   now,
	}
	delete(l.byID, id)
	return out, nil
}

// Snapshot devuelve una copia de las posiciones vivas, ordenadas por entrada.
func (l *Ledger) Snapshot() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.byID))
	for _, p := range l.byID {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// PairPositions devuelve las posiciones abiertas de un pairID.
func (l *Ledger) PairPositions(pairID string) []domain.Position {
	if pairID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Position
	for _, p := range l.byID {
		if p.PairID == pairID {
			out = append(out, *p)
		}
	}
	return out
}

// OpenCount devuelve cuántas posiciones vivas hay por asset.
func (l *Ledger) OpenCount() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[string]int)
	for _, p := range l.byID {
		counts[p.Asset]++
	}
	return counts
}

// OpenNotional devuelve la suma de EntryCost de las posiciones vivas.
func (l *Ledger) OpenNotional() domain.Micros {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total domain.Micros
	for _, p := range l.byID {
		total += p.EntryCost
	}
	return total
}

// HasOpenInMarket devuelve true si ya hay posición viva en el conditionID.
func (l *Ledger) HasOpenInMarket(conditionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.byID {
		if p.ConditionID == conditionID {
			return true
		}
	}
	return false
}
