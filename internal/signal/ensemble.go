package signal

// ensemble.go — votación ponderada de providers direccionales.
//
// Cada provider vota con una confianza; el ensemble pondera por el peso de
// config y exige consenso mínimo antes de emitir una acción. Un provider
// lento o caído cuenta como skip: nunca bloquea el ciclo más allá del timeout.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// Ensemble combina los votos de varios providers en una decisión única.
type Ensemble struct {
	providers    []ports.SignalProvider
	weights      map[string]float64
	minConsensus float64
	timeout      time.Duration
}

// NewEnsemble crea el ensemble. Providers sin peso en el mapa pesan 1.0.
func NewEnsemble(providers []ports.SignalProvider, weights map[string]float64, minConsensus float64, timeout time.Duration) *Ensemble {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Ensemble{
		providers:    providers,
		weights:      weights,
		minConsensus: minConsensus,
		timeout:      timeout,
	}
}

func (e *Ensemble) weightOf(name string) float64 {
	if w, ok := e.weights[name]; ok && w > 0 {
		return w
	}
	return 1.0
}

// Decide recoge los votos en paralelo y devuelve la acción ganadora, o skip
// si no hay consenso suficiente. La confianza devuelta es la media ponderada
// de los votos ganadores.
func (e *Ensemble) Decide(ctx context.Context, sctx domain.SignalContext) domain.Signal {
	out := domain.Signal{Provider: "ensemble", Action: domain.ActionSkip}
	if len(e.providers) == 0 {
		out.Reasoning = "no providers"
		return out
	}

	votes := e.collect(ctx, sctx)

	// Los neutrales son abstenciones: no votan ni cuentan en el denominador.
	type tally struct {
		score      float64 // peso × confianza acumulado
		weight     float64 // peso acumulado
		confidence float64
	}
	byAction := make(map[domain.Action]*tally)
	var votedWeight float64

	for _, v := range votes {
		if v.Action == domain.ActionNeutral {
			continue
		}
		w := e.weightOf(v.Provider)
		votedWeight += w
		tl, ok := byAction[v.Action]
		if !ok {
			tl = &tally{}
			byAction[v.Action] = tl
		}
		tl.score += w * v.Confidence
		tl.weight += w
	}

	if votedWeight == 0 {
		out.Reasoning = "all providers abstained"
		return out
	}

	var winner domain.Action
	var best *tally
	for action, tl := range byAction {
		if best == nil || tl.score > best.score {
			winner = action
			best = tl
		}
	}

	if winner == domain.ActionSkip {
		out.Reasoning = "providers voted skip"
		return out
	}

	consensus := best.weight / votedWeight
	if consensus < e.minConsensus {
		out.Reasoning = fmt.Sprintf("consensus %.2f below %.2f for %s", consensus, e.minConsensus, winner)
		return out
	}

	out.Action = winner
	out.Confidence = best.score / best.weight
	out.Reasoning = fmt.Sprintf("%s with consensus %.2f from %d votes", winner, consensus, len(votes))
	return out
}

// collect ejecuta los providers en paralelo bajo el timeout del ensemble.
// Un error o timeout de un provider se degrada a skip con un log.
func (e *Ensemble) collect(ctx context.Context, sctx domain.SignalContext) []domain.Signal {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	results := make(chan domain.Signal, len(e.providers))
	for _, p := range e.providers {
		p := p
		go func() {
			sig, err := p.Evaluate(ctx, sctx)
			if err != nil {
				slog.Warn("signal provider failed", "provider", p.Name(), "err", err)
				results <- domain.Signal{Provider: p.Name(), Action: domain.ActionSkip}
				return
			}
			sig.Provider = p.Name()
			results <- sig
		}()
	}

	votes := make([]domain.Signal, 0, len(e.providers))
	for range e.providers {
		select {
		case sig := <-results:
			votes = append(votes, sig)
		case <-ctx.Done():
			slog.Warn("signal ensemble timed out", "collected", len(votes), "providers", len(e.providers))
			return votes
		}
	}
	return votes
}
