package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// stubProvider vota siempre lo mismo, opcionalmente con retraso o error.
type stubProvider struct {
	name   string
	action domain.Action
	conf   float64
	delay  time.Duration
	err    error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Evaluate(ctx context.Context, _ domain.SignalContext) (domain.Signal, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.Signal{}, ctx.Err()
		}
	}
	if s.err != nil {
		return domain.Signal{}, s.err
	}
	return domain.Signal{Action: s.action, Confidence: s.conf}, nil
}

func decide(e *Ensemble) domain.Signal {
	return e.Decide(context.Background(), domain.SignalContext{Now: time.Now()})
}

func TestEnsemble_WeightedMajorityWins(t *testing.T) {
	providers := []ports.SignalProvider{
		&stubProvider{name: "a", action: domain.ActionBuyYes, conf: 0.8},
		&stubProvider{name: "b", action: domain.ActionBuyYes, conf: 0.6},
		&stubProvider{name: "c", action: domain.ActionBuyNo, conf: 0.9},
	}
	e := NewEnsemble(providers, map[string]float64{"a": 1, "b": 1, "c": 1}, 0.5, time.Second)

	sig := decide(e)
	assert.Equal(t, domain.ActionBuyYes, sig.Action)
	assert.InDelta(t, 0.7, sig.Confidence, 0.001, "media ponderada de los votos ganadores")
}

func TestEnsemble_WeightsTipTheVote(t *testing.T) {
	providers := []ports.SignalProvider{
		&stubProvider{name: "a", action: domain.ActionBuyYes, conf: 0.8},
		&stubProvider{name: "b", action: domain.ActionBuyNo, conf: 0.8},
	}
	// El peso 3 de "b" domina aunque la confianza empate.
	e := NewEnsemble(providers, map[string]float64{"a": 1, "b": 3}, 0.5, time.Second)

	sig := decide(e)
	assert.Equal(t, domain.ActionBuyNo, sig.Action)
}

func TestEnsemble_NoConsensusSkips(t *testing.T) {
	providers := []ports.SignalProvider{
		&stubProvider{name: "a", action: domain.ActionBuyYes, conf: 0.9},
		&stubProvider{name: "b", action: domain.ActionBuyNo, conf: 0.8},
		&stubProvider{name: "c", action: domain.ActionSkip},
	}
	// El ganador junta 1/3 del peso votante: por debajo del 0.6 exigido.
	e := NewEnsemble(providers, nil, 0.6, time.Second)

	sig := decide(e)
	assert.Equal(t, domain.ActionSkip, sig.Action)
}

func TestEnsemble_NeutralsAbstain(t *testing.T) {
	providers := []ports.SignalProvider{
		&stubProvider{name: "a", action: domain.ActionBuyYes, conf: 0.7},
		&stubProvider{name: "b", action: domain.ActionNeutral},
		&stubProvider{name: "c", action: domain.ActionNeutral},
	}
	// Los neutrales no cuentan en el denominador: "a" tiene consenso total.
	e := NewEnsemble(providers, nil, 0.9, time.Second)

	sig := decide(e)
	assert.Equal(t, domain.ActionBuyYes, sig.Action)
}

func TestEnsemble_AllAbstainSkips(t *testing.T) {
	providers := []ports.SignalProvider{
		&stubProvider{name: "a", action: domain.ActionNeutral},
		&stubProvider{name: "b", action: domain.ActionNeutral},
	}
	e := NewEnsemble(providers, nil, 0.5, time.Second)
	assert.Equal(t, domain.ActionSkip, decide(e).Action)
}

func TestEnsemble_FailedProviderCountsAsSkip(t *testing.T) {
	providers := []ports.SignalProvider{
		&stubProvider{name: "a", action: domain.ActionBuyYes, conf: 0.9},
		&stubProvider{name: "b", err: errors.New("boom")},
	}
	e := NewEnsemble(providers, nil, 0.5, time.Second)

	sig := decide(e)
	assert.Equal(t, domain.ActionBuyYes, sig.Action, "un provider caído no tumba la votación")
}

func TestEnsemble_SlowProviderTimesOut(t *testing.T) {
	providers := []ports.SignalProvider{
		&stubProvider{name: "fast", action: domain.ActionBuyNo, conf: 0.8},
		&stubProvider{name: "slow", action: domain.ActionBuyYes, conf: 1.0, delay: 5 * time.Second},
	}
	e := NewEnsemble(providers, nil, 0.5, 50*time.Millisecond)

	start := time.Now()
	sig := decide(e)
	assert.Less(t, time.Since(start), time.Second, "el timeout corta al provider lento")
	assert.Equal(t, domain.ActionBuyNo, sig.Action)
}

func TestEnsemble_NoProviders(t *testing.T) {
	e := NewEnsemble(nil, nil, 0.5, time.Second)
	assert.Equal(t, domain.ActionSkip, decide(e).Action)
}

func TestMomentumProvider(t *testing.T) {
	p := NewMomentumProvider(0.002, 0.004)
	ctx := context.Background()

	// Sin feed: neutral.
	sig, err := p.Evaluate(ctx, domain.SignalContext{})
	assert.NoError(t, err)
	assert.Equal(t, domain.ActionNeutral, sig.Action)

	// Momentum positivo fuerte: buy_yes.
	sig, _ = p.Evaluate(ctx, domain.SignalContext{RefPrice: 65000, RefMomentum: 0.006})
	assert.Equal(t, domain.ActionBuyYes, sig.Action)
	assert.InDelta(t, 1.0, sig.Confidence, 0.001, "3x el umbral satura la confianza")

	// Momentum negativo: buy_no.
	sig, _ = p.Evaluate(ctx, domain.SignalContext{RefPrice: 65000, RefMomentum: -0.003})
	assert.Equal(t, domain.ActionBuyNo, sig.Action)

	// Movimiento por debajo del umbral: neutral.
	sig, _ = p.Evaluate(ctx, domain.SignalContext{RefPrice: 65000, RefMomentum: 0.001})
	assert.Equal(t, domain.ActionNeutral, sig.Action)

	// Volatilidad alta degrada la confianza a la mitad.
	calm, _ := p.Evaluate(ctx, domain.SignalContext{RefPrice: 65000, RefMomentum: 0.004})
	wild, _ := p.Evaluate(ctx, domain.SignalContext{RefPrice: 65000, RefMomentum: 0.004, RefVolatility: 0.01})
	assert.InDelta(t, calm.Confidence/2, wild.Confidence, 0.001)
}

func TestImbalanceProvider(t *testing.T) {
	p := NewImbalanceProvider(0.3)
	ctx := context.Background()

	deepBids := domain.OrderBook{
		Bids: []domain.BookEntry{{Price: 0.50, Size: 1000}},
		Asks: []domain.BookEntry{{Price: 0.52, Size: 50}},
	}
	deepAsks := domain.OrderBook{
		Bids: []domain.BookEntry{{Price: 0.46, Size: 50}},
		Asks: []domain.BookEntry{{Price: 0.48, Size: 1000}},
	}

	// Presión compradora en YES y vendedora en NO: buy_yes.
	sig, err := p.Evaluate(ctx, domain.SignalContext{YesBook: deepBids, NoBook: deepAsks})
	assert.NoError(t, err)
	assert.Equal(t, domain.ActionBuyYes, sig.Action)
	assert.Greater(t, sig.Confidence, 0.0)

	// Al revés: buy_no.
	sig, _ = p.Evaluate(ctx, domain.SignalContext{YesBook: deepAsks, NoBook: deepBids})
	assert.Equal(t, domain.ActionBuyNo, sig.Action)

	// Books equilibrados: neutral.
	balanced := domain.OrderBook{
		Bids: []domain.BookEntry{{Price: 0.49, Size: 100}},
		Asks: []domain.BookEntry{{Price: 0.51, Size: 100}},
	}
	sig, _ = p.Evaluate(ctx, domain.SignalContext{YesBook: balanced, NoBook: balanced})
	assert.Equal(t, domain.ActionNeutral, sig.Action)

	// Book vacío: neutral.
	sig, _ = p.Evaluate(ctx, domain.SignalContext{})
	assert.Equal(t, domain.ActionNeutral, sig.Action)
}
