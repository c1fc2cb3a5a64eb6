package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

func pairOpportunity(now time.Time) domain.Opportunity {
	market := domain.Market{
		ConditionID: "0xc1",
		Slug:        "btc-updown-15m-2026-08-29-1430",
		Asset:       "BTC",
		EndDate:     now.Add(12 * time.Minute),
		Active:      true,
		Tokens: [2]domain.Token{
			{TokenID: "tok-yes", Outcome: "Yes"},
			{TokenID: "tok-no", Outcome: "No"},
		},
	}
	sizedYes := domain.SizedOrder{Price: 0.48, Shares: 10, Cost: domain.FromUSDC(4.80, domain.RoundUp)}
	sizedNo := domain.SizedOrder{Price: 0.47, Shares: 10, Cost: domain.FromUSDC(4.70, domain.RoundUp)}
	return domain.Opportunity{
		Strategy: domain.StrategySumBelow,
		Market:   market,
		YesBook: domain.OrderBook{
			Bids: []domain.BookEntry{{Price: 0.45, Size: 100}},
			Asks: []domain.BookEntry{{Price: 0.48, Size: 100}},
		},
		NoBook: domain.OrderBook{
			Bids: []domain.BookEntry{{Price: 0.44, Size: 100}},
			Asks: []domain.BookEntry{{Price: 0.47, Size: 100}},
		},
		Legs: []domain.Leg{
			{Role: domain.LegFirst, Outcome: "Yes",
				Order: domain.NewOrder("0xc1", "tok-yes", domain.SideBuy, sizedYes, now)},
			{Role: domain.LegSecond, Outcome: "No",
				Order: domain.NewOrder("0xc1", "tok-no", domain.SideBuy, sizedNo, now)},
		},
		DetectedAt: now,
		TTL:        5 * time.Second,
	}
}

func newTestAtomic(exec *fakeExecutor, store *fakeStore) *AtomicExecutor {
	legs := NewLegRunner(exec, store, 2*time.Second)
	fees := domain.NewFeeModel(0.001, 0.03)
	return NewAtomicExecutor(legs, fees, store)
}

func TestAtomic_BothLegsFill(t *testing.T) {
	exec := newFakeExecutor()
	store := newFakeStore()
	ae := newTestAtomic(exec, store)

	res, err := ae.Execute(context.Background(), pairOpportunity(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, PairAllFilled, res.State)
	require.Len(t, res.Positions, 2)
	assert.NotEmpty(t, res.PairID)

	for _, p := range res.Positions {
		assert.Equal(t, res.PairID, p.PairID)
		assert.Equal(t, 10.0, p.Shares)
		assert.Equal(t, domain.PositionOpen, p.Status)
		// El coste incluye el fee del venue por encima del precio puro.
		pure := domain.MulPrice(domain.FromUSDC(10, domain.RoundNearest),
			domain.PriceToMicros(p.EntryPrice), domain.RoundUp)
		assert.Greater(t, int64(p.EntryCost), int64(pure))
	}
	assert.Len(t, exec.placed, 2, "un submit por leg")
}

func TestAtomic_SecondLegFailsTriggersUnwind(t *testing.T) {
	exec := newFakeExecutor()
	exec.rejectTokens["tok-no"] = true
	store := newFakeStore()
	ae := newTestAtomic(exec, store)

	res, err := ae.Execute(context.Background(), pairOpportunity(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, PairUnwound, res.State)
	assert.Empty(t, res.Positions)
	require.NotNil(t, res.UnwindOutcome)

	out := *res.UnwindOutcome
	assert.True(t, out.IsUnwind)
	assert.Equal(t, domain.CloseUnwind, out.Reason)
	assert.Less(t, int64(out.PnL), int64(0), "vender al bid tras comprar al ask pierde dinero")

	// El unwind vendió el leg YES: buy yes, buy no (rechazada), sell yes.
	require.Len(t, exec.placed, 3)
	sell := exec.placed[2]
	assert.Equal(t, domain.SideSell, sell.Side)
	assert.Equal(t, "tok-yes", sell.TokenID)
	assert.Equal(t, 0.45, sell.Price, "la venta cotiza contra el bid ejecutable")
}

func TestAtomic_FirstLegFailsAbortsClean(t *testing.T) {
	exec := newFakeExecutor()
	exec.rejectTokens["tok-yes"] = true
	store := newFakeStore()
	ae := newTestAtomic(exec, store)

	res, err := ae.Execute(context.Background(), pairOpportunity(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, PairAborted, res.State)
	assert.Empty(t, res.Positions)
	assert.Nil(t, res.UnwindOutcome)
	assert.Len(t, exec.placed, 1, "el segundo leg nunca se envía")
}

func TestAtomic_UnwindWithoutBidsStrandsLeg(t *testing.T) {
	exec := newFakeExecutor()
	exec.rejectTokens["tok-no"] = true
	store := newFakeStore()
	ae := newTestAtomic(exec, store)

	opp := pairOpportunity(time.Now())
	opp.YesBook.Bids = nil // sin bids no hay unwind posible

	res, err := ae.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, PairUnwinding, res.State)
	require.NotNil(t, res.StrandedLeg)
	assert.Equal(t, "Yes", res.StrandedLeg.Outcome)
	assert.Equal(t, 10.0, res.StrandedLeg.Shares)
}
