package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePosition() domain.Position {
	return domain.Position{
		ID:          uuid.NewString(),
		PairID:      "pair-1",
		ConditionID: "0xabc",
		TokenID:     "tok-yes",
		Asset:       "BTC",
		Outcome:     "Yes",
		Shares:      21.0,
		EntryPrice:  0.48,
		EntryCost:   domain.FromUSDC(10.18, domain.RoundUp),
		EntryTime:   time.Now().UTC().Truncate(time.Second),
		PeakPrice:   0.48,
		Status:      domain.PositionOpen,
		MarketEnd:   time.Now().UTC().Add(12 * time.Minute).Truncate(time.Second),
	}
}

func TestPositions_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePosition()
	require.NoError(t, s.SavePosition(ctx, p))

	open, err := s.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	got := open[0]
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.PairID, got.PairID)
	assert.Equal(t, p.EntryCost, got.EntryCost)
	assert.Equal(t, domain.PositionOpen, got.Status)

	// Cerrarla la saca del set de abiertas.
	now := time.Now().UTC()
	p.Status = domain.PositionClosed
	p.CloseReason = domain.CloseTakeProfit
	p.ClosedAt = &now
	p.ExitPrice = 0.55
	p.RealizedPnL = domain.FromUSDC(1.25, domain.RoundDown)
	require.NoError(t, s.UpdatePosition(ctx, p))

	open, err = s.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPositions_ClosingStillAdopted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePosition()
	p.Status = domain.PositionClosing
	require.NoError(t, s.SavePosition(ctx, p))

	open, err := s.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1, "una posición CLOSING interrumpida se re-adopta")
}

func TestUpdatePosition_NotFound(t *testing.T) {
	s := newTestStore(t)
	p := samplePosition()
	assert.Error(t, s.UpdatePosition(context.Background(), p))
}

func TestOrders_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := domain.NewOrder("0xabc", "tok-yes", domain.SideBuy, domain.SizedOrder{
		Price:  0.48,
		Shares: 21.0,
		Cost:   domain.FromUSDC(10.08, domain.RoundUp),
	}, time.Now().UTC())
	require.NoError(t, s.SaveOrder(ctx, o))

	now := time.Now().UTC()
	o.CLOBOrderID = "0xdeadbeef"
	o.Status = domain.OrderFilled
	o.SubmittedAt = &now
	o.FilledAt = &now
	o.FilledPrice = 0.48
	o.FilledSize = 21.0
	require.NoError(t, s.UpdateOrder(ctx, o))
}

func TestRiskState_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadRiskState(ctx)
	require.NoError(t, err)
	assert.False(t, found, "DB limpia: sin estado previo")

	since := time.Now().UTC().Truncate(time.Second)
	rs := domain.RiskState{
		Day:             "2026-08-29",
		DailyRealized:   domain.FromUSDC(-4.25, domain.RoundDown),
		ConsecutiveLoss: 3,
		BreakerActive:   true,
		BreakerSince:    &since,
		OpenNotional:    domain.FromUSDC(20, domain.RoundDown),
		OpenByAsset:     map[string]int{"BTC": 1, "ETH": 1},
	}
	require.NoError(t, s.SaveRiskState(ctx, rs))

	got, found, err := s.LoadRiskState(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rs.Day, got.Day)
	assert.Equal(t, rs.DailyRealized, got.DailyRealized)
	assert.Equal(t, 3, got.ConsecutiveLoss)
	assert.True(t, got.BreakerActive)
	require.NotNil(t, got.BreakerSince)
	assert.Equal(t, map[string]int{"BTC": 1, "ETH": 1}, got.OpenByAsset)

	// Sobreescribir: sigue habiendo una sola fila.
	rs.BreakerActive = false
	rs.BreakerSince = nil
	rs.ConsecutiveLoss = 0
	rs.ConsecutiveWin = 2
	require.NoError(t, s.SaveRiskState(ctx, rs))

	got, found, err = s.LoadRiskState(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, got.BreakerActive)
	assert.Nil(t, got.BreakerSince)
	assert.Equal(t, 2, got.ConsecutiveWin)
}

func TestSequencerCheckpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadSequencerCheckpoint(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SaveSequencerCheckpoint(ctx, 41))
	require.NoError(t, s.SaveSequencerCheckpoint(ctx, 42))

	nonce, found, err := s.LoadSequencerCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(42), nonce)

	// El checkpoint es monótono: un save con un nonce menor no retrocede.
	require.NoError(t, s.SaveSequencerCheckpoint(ctx, 7))
	nonce, _, err = s.LoadSequencerCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestOutcomesAndRedemptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOutcome(ctx, domain.TradeOutcome{
		PositionID: "pos-1",
		Asset:      "BTC",
		PnL:        domain.FromUSDC(-1.25, domain.RoundDown),
		Reason:     domain.CloseUnwind,
		IsUnwind:   true,
		ClosedAt:   time.Now().UTC(),
	}))

	require.NoError(t, s.SaveRedemption(ctx, domain.RedeemResult{
		ConditionID:  "0xabc",
		PairID:       "pair-1",
		TxHash:       "0xfeed",
		Seq:          42,
		GasCostUSD:   0.03,
		USDCReceived: domain.FromUSDC(21, domain.RoundDown),
		Profit:       domain.FromUSDC(0.75, domain.RoundDown),
		Success:      true,
		ExecutedAt:   time.Now().UTC(),
	}))
}

func TestDailySummaries_Accumulate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertDailySummary(ctx, domain.DailySummary{
		Date: day, Entries: 2, Wins: 1, RealizedPnL: domain.FromUSDC(0.75, domain.RoundDown), GasCostUSD: 0.02,
	}))
	require.NoError(t, s.UpsertDailySummary(ctx, domain.DailySummary{
		Date: day, Entries: 1, Losses: 1, RealizedPnL: domain.FromUSDC(-0.25, domain.RoundDown), GasCostUSD: 0.01,
	}))

	rows, err := s.GetDailySummaries(ctx, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Equal(t, 3, got.Entries)
	assert.Equal(t, 1, got.Wins)
	assert.Equal(t, 1, got.Losses)
	assert.Equal(t, domain.FromUSDC(0.50, domain.RoundDown), got.RealizedPnL)
	assert.InDelta(t, 0.03, got.GasCostUSD, 1e-9)
}
