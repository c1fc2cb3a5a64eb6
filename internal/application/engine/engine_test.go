package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/config"
	"github.com/alejandrodnm/polytrader/internal/application/scanner"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

// fakeDetector devuelve un snapshot y unas oportunidades scripteadas.
type fakeDetector struct {
	snap scanner.Snapshot
	opps []domain.Opportunity
}

func (d *fakeDetector) Snapshot(context.Context) (scanner.Snapshot, error) {
	return d.snap, nil
}

func (d *fakeDetector) Detect(context.Context, scanner.Snapshot, time.Time) []domain.Opportunity {
	return d.opps
}

type engineFixture struct {
	engine   *Engine
	detector *fakeDetector
	executor *fakeExecutor
	redeemer *fakeRedeemer
	store    *fakeStore
	ledger   *Ledger
	risk     *RiskManager
}

func newTestEngine(t *testing.T) *engineFixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Engine.IntervalSeconds = 15
	cfg.Reference.MomentumWindowS = 10

	store := newFakeStore()
	executor := newFakeExecutor()
	redeemer := &fakeRedeemer{gasUSD: 0.02}
	detector := &fakeDetector{}
	ledger := NewLedger(store)
	risk := NewRiskManager(testRiskConfig(), 100, store)
	exits := NewExitPolicy(testExitConfig(), 0.004, 0.002)
	legs := NewLegRunner(executor, store, 2*time.Second)
	fees := domain.NewFeeModel(0.001, 0.03)
	atomicExec := NewAtomicExecutor(legs, fees, store)

	eng := NewEngine(cfg, detector, executor, redeemer, &fakeFeed{}, ledger, risk,
		exits, atomicExec, legs, nil, store, nil)
	return &engineFixture{
		engine:   eng,
		detector: detector,
		executor: executor,
		redeemer: redeemer,
		store:    store,
		ledger:   ledger,
		risk:     risk,
	}
}

// snapshotFor construye el snapshot del ciclo a partir de la oportunidad.
func snapshotFor(opp domain.Opportunity) scanner.Snapshot {
	return scanner.Snapshot{
		Markets: []domain.Market{opp.Market},
		Books: map[string]domain.OrderBook{
			"tok-yes": opp.YesBook,
			"tok-no":  opp.NoBook,
		},
	}
}

func TestEngine_EntryThenRedemption(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	opp := pairOpportunity(time.Now())
	fx.detector.snap = snapshotFor(opp)
	fx.detector.opps = []domain.Opportunity{opp}

	// Ciclo 1: entra el par.
	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EntriesOpened)
	assert.Len(t, fx.ledger.Snapshot(), 2)

	// Ciclo 2: sin oportunidades nuevas, el par completo se redime.
	fx.detector.opps = nil
	report, err = fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Redemptions)
	assert.Empty(t, fx.ledger.Snapshot(), "ambos lados del par cierran")
	require.Len(t, fx.redeemer.redeemed, 1)
	assert.Equal(t, 10.0, fx.redeemer.redeemed[0].USDCReceived.USDC())

	// Aritmética del par 0.48/0.47: 10 shares rinden $10.00; el coste
	// desplegado incluye los fees de entrada y el gas resta del día.
	fees := domain.NewFeeModel(0.001, 0.03)
	_, _, totalPerPair := fees.TotalCost(0.48, 0.47)
	deployed := domain.MulPrice(domain.FromUSDC(10, domain.RoundNearest), totalPerPair, domain.RoundUp)
	wantPnL := domain.FromUSDC(10, domain.RoundDown) - deployed
	wantDaily := wantPnL - domain.FromUSDC(0.02, domain.RoundUp)
	assert.Equal(t, wantDaily, fx.risk.DailyRealized())
	assert.Greater(t, int64(wantPnL), int64(0), "el par 0.48/0.47 es rentable tras fees")

	// Una redemption es un único trade para las rachas.
	assert.Equal(t, 1, fx.risk.Snapshot().ConsecutiveWin)
}

func TestEngine_PartialFailureUnwinds(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	opp := pairOpportunity(time.Now())
	fx.detector.snap = snapshotFor(opp)
	fx.detector.opps = []domain.Opportunity{opp}
	fx.executor.rejectTokens["tok-no"] = true

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.EntriesOpened)
	assert.Equal(t, 1, report.Unwinds)
	assert.Empty(t, fx.ledger.Snapshot(), "el leg lleno se deshizo")

	assert.Less(t, int64(fx.risk.DailyRealized()), int64(0), "el unwind cuesta dinero")
	assert.Equal(t, 0, fx.risk.Snapshot().ConsecutiveLoss, "pero no alarga la racha")
}

func TestEngine_DailyLossCapBlocksEntries(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	fx.risk.ApplyOutcome(ctx, loss("BTC", 11))

	opp := pairOpportunity(time.Now())
	fx.detector.snap = snapshotFor(opp)
	fx.detector.opps = []domain.Opportunity{opp}

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Opportunities)
	assert.Equal(t, 0, report.EntriesOpened)
	assert.Empty(t, fx.executor.placed, "ninguna orden llega al venue")
}

func TestEngine_GasHaltSkipsSumBelowEntries(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	fx.redeemer.halted = true

	opp := pairOpportunity(time.Now())
	fx.detector.snap = snapshotFor(opp)
	fx.detector.opps = []domain.Opportunity{opp}

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, report.HaltedOnGas)
	assert.Equal(t, 0, report.EntriesOpened, "sin merge viable el sum-below no entra")
}

func TestEngine_GasHaltDefersRedemption(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	opp := pairOpportunity(time.Now())
	fx.detector.snap = snapshotFor(opp)
	fx.detector.opps = []domain.Opportunity{opp}

	_, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, fx.ledger.Snapshot(), 2)

	// Con gas alto el par completo espera en vez de quemar el profit.
	fx.detector.opps = nil
	fx.redeemer.halted = true
	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Redemptions)
	assert.Len(t, fx.ledger.Snapshot(), 2, "las posiciones siguen vivas")
	assert.NotEmpty(t, report.Warnings)

	// El gas baja: el merge sale en el siguiente ciclo.
	fx.redeemer.halted = false
	report, err = fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Redemptions)
}

func TestEngine_ExitTakeProfit(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()

	p := openPosition("a", "BTC", "")
	p.TokenID = "tok-yes"
	p.ConditionID = "0xc1"
	p.EntryTime = time.Now().Add(-5 * time.Minute)
	p.MarketEnd = time.Now().Add(8 * time.Minute)
	require.NoError(t, fx.ledger.Open(ctx, p))

	market := domain.Market{
		ConditionID: "0xc1", Asset: "BTC", Active: true,
		EndDate: time.Now().Add(8 * time.Minute),
		Tokens: [2]domain.Token{
			{TokenID: "tok-yes", Outcome: "Yes"},
			{TokenID: "tok-no", Outcome: "No"},
		},
	}
	// Bid en 0.60: +20% sobre la entrada en 0.50, muy por encima del TP.
	fx.detector.snap = scanner.Snapshot{
		Markets: []domain.Market{market},
		Books: map[string]domain.OrderBook{
			"tok-yes": {Bids: []domain.BookEntry{{Price: 0.60, Size: 100}}},
			"tok-no":  {},
		},
	}

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExitsTriggered)
	assert.Empty(t, fx.ledger.Snapshot())
	assert.Greater(t, int64(fx.risk.DailyRealized()), int64(0))

	require.NotEmpty(t, fx.executor.placed)
	sell := fx.executor.placed[len(fx.executor.placed)-1]
	assert.Equal(t, domain.SideSell, sell.Side)
	assert.Equal(t, 0.60, sell.Price)
}

func TestEngine_RecoverArchivesOrphans(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()

	alive := openPosition("alive", "BTC", "")
	orphan := openPosition("orphan", "ETH", "")
	require.NoError(t, fx.store.SavePosition(ctx, alive))
	require.NoError(t, fx.store.SavePosition(ctx, orphan))
	fx.executor.balances[alive.TokenID] = alive.Shares
	// orphan.TokenID sin balance: la DB miente, la cadena manda.

	require.NoError(t, fx.engine.Recover(ctx))

	snap := fx.ledger.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "alive", snap[0].ID)

	stored := fx.store.positions["orphan"]
	assert.Equal(t, domain.PositionClosed, stored.Status)
	assert.Equal(t, domain.CloseOrphan, stored.CloseReason)
}

func TestEngine_RecoverReopensMidClosePositions(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()

	// Crash entre BeginClose y CompleteClose: la posición quedó CLOSING en la
	// DB pero su balance on-chain sigue intacto.
	p := openPosition("mid", "BTC", "")
	p.TokenID = "tok-yes"
	p.ConditionID = "0xc1"
	p.Status = domain.PositionClosing
	p.CloseReason = domain.CloseTakeProfit
	p.EntryTime = time.Now().Add(-time.Hour)
	p.MarketEnd = time.Now().Add(8 * time.Minute)
	require.NoError(t, fx.store.SavePosition(ctx, p))
	fx.executor.balances["tok-yes"] = p.Shares

	require.NoError(t, fx.engine.Recover(ctx))

	snap := fx.ledger.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, domain.PositionOpen, snap[0].Status, "la posición a medio cerrar se reabre")
	assert.Equal(t, domain.PositionOpen, fx.store.positions["mid"].Status)

	// Reabierta vuelve por la política de salidas: con una hora de edad, la
	// edad máxima la cierra en el primer ciclo.
	market := domain.Market{
		ConditionID: "0xc1", Asset: "BTC", Active: true,
		EndDate: time.Now().Add(8 * time.Minute),
		Tokens: [2]domain.Token{
			{TokenID: "tok-yes", Outcome: "Yes"},
			{TokenID: "tok-no", Outcome: "No"},
		},
	}
	fx.detector.snap = scanner.Snapshot{
		Markets: []domain.Market{market},
		Books: map[string]domain.OrderBook{
			"tok-yes": {Bids: []domain.BookEntry{{Price: 0.50, Size: 100}}},
		},
	}

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExitsTriggered)
	assert.Empty(t, fx.ledger.Snapshot(), "nada queda atascado contando contra el heat")
}

func TestEngine_SkipsExpiredOpportunities(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()

	opp := pairOpportunity(time.Now().Add(-time.Minute))
	opp.TTL = time.Second // detectada hace un minuto con TTL de un segundo
	fx.detector.snap = snapshotFor(opp)
	fx.detector.opps = []domain.Opportunity{opp}

	report, err := fx.engine.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.EntriesOpened)
	assert.Empty(t, fx.executor.placed)
}
