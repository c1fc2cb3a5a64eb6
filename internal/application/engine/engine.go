package engine

// engine.go — orquestación del ciclo de trading.
//
// Cada tick ejecuta las fases en orden fijo: rollover de riesgo, mantenimiento
// on-chain, snapshot de mercados, salidas, redemptions, entradas y reporte.
// Las salidas van SIEMPRE antes que las entradas: liberar riesgo tiene
// prioridad sobre tomarlo.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/polytrader/config"
	"github.com/alejandrodnm/polytrader/internal/application/scanner"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// MarketScanner produce el snapshot del ciclo y las oportunidades detectadas.
type MarketScanner interface {
	Snapshot(ctx context.Context) (scanner.Snapshot, error)
	Detect(ctx context.Context, snap scanner.Snapshot, now time.Time) []domain.Opportunity
}

// TxEscalator reenvía transacciones on-chain atascadas con más gas.
// Lo implementa el sequencer; nil lo desactiva (tests, paper).
type TxEscalator interface {
	EscalateStuck(ctx context.Context) int
}

// Engine es el motor de trading. No es thread-safe: RunOnce se llama desde un
// único loop; la concurrencia vive dentro de los componentes.
type Engine struct {
	cfg       *config.Config
	detector  MarketScanner
	executor  ports.OrderExecutor
	redeemer  ports.Redeemer
	feed      ports.ReferenceFeed
	ledger    *Ledger
	risk      *RiskManager
	exits     *ExitPolicy
	atomic    *AtomicExecutor
	legs      *LegRunner
	escalator TxEscalator
	store     ports.Store
	notifier  ports.Notifier

	cycle int
}

// NewEngine ensambla el motor con sus dependencias ya construidas.
func NewEngine(cfg *config.Config, detector MarketScanner, executor ports.OrderExecutor,
	redeemer ports.Redeemer, feed ports.ReferenceFeed, ledger *Ledger, risk *RiskManager,
	exits *ExitPolicy, atomicExec *AtomicExecutor, legs *LegRunner, escalator TxEscalator,
	store ports.Store, notifier ports.Notifier) *Engine {
	return &Engine{
		cfg:       cfg,
		detector:  detector,
		executor:  executor,
		redeemer:  redeemer,
		feed:      feed,
		ledger:    ledger,
		risk:      risk,
		exits:     exits,
		atomic:    atomicExec,
		legs:      legs,
		escalator: escalator,
		store:     store,
		notifier:  notifier,
	}
}

// Recover reconcilia el estado persistido con la verdad on-chain en el
// arranque. Una posición en DB sin balance ERC-1155 detrás es un huérfano de
// un crash a medio cierre: se archiva sin tocar las rachas de riesgo.
func (e *Engine) Recover(ctx context.Context) error {
	if err := e.risk.Restore(ctx); err != nil {
		return err
	}

	positions, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine.Recover: load positions: %w", err)
	}

	var adopted []domain.Position
	for _, p := range positions {
		if p.Status == domain.PositionClosing {
			// Crash entre BeginClose y CompleteClose: la venta nunca confirmó.
			// Reabrir para que la política de salidas vuelva a decidir; si la
			// venta sí llenó, el balance on-chain lo dirá justo debajo.
			p.Status = domain.PositionOpen
			p.CloseReason = ""
			if err := e.store.UpdatePosition(ctx, p); err != nil {
				slog.Error("reopen mid-close position", "position", p.ID, "err", err)
			}
			slog.Warn("position recovered mid-close, reopened", "position", p.ID, "asset", p.Asset)
		}
		balance, err := e.executor.TokenBalance(ctx, p.TokenID)
		if err != nil {
			// Sin verdad on-chain, conservar: cerrar de más es peor.
			slog.Warn("token balance check failed, adopting anyway", "position", p.ID, "err", err)
			adopted = append(adopted, p)
			continue
		}
		if balance <= 0 {
			now := time.Now()
			p.Status = domain.PositionClosed
			p.CloseReason = domain.CloseOrphan
			p.ClosedAt = &now
			if err := e.store.UpdatePosition(ctx, p); err != nil {
				slog.Error("archive orphan position", "position", p.ID, "err", err)
			}
			slog.Warn("orphan position archived", "position", p.ID, "token", shortToken(p.TokenID))
			continue
		}
		if balance < p.Shares {
			slog.Warn("on-chain balance below recorded shares, trusting chain",
				"position", p.ID, "recorded", p.Shares, "chain", balance)
			p.Shares = balance
		}
		adopted = append(adopted, p)
	}

	e.ledger.Adopt(adopted)
	slog.Info("recovery complete", "adopted", len(adopted), "orphans", len(positions)-len(adopted))
	return nil
}

// Run ejecuta el loop principal hasta que el contexto se cancele.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScanInterval())
	defer ticker.Stop()

	for {
		report, err := e.RunOnce(ctx)
		if err != nil {
			slog.Error("cycle failed", "cycle", e.cycle, "err", err)
		} else if e.notifier != nil {
			if nerr := e.notifier.Notify(ctx, report); nerr != nil {
				slog.Warn("notify", "err", nerr)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce ejecuta un ciclo completo y devuelve su informe.
func (e *Engine) RunOnce(ctx context.Context) (domain.CycleReport, error) {
	now := time.Now()
	e.cycle++
	report := domain.CycleReport{Cycle: e.cycle, At: now}

	// Fase 1: rollover diario de riesgo.
	e.risk.Rollover(ctx, now)

	// Fase 2: mantenimiento on-chain. Las tx atascadas se reenvían con más gas
	// antes de decidir nada que dependa de la cadena.
	if e.escalator != nil {
		if n := e.escalator.EscalateStuck(ctx); n > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%d stuck txs escalated", n))
		}
	}
	gasHalted := false
	if e.redeemer != nil {
		var err error
		gasHalted, err = e.redeemer.GasHalted(ctx)
		if err != nil {
			slog.Warn("gas halt check", "err", err)
		}
	}
	report.HaltedOnGas = gasHalted

	// Fase 3: snapshot de mercados y books.
	snap, err := e.detector.Snapshot(ctx)
	if err != nil {
		return report, fmt.Errorf("engine: snapshot: %w", err)
	}
	report.MarketsScanned = len(snap.Markets)
	marketsByCondition := make(map[string]domain.Market, len(snap.Markets))
	for _, m := range snap.Markets {
		marketsByCondition[m.ConditionID] = m
	}

	var outcomes []domain.TradeOutcome

	// Fase 4: salidas antes que entradas.
	exitOutcomes := e.processExits(ctx, snap, marketsByCondition, now)
	report.ExitsTriggered = len(exitOutcomes)
	outcomes = append(outcomes, exitOutcomes...)

	// Fase 5: merge on-chain de pares completos.
	redeemed, redeemOutcomes := e.processRedemptions(ctx, marketsByCondition, gasHalted, &report)
	report.Redemptions = redeemed
	outcomes = append(outcomes, redeemOutcomes...)

	// Fase 6: entradas nuevas a través de los gates de riesgo.
	entries, unwindOutcomes := e.processEntries(ctx, snap, gasHalted, &report, now)
	report.EntriesOpened = entries
	report.Unwinds = len(unwindOutcomes)
	outcomes = append(outcomes, unwindOutcomes...)

	// Fase 7: reporte y persistencia del día.
	e.risk.SyncExposure(ctx, e.ledger.OpenNotional(), e.ledger.OpenCount())
	report.OpenPositions = e.ledger.Snapshot()
	report.OpenNotional = e.ledger.OpenNotional()
	report.DailyRealized = e.risk.DailyRealized()
	report.BreakerActive = e.risk.BreakerActive()

	e.persistDailySummary(ctx, report, outcomes, now)
	return report, nil
}

// processExits evalúa la política de salida para cada posición viva.
func (e *Engine) processExits(ctx context.Context, snap scanner.Snapshot, markets map[string]domain.Market, now time.Time) []domain.TradeOutcome {
	var outcomes []domain.TradeOutcome

	for _, p := range e.ledger.Snapshot() {
		if p.Status != domain.PositionOpen {
			continue
		}
		// Un par YES+NO completo está cubierto: vale $1.00 por share pase lo
		// que pase y lo cierra la redemption. Solo los legs sueltos y las
		// direccionales pasan por la política de salidas.
		if p.PairID != "" && len(e.ledger.PairPositions(p.PairID)) == 2 {
			continue
		}
		book, ok := snap.Books[p.TokenID]
		if !ok {
			continue
		}
		market, ok := markets[p.ConditionID]
		if !ok {
			// Mercado fuera del snapshot: probablemente resolvió. El guard de
			// cierre debería haber actuado antes; construir uno sintético para
			// que la edad máxima siga aplicando.
			market = domain.Market{ConditionID: p.ConditionID, Asset: p.Asset, EndDate: p.MarketEnd}
		}

		if bid := book.BestBid(); bid > 0 {
			e.ledger.MarkPeak(p.ID, bid)
		}

		adverse, refVol := e.referenceSignals(p)
		decision := e.exits.Evaluate(p, market, book, adverse, refVol, now)
		if !decision.Close {
			continue
		}

		out, ok := e.closePosition(ctx, p, decision, market.NegRisk, now)
		if ok {
			outcomes = append(outcomes, out)
		}
	}
	return outcomes
}

// referenceSignals devuelve el momentum adverso y la volatilidad del spot
// para una posición. Adverso = el spot moviéndose contra el lado de la posición.
func (e *Engine) referenceSignals(p domain.Position) (adverse, refVol float64) {
	if e.feed == nil {
		return 0, 0
	}
	symbol := p.Asset + "USDT"
	window := time.Duration(e.cfg.Reference.MomentumWindowS) * time.Second
	mom := e.feed.Momentum(symbol, window)
	refVol = e.feed.Volatility(symbol, window)

	if p.Outcome == "Yes" && mom < 0 {
		adverse = -mom
	}
	if p.Outcome == "No" && mom > 0 {
		adverse = mom
	}
	return adverse, refVol
}

// closePosition vende la posición al precio de la decisión vía FOK y registra
// el outcome. Una venta no ejecutada revierte la posición a OPEN.
func (e *Engine) closePosition(ctx context.Context, p domain.Position, decision ExitDecision, negRisk bool, now time.Time) (domain.TradeOutcome, bool) {
	if decision.ExitPrice <= 0 {
		return domain.TradeOutcome{}, false
	}
	snapshot, ok := e.ledger.BeginClose(ctx, p.ID, decision.Reason)
	if !ok {
		return domain.TradeOutcome{}, false
	}

	sharesM := domain.FromUSDC(snapshot.Shares, domain.RoundNearest)
	sell := domain.NewOrder(snapshot.ConditionID, snapshot.TokenID, domain.SideSell, domain.SizedOrder{
		Price:  decision.ExitPrice,
		Shares: snapshot.Shares,
		Cost:   domain.MulPrice(sharesM, domain.PriceToMicros(decision.ExitPrice), domain.RoundDown),
	}, now)

	if err := e.legs.Run(ctx, &sell, negRisk); err != nil {
		slog.Warn("exit sell error", "position", p.ID, "err", err)
	}
	if sell.Status != domain.OrderFilled {
		e.ledger.AbortClose(ctx, p.ID)
		slog.Warn("exit sell not filled, position stays open",
			"position", p.ID, "reason", decision.Reason)
		return domain.TradeOutcome{}, false
	}

	proceeds := domain.MulPrice(
		domain.FromUSDC(sell.FilledSize, domain.RoundNearest),
		domain.PriceToMicros(sell.FilledPrice),
		domain.RoundDown)
	pnl := proceeds - snapshot.EntryCost

	out, err := e.ledger.CompleteClose(ctx, p.ID, sell.FilledPrice, pnl, now)
	if err != nil {
		slog.Error("complete close", "position", p.ID, "err", err)
		return domain.TradeOutcome{}, false
	}
	e.risk.ApplyOutcome(ctx, out)

	slog.Info("position closed",
		"position", p.ID, "asset", p.Asset, "reason", decision.Reason,
		"pnl", pnl.USDC(), "detail", decision.Detail)
	return out, true
}

// processRedemptions mezcla on-chain los pares YES+NO completos a USDC.e.
func (e *Engine) processRedemptions(ctx context.Context, markets map[string]domain.Market, gasHalted bool, report *domain.CycleReport) (int, []domain.TradeOutcome) {
	if e.redeemer == nil {
		return 0, nil
	}

	pairs := e.completePairs()
	if len(pairs) == 0 {
		return 0, nil
	}
	if gasHalted {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d redeemable pairs waiting for gas to drop", len(pairs)))
		return 0, nil
	}

	var outcomes []domain.TradeOutcome
	redeemed := 0
	for _, pair := range pairs {
		out, ok := e.redeemPair(ctx, pair, markets, report)
		if !ok {
			continue
		}
		redeemed++
		outcomes = append(outcomes, out)
	}
	return redeemed, outcomes
}

// pairToRedeem son las dos posiciones de un par atómico completo.
type pairToRedeem struct {
	yes, no domain.Position
}

// completePairs devuelve los pares con ambos lados vivos.
func (e *Engine) completePairs() []pairToRedeem {
	seen := make(map[string]bool)
	var pairs []pairToRedeem
	for _, p := range e.ledger.Snapshot() {
		if p.PairID == "" || p.Status != domain.PositionOpen || seen[p.PairID] {
			continue
		}
		seen[p.PairID] = true
		legs := e.ledger.PairPositions(p.PairID)
		if len(legs) != 2 {
			continue
		}
		pair := pairToRedeem{}
		for _, leg := range legs {
			if leg.Outcome == "Yes" {
				pair.yes = leg
			} else {
				pair.no = leg
			}
		}
		if pair.yes.ID == "" || pair.no.ID == "" {
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// redeemPair ejecuta el merge de un par y cierra ambas posiciones. El P&L y el
// gas del par entero se contabilizan en un único outcome: una redemption es un
// trade, no dos.
func (e *Engine) redeemPair(ctx context.Context, pair pairToRedeem, markets map[string]domain.Market, report *domain.CycleReport) (domain.TradeOutcome, bool) {
	shares := pair.yes.Shares
	if pair.no.Shares < shares {
		shares = pair.no.Shares
	}
	if shares <= 0 {
		return domain.TradeOutcome{}, false
	}

	// Gas mayor que el valor redimible: esperar, no quemar el profit.
	if est, err := e.redeemer.EstimateGasCostUSD(ctx); err == nil && est >= shares {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("gas $%.4f exceeds redeemable value $%.4f, pair deferred", est, shares))
		return domain.TradeOutcome{}, false
	}

	negRisk := false
	if m, ok := markets[pair.yes.ConditionID]; ok {
		negRisk = m.NegRisk
	}

	result, err := e.redeemer.RedeemPair(ctx, pair.yes.ConditionID, pair.yes.PairID, shares, negRisk)
	if err != nil || !result.Success {
		slog.Warn("redeem pair failed", "pair", pair.yes.PairID, "err", err, "detail", result.Error)
		return domain.TradeOutcome{}, false
	}
	if err := e.store.SaveRedemption(ctx, result); err != nil {
		slog.Error("persist redemption", "pair", pair.yes.PairID, "err", err)
	}

	now := time.Now()
	deployed := pair.yes.EntryCost + pair.no.EntryCost
	gasMicros := domain.FromUSDC(result.GasCostUSD, domain.RoundUp)
	pnl := result.USDCReceived - deployed

	// Todo el P&L del par va al lado YES; el NO cierra a cero para no contar
	// el mismo trade dos veces en las rachas.
	out, err := e.ledger.CompleteClose(ctx, pair.yes.ID, 1.0, pnl, now)
	if err != nil {
		slog.Error("close redeemed yes leg", "position", pair.yes.ID, "err", err)
		return domain.TradeOutcome{}, false
	}
	out.GasCostUSDC = gasMicros
	e.risk.ApplyOutcome(ctx, out)
	if _, err := e.ledger.CompleteClose(ctx, pair.no.ID, 1.0, 0, now); err != nil {
		slog.Error("close redeemed no leg", "position", pair.no.ID, "err", err)
	}

	slog.Info("pair redeemed",
		"pair", pair.yes.PairID, "asset", pair.yes.Asset, "shares", shares,
		"received", result.USDCReceived.USDC(), "gas_usd", result.GasCostUSD,
		"pnl", pnl.USDC(), "tx", result.TxHash)
	return out, true
}

// processEntries ejecuta las oportunidades que pasan los gates de riesgo, de
// mayor a menor edge.
func (e *Engine) processEntries(ctx context.Context, snap scanner.Snapshot, gasHalted bool, report *domain.CycleReport, now time.Time) (int, []domain.TradeOutcome) {
	opps := e.detector.Detect(ctx, snap, now)
	report.Opportunities = len(opps)
	if len(opps) == 0 {
		return 0, nil
	}

	sort.Slice(opps, func(i, j int) bool { return opps[i].EdgeMicros > opps[j].EdgeMicros })

	stats := newPipelineStats()
	entries := 0
	var outcomes []domain.TradeOutcome

	for _, opp := range opps {
		if opp.Expired(time.Now()) {
			stats.record(skipExpired)
			continue
		}
		if e.ledger.HasOpenInMarket(opp.Market.ConditionID) {
			stats.record(skipAlreadyIn)
			continue
		}
		// El profit del sum-below vive en el merge on-chain: sin gas razonable
		// no hay trade. Las direccionales no dependen de la cadena.
		if opp.Strategy == domain.StrategySumBelow && gasHalted {
			stats.record(skipGasHalted)
			continue
		}
		if ok, reason := e.risk.MayEnter(opp.Market.Asset, opp.Notional(), e.ledger.OpenNotional(), e.ledger.OpenCount()); !ok {
			stats.record(skipRisk)
			slog.Debug("entry blocked by risk", "market", opp.Market.Slug, "reason", reason)
			continue
		}

		result, err := e.atomic.Execute(ctx, opp)
		if err != nil {
			slog.Error("atomic execution", "market", opp.Market.Slug, "err", err)
			stats.record(skipExecution)
			continue
		}

		switch result.State {
		case PairAllFilled:
			opened := 0
			for _, p := range result.Positions {
				if err := e.ledger.Open(ctx, p); err != nil {
					slog.Error("open position", "position", p.ID, "err", err)
					continue
				}
				opened++
			}
			if opened > 0 {
				entries++
				slog.Info("entry opened",
					"market", opp.Market.Slug, "strategy", opp.Strategy,
					"legs", opened, "edge", fmt.Sprintf("%.4f", opp.Edge),
					"notional", opp.Notional().USDC())
			}
		case PairUnwound:
			if result.UnwindOutcome != nil {
				e.risk.ApplyOutcome(ctx, *result.UnwindOutcome)
				outcomes = append(outcomes, *result.UnwindOutcome)
			}
			stats.record(skipUnwound)
		case PairAborted:
			stats.record(skipNoFill)
		default:
			if result.StrandedLeg != nil {
				// Leg sin deshacer: adoptarlo para que la política de salidas
				// lo gestione como direccional.
				if err := e.ledger.Open(ctx, *result.StrandedLeg); err != nil {
					slog.Error("adopt stranded leg", "err", err)
				}
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("stranded %s leg in %s adopted", result.StrandedLeg.Outcome, opp.Market.Slug))
			}
			stats.record(skipUnwound)
		}
	}

	stats.log()
	return entries, outcomes
}

// persistDailySummary acumula los números del ciclo en la fila del día.
func (e *Engine) persistDailySummary(ctx context.Context, report domain.CycleReport, outcomes []domain.TradeOutcome, now time.Time) {
	if len(outcomes) == 0 && report.EntriesOpened == 0 && report.Redemptions == 0 {
		return
	}

	summary := domain.DailySummary{
		Date:        time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		Entries:     report.EntriesOpened,
		Exits:       report.ExitsTriggered,
		Unwinds:     report.Unwinds,
		Redemptions: report.Redemptions,
	}
	for _, out := range outcomes {
		summary.RealizedPnL += out.PnL - out.GasCostUSDC
		summary.GasCostUSD += out.GasCostUSDC.USDC()
		if out.IsUnwind {
			continue
		}
		if out.PnL < 0 {
			summary.Losses++
		} else {
			summary.Wins++
		}
	}

	if err := e.store.UpsertDailySummary(ctx, summary); err != nil {
		slog.Error("persist daily summary", "err", err)
	}
}

func shortToken(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
