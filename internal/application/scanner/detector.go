package scanner

// detector.go — detección de oportunidades sobre el snapshot de mercados.
//
// Dos estrategias por mercado, en orden: el arbitraje sum-below (YES ask +
// NO ask + fees < $1.00) y, si no hay arb, una entrada direccional votada por
// el ensemble de señales. Los precios de entrada cotizan contra el ask
// ejecutable para el tamaño entero, no contra el best ask: el book puede no
// tener profundidad en el primer nivel.

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
	"github.com/alejandrodnm/polytrader/internal/signal"
)

// Config son los parámetros de detección y sizing.
type Config struct {
	Assets            []string
	OrderNotionalUSDC float64
	MinOrderValueUSDC float64
	SizeGranularity   float64
	MinEdge           float64
	TTL               time.Duration
	MomentumWindow    time.Duration
	Workers           int
}

// Snapshot es la foto inmutable de un ciclo: mercados tradeables y sus books.
type Snapshot struct {
	Markets []domain.Market
	Books   map[string]domain.OrderBook
}

// Detector escanea mercados y produce oportunidades ejecutables.
type Detector struct {
	markets  ports.MarketProvider
	books    ports.BookProvider
	feed     ports.ReferenceFeed
	fees     *domain.FeeModel
	ensemble *signal.Ensemble
	cfg      Config
}

// NewDetector crea el detector.
func NewDetector(markets ports.MarketProvider, books ports.BookProvider, feed ports.ReferenceFeed,
	fees *domain.FeeModel, ensemble *signal.Ensemble, cfg Config) *Detector {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() * 2
	}
	return &Detector{
		markets:  markets,
		books:    books,
		feed:     feed,
		fees:     fees,
		ensemble: ensemble,
		cfg:      cfg,
	}
}

// Snapshot obtiene los mercados del intervalo en curso y sus orderbooks.
func (d *Detector) Snapshot(ctx context.Context) (Snapshot, error) {
	markets, err := d.markets.FetchIntervalMarkets(ctx, d.cfg.Assets)
	if err != nil {
		return Snapshot{}, fmt.Errorf("detector: fetch markets: %w", err)
	}

	now := time.Now()
	tradeable := markets[:0]
	tokenIDs := make([]string, 0, len(markets)*2)
	for _, m := range markets {
		if !m.Tradeable(now) {
			continue
		}
		tradeable = append(tradeable, m)
		tokenIDs = append(tokenIDs, m.YesToken().TokenID, m.NoToken().TokenID)
	}

	books := map[string]domain.OrderBook{}
	if len(tokenIDs) > 0 {
		books, err = d.books.FetchOrderBooks(ctx, tokenIDs)
		if err != nil {
			return Snapshot{}, fmt.Errorf("detector: fetch books: %w", err)
		}
	}

	return Snapshot{Markets: tradeable, Books: books}, nil
}

// Detect analiza los mercados del snapshot en paralelo con un pool de workers.
func (d *Detector) Detect(ctx context.Context, snap Snapshot, now time.Time) []domain.Opportunity {
	if len(snap.Markets) == 0 {
		return nil
	}

	workCh := make(chan domain.Market, len(snap.Markets))
	resultCh := make(chan *domain.Opportunity, len(snap.Markets))

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range workCh {
				resultCh <- d.analyzeMarket(ctx, m, snap.Books, now)
			}
		}()
	}

	for _, m := range snap.Markets {
		workCh <- m
	}
	close(workCh)
	wg.Wait()
	close(resultCh)

	var opps []domain.Opportunity
	for opp := range resultCh {
		if opp != nil {
			opps = append(opps, *opp)
		}
	}
	return opps
}

// analyzeMarket busca primero el arb sum-below; sin arb, consulta al ensemble.
func (d *Detector) analyzeMarket(ctx context.Context, m domain.Market, books map[string]domain.OrderBook, now time.Time) *domain.Opportunity {
	yesBook, okY := books[m.YesToken().TokenID]
	noBook, okN := books[m.NoToken().TokenID]
	if !okY || !okN {
		return nil
	}

	if opp := d.sumBelow(m, yesBook, noBook, now); opp != nil {
		return opp
	}
	return d.directional(ctx, m, yesBook, noBook, now)
}

// sumBelow detecta el arbitraje clásico: comprar YES y NO por menos de lo que
// redimen juntos. El sizing iguala las shares de ambos legs porque el merge
// on-chain consume pares completos.
func (d *Detector) sumBelow(m domain.Market, yesBook, noBook domain.OrderBook, now time.Time) *domain.Opportunity {
	bestYes := yesBook.BestAsk()
	bestNo := noBook.BestAsk()
	if bestYes <= 0 || bestNo <= 0 {
		return nil
	}

	// Estimar shares con los best asks para cotizar contra la profundidad real.
	guess := d.cfg.OrderNotionalUSDC / (bestYes + bestNo)
	pYes := yesBook.ExecutableAsk(guess)
	pNo := noBook.ExecutableAsk(guess)
	if pYes <= 0 || pNo <= 0 {
		return nil
	}

	_, _, totalPerPair := d.fees.TotalCost(pYes, pNo)
	if totalPerPair >= domain.MicrosPerUSDC {
		return nil
	}
	edge := float64(domain.MicrosPerUSDC-totalPerPair) / float64(totalPerPair)
	if edge < d.cfg.MinEdge {
		return nil
	}

	minOrder := d.minOrderValue(m)
	notional := domain.FromUSDC(d.cfg.OrderNotionalUSDC, domain.RoundNearest)
	notionalYes := notional.MulFrac(int64(domain.PriceToMicros(pYes)), int64(domain.PriceToMicros(pYes)+domain.PriceToMicros(pNo)), domain.RoundUp)

	sizedYes, err := domain.SizeOrder(notionalYes, pYes, minOrder, d.cfg.SizeGranularity)
	if err != nil {
		slog.Debug("sum-below sizing rejected", "market", m.Slug, "err", err)
		return nil
	}
	sizedNo, err := domain.SizeOrder(notional-notionalYes, pNo, minOrder, d.cfg.SizeGranularity)
	if err != nil {
		slog.Debug("sum-below sizing rejected", "market", m.Slug, "err", err)
		return nil
	}

	// Igualar shares al mayor de los dos legs y re-verificar ambos.
	shares := sizedYes.Shares
	if sizedNo.Shares > shares {
		shares = sizedNo.Shares
	}
	sizedYes, err = resizeTo(shares, pYes, minOrder)
	if err != nil {
		return nil
	}
	sizedNo, err = resizeTo(shares, pNo, minOrder)
	if err != nil {
		return nil
	}

	// Con las shares finales, confirmar que la profundidad sigue alcanzando.
	if yesBook.ExecutableAsk(shares) > pYes || noBook.ExecutableAsk(shares) > pNo {
		return nil
	}

	sharesM := domain.FromUSDC(shares, domain.RoundNearest)
	totalCost := domain.MulPrice(sharesM, totalPerPair, domain.RoundUp)
	edgeMicros := sharesM - totalCost
	if edgeMicros <= 0 {
		return nil
	}

	return &domain.Opportunity{
		Strategy: domain.StrategySumBelow,
		Market:   m,
		YesBook:  yesBook,
		NoBook:   noBook,
		Legs: []domain.Leg{
			{Role: domain.LegFirst, Outcome: "Yes",
				Order: domain.NewOrder(m.ConditionID, m.YesToken().TokenID, domain.SideBuy, sizedYes, now)},
			{Role: domain.LegSecond, Outcome: "No",
				Order: domain.NewOrder(m.ConditionID, m.NoToken().TokenID, domain.SideBuy, sizedNo, now)},
		},
		Edge:       edge,
		EdgeMicros: edgeMicros,
		DetectedAt: now,
		TTL:        d.cfg.TTL,
	}
}

// directional consulta al ensemble y construye una entrada a un solo lado.
func (d *Detector) directional(ctx context.Context, m domain.Market, yesBook, noBook domain.OrderBook, now time.Time) *domain.Opportunity {
	if d.ensemble == nil {
		return nil
	}

	sctx := domain.SignalContext{
		Market:  m,
		YesBook: yesBook,
		NoBook:  noBook,
		Now:     now,
	}
	if d.feed != nil {
		symbol := m.Asset + "USDT"
		if price, fresh := d.feed.LastPrice(symbol); fresh {
			sctx.RefPrice = price
			sctx.RefMomentum = d.feed.Momentum(symbol, d.cfg.MomentumWindow)
			sctx.RefVolatility = d.feed.Volatility(symbol, d.cfg.MomentumWindow)
		}
	}

	sig := d.ensemble.Decide(ctx, sctx)
	if sig.Action != domain.ActionBuyYes && sig.Action != domain.ActionBuyNo {
		return nil
	}

	book, token, outcome := yesBook, m.YesToken(), "Yes"
	if sig.Action == domain.ActionBuyNo {
		book, token, outcome = noBook, m.NoToken(), "No"
	}

	guess := d.cfg.OrderNotionalUSDC
	if ask := book.BestAsk(); ask > 0 {
		guess = d.cfg.OrderNotionalUSDC / ask
	}
	price := book.ExecutableAsk(guess)
	if price <= 0 {
		return nil
	}

	notional := domain.FromUSDC(d.cfg.OrderNotionalUSDC, domain.RoundNearest)
	sized, err := domain.SizeOrder(notional, price, d.minOrderValue(m), d.cfg.SizeGranularity)
	if err != nil {
		slog.Debug("directional sizing rejected", "market", m.Slug, "err", err)
		return nil
	}

	slog.Info("directional signal",
		"market", m.Slug, "action", sig.Action,
		"confidence", fmt.Sprintf("%.2f", sig.Confidence), "reasoning", sig.Reasoning)

	return &domain.Opportunity{
		Strategy: domain.StrategyDirectional,
		Market:   m,
		YesBook:  yesBook,
		NoBook:   noBook,
		Legs: []domain.Leg{
			{Role: domain.LegFirst, Outcome: outcome,
				Order: domain.NewOrder(m.ConditionID, token.TokenID, domain.SideBuy, sized, now)},
		},
		Edge:       sig.Confidence,
		DetectedAt: now,
		TTL:        d.cfg.TTL,
	}
}

// minOrderValue devuelve el mínimo de orden efectivo: el del mercado si lo
// declara, el de config si no.
func (d *Detector) minOrderValue(m domain.Market) domain.Micros {
	if m.MinOrderValue > 0 {
		return domain.FromUSDC(m.MinOrderValue, domain.RoundNearest)
	}
	return domain.FromUSDC(d.cfg.MinOrderValueUSDC, domain.RoundNearest)
}

// resizeTo reconstruye un SizedOrder para unas shares exactas, verificando el
// mínimo del venue sobre el producto redondeado hacia abajo.
func resizeTo(shares, price float64, minOrder domain.Micros) (domain.SizedOrder, error) {
	sharesM := domain.FromUSDC(shares, domain.RoundNearest)
	priceM := domain.PriceToMicros(price)
	venueValue := domain.MulPrice(sharesM, priceM, domain.RoundDown)
	if venueValue < minOrder {
		return domain.SizedOrder{}, fmt.Errorf("%w: value=%s min=%s", domain.ErrBelowMinOrder, venueValue, minOrder)
	}
	return domain.SizedOrder{
		Price:  price,
		Shares: shares,
		Cost:   domain.MulPrice(sharesM, priceM, domain.RoundUp),
	}, nil
}
