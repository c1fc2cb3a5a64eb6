package engine

// support_test.go — fakes compartidos por los tests del engine.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// fakeStore es un ports.Store en memoria.
type fakeStore struct {
	mu         sync.Mutex
	positions  map[string]domain.Position
	orders     map[string]domain.Order
	outcomes   []domain.TradeOutcome
	riskState  *domain.RiskState
	redeems    []domain.RedeemResult
	summaries  map[string]domain.DailySummary
	checkpoint *uint64
	failSave   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		positions: make(map[string]domain.Position),
		orders:    make(map[string]domain.Order),
		summaries: make(map[string]domain.DailySummary),
	}
}

func (s *fakeStore) ApplySchema(context.Context) error { return nil }

func (s *fakeStore) SavePosition(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return fmt.Errorf("fake store: save failed")
	}
	s.positions[p.ID] = p
	return nil
}

func (s *fakeStore) UpdatePosition(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("fake store: position not found")
	}
	s.positions[p.ID] = p
	return nil
}

func (s *fakeStore) GetOpenPositions(context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionOpen || p.Status == domain.PositionClosing {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveOrder(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ClientID] = o
	return nil
}

func (s *fakeStore) UpdateOrder(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ClientID] = o
	return nil
}

func (s *fakeStore) SaveOutcome(_ context.Context, out domain.TradeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, out)
	return nil
}

func (s *fakeStore) SaveRiskState(_ context.Context, rs domain.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := rs
	s.riskState = &copied
	return nil
}

func (s *fakeStore) LoadRiskState(context.Context) (domain.RiskState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.riskState == nil {
		return domain.RiskState{}, false, nil
	}
	return *s.riskState, true, nil
}

func (s *fakeStore) SaveRedemption(_ context.Context, r domain.RedeemResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redeems = append(s.redeems, r)
	return nil
}

func (s *fakeStore) SaveSequencerCheckpoint(_ context.Context, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil || nonce > *s.checkpoint {
		s.checkpoint = &nonce
	}
	return nil
}

func (s *fakeStore) LoadSequencerCheckpoint(context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil {
		return 0, false, nil
	}
	return *s.checkpoint, true, nil
}

func (s *fakeStore) UpsertDailySummary(_ context.Context, d domain.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := d.Date.Format("2006-01-02")
	acc := s.summaries[key]
	acc.Date = d.Date
	acc.Entries += d.Entries
	acc.Exits += d.Exits
	acc.Unwinds += d.Unwinds
	acc.Redemptions += d.Redemptions
	acc.Wins += d.Wins
	acc.Losses += d.Losses
	acc.RealizedPnL += d.RealizedPnL
	acc.GasCostUSD += d.GasCostUSD
	s.summaries[key] = acc
	return nil
}

func (s *fakeStore) GetDailySummaries(context.Context, time.Time, time.Time) ([]domain.DailySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DailySummary
	for _, d := range s.summaries {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

// fakeExecutor scriptea el comportamiento del CLOB por token.
type fakeExecutor struct {
	mu        sync.Mutex
	placed    []domain.PlaceOrderRequest
	cancelled []string
	// rejectTokens hace que las órdenes de esos tokens terminen REJECTED.
	rejectTokens map[string]bool
	// pendingTokens hace que las órdenes de esos tokens nunca lleguen a
	// estado terminal, como un venue que no responde.
	pendingTokens map[string]bool
	// balances por token para TokenBalance.
	balances map[string]float64
	seq      int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		rejectTokens:  make(map[string]bool),
		pendingTokens: make(map[string]bool),
		balances:      make(map[string]float64),
	}
}

func (f *fakeExecutor) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	f.seq++
	return domain.PlacedOrder{CLOBOrderID: fmt.Sprintf("0xord%d|%s", f.seq, req.TokenID)}, nil
}

// GetOrderState decodifica el token del CLOB ID sintético "0xordN|token" y
// responde con el script configurado para ese token.
func (f *fakeExecutor) GetOrderState(_ context.Context, clobOrderID string) (ports.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(clobOrderID, "|", 2)
	token := ""
	if len(parts) == 2 {
		token = parts[1]
	}
	if f.pendingTokens[token] {
		return ports.OrderState{Status: domain.OrderSubmitted}, nil
	}
	if f.rejectTokens[token] {
		return ports.OrderState{Status: domain.OrderRejected}, nil
	}
	for i := len(f.placed) - 1; i >= 0; i-- {
		if f.placed[i].TokenID == token {
			return ports.OrderState{
				Status:      domain.OrderFilled,
				FilledSize:  f.placed[i].Shares,
				FilledPrice: f.placed[i].Price,
			}, nil
		}
	}
	return ports.OrderState{Status: domain.OrderRejected}, nil
}

func (f *fakeExecutor) CancelOrder(_ context.Context, clobOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, clobOrderID)
	return nil
}

func (f *fakeExecutor) CancelAll(context.Context) error { return nil }

func (f *fakeExecutor) GetBalance(context.Context) (float64, error) { return 1000, nil }

func (f *fakeExecutor) TokenBalance(_ context.Context, tokenID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[tokenID], nil
}

// fakeRedeemer mezcla pares sin cadena: devuelve $1.00 por share menos nada.
type fakeRedeemer struct {
	mu        sync.Mutex
	halted    bool
	gasUSD    float64
	failMerge bool
	redeemed  []domain.RedeemResult
}

func (f *fakeRedeemer) RedeemPair(_ context.Context, conditionID, pairID string, amount float64, _ bool) (domain.RedeemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMerge {
		return domain.RedeemResult{Success: false, Error: "merge reverted"}, fmt.Errorf("merge reverted")
	}
	r := domain.RedeemResult{
		ConditionID:  conditionID,
		PairID:       pairID,
		TxHash:       "0xmerge",
		GasCostUSD:   f.gasUSD,
		USDCReceived: domain.FromUSDC(amount, domain.RoundDown),
		Success:      true,
		ExecutedAt:   time.Now(),
	}
	f.redeemed = append(f.redeemed, r)
	return r, nil
}

func (f *fakeRedeemer) EstimateGasCostUSD(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gasUSD, nil
}

func (f *fakeRedeemer) EnsureApprovals(context.Context) error { return nil }

func (f *fakeRedeemer) GasHalted(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted, nil
}

// fakeFeed devuelve valores fijos de referencia.
type fakeFeed struct {
	price float64
	mom   float64
	vol   float64
}

func (f *fakeFeed) Run(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (f *fakeFeed) LastPrice(string) (float64, bool) { return f.price, f.price > 0 }

func (f *fakeFeed) Momentum(string, time.Duration) float64 { return f.mom }

func (f *fakeFeed) Volatility(string, time.Duration) float64 { return f.vol }
