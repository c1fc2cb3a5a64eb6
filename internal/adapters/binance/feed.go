package binance

// feed.go — stream de precios spot de Binance por websocket.
//
// Implementa ports.ReferenceFeed. El stream es infinito y no reiniciable: ante
// un corte se reconecta con backoff y arranca una secuencia nueva; los
// consumidores solo leen el estado agregado (último precio, momentum,
// volatilidad), nunca el stream crudo.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	// Un precio más viejo que esto no cuenta como fresco.
	staleAfter = 10 * time.Second

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second

	readTimeout = 60 * time.Second
)

// Config parametriza el feed.
type Config struct {
	WSBase          string // p.ej. wss://stream.binance.com:9443/ws
	HistoryCapacity int    // ticks retenidos por símbolo
}

// Feed mantiene una historia de ticks por símbolo alimentada por el websocket.
type Feed struct {
	cfg     Config
	symbols []string // BTCUSDT, ETHUSDT, ...

	mu      sync.RWMutex
	history map[string]*ring
}

// NewFeed crea un feed para los assets dados (BTC, ETH, ...). Cada asset se
// mapea a su par USDT de Binance.
func NewFeed(cfg Config, assets []string) *Feed {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = 600
	}
	symbols := make([]string, len(assets))
	history := make(map[string]*ring, len(assets))
	for i, a := range assets {
		sym := strings.ToUpper(a) + "USDT"
		symbols[i] = sym
		history[sym] = newRing(cfg.HistoryCapacity)
	}
	return &Feed{cfg: cfg, symbols: symbols, history: history}
}

// SymbolFor devuelve el símbolo de Binance para un asset ("BTC" → "BTCUSDT").
func SymbolFor(asset string) string {
	return strings.ToUpper(asset) + "USDT"
}

// tradeEvent es el payload de un evento @trade de Binance.
type tradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"` // epoch millis
}

type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// Run consume el stream hasta que el contexto se cancele, reconectando con
// backoff exponencial ante cortes. Bloqueante.
func (f *Feed) Run(ctx context.Context) error {
	backoff := reconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.streamOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("binance: stream dropped, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// streamOnce abre una conexión, se suscribe y lee hasta error o cancelación.
func (f *Feed) streamOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.WSBase, nil)
	if err != nil {
		return fmt.Errorf("binance: dial %s: %w", f.cfg.WSBase, err)
	}
	defer conn.Close()

	params := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		params[i] = strings.ToLower(s) + "@trade"
	}
	if err := conn.WriteJSON(subscribeMsg{Method: "SUBSCRIBE", Params: params, ID: 1}); err != nil {
		return fmt.Errorf("binance: subscribe: %w", err)
	}

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// Cerrar la conexión cuando el contexto muera para desbloquear ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	slog.Info("binance: stream connected", "symbols", f.symbols)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("binance: read: %w", err)
		}

		var ev tradeEvent
		if err := json.Unmarshal(msg, &ev); err != nil || ev.EventType != "trade" {
			continue // respuesta de subscribe u otro evento
		}

		price, err := strconv.ParseFloat(ev.Price, 64)
		if err != nil || price <= 0 {
			continue
		}

		f.record(domain.PriceTick{
			Symbol: ev.Symbol,
			Price:  price,
			At:     time.UnixMilli(ev.TradeTime),
		})
	}
}

func (f *Feed) record(tick domain.PriceTick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.history[tick.Symbol]
	if !ok {
		return
	}
	r.push(tick)
}

// LastPrice devuelve el último precio del símbolo y si hay dato fresco.
func (f *Feed) LastPrice(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.history[symbol]
	if !ok || r.len() == 0 {
		return 0, false
	}
	last := r.last()
	if time.Since(last.At) > staleAfter {
		return last.Price, false
	}
	return last.Price, true
}

// Momentum devuelve el cambio fraccional del precio dentro de la ventana.
// 0 si no hay al menos dos ticks en ella.
func (f *Feed) Momentum(symbol string, window time.Duration) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.history[symbol]
	if !ok {
		return 0
	}
	ticks := r.since(time.Now().Add(-window))
	if len(ticks) < 2 {
		return 0
	}
	first, last := ticks[0].Price, ticks[len(ticks)-1].Price
	if first <= 0 {
		return 0
	}
	return (last - first) / first
}

// Volatility devuelve la desviación estándar de los retornos por segundo
// dentro de la ventana. 0 si no hay historia suficiente.
func (f *Feed) Volatility(symbol string, window time.Duration) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.history[symbol]
	if !ok {
		return 0
	}
	ticks := r.since(time.Now().Add(-window))
	if len(ticks) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(ticks)-1)
	for i := 1; i < len(ticks); i++ {
		dt := ticks[i].At.Sub(ticks[i-1].At).Seconds()
		if dt <= 0 || ticks[i-1].Price <= 0 {
			continue
		}
		ret := (ticks[i].Price - ticks[i-1].Price) / ticks[i-1].Price
		returns = append(returns, ret/dt)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

// seed inyecta ticks directamente en la historia. Solo para tests.
func (f *Feed) seed(ticks ...domain.PriceTick) {
	for _, t := range ticks {
		f.record(t)
	}
}

// ring es un buffer circular de ticks ordenados por llegada.
type ring struct {
	buf   []domain.PriceTick
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.PriceTick, capacity)}
}

func (r *ring) push(t domain.PriceTick) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = t
		r.count++
		return
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int { return r.count }

func (r *ring) last() domain.PriceTick {
	return r.buf[(r.start+r.count-1)%len(r.buf)]
}

// since devuelve los ticks con At >= cutoff, en orden de llegada.
func (r *ring) since(cutoff time.Time) []domain.PriceTick {
	out := make([]domain.PriceTick, 0, r.count)
	for i := 0; i < r.count; i++ {
		t := r.buf[(r.start+i)%len(r.buf)]
		if !t.At.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
