package polymarket

// markets.go — descubrimiento de mercados up/down de 15 minutos.
//
// Gamma resuelve el slug del intervalo en curso a condition_id y tokens; el
// CLOB aporta los parámetros de trading (tick size, mínimo de orden, neg risk)
// que el venue declara y que nunca se asumen.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	clobMarketPath   = "/markets/"
	booksPath        = "/books"
	batchSize        = 20 // máx token_ids por request a /books

	intervalLength = 15 * time.Minute
)

// intervalSlug construye el slug del mercado del intervalo en curso para un
// asset: "{asset}-updown-15m-{unix del inicio del intervalo}".
func intervalSlug(asset string, now time.Time) string {
	start := now.UTC().Truncate(intervalLength)
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(asset), start.Unix())
}

// FetchIntervalMarkets devuelve los mercados del intervalo de 15 minutos en
// curso para los assets dados. Los assets sin mercado en Gamma se omiten con
// un log; un asset caído no tumba el snapshot entero.
func (c *Client) FetchIntervalMarkets(ctx context.Context, assets []string) ([]domain.Market, error) {
	now := time.Now()
	markets := make([]domain.Market, 0, len(assets))

	for _, asset := range assets {
		slug := intervalSlug(asset, now)
		url := fmt.Sprintf("%s%s?slug=%s", c.gammaBase, gammaMarketsPath, slug)

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.gammaLimiter, url, &resp); err != nil {
			slog.Warn("gamma market fetch failed", "asset", asset, "slug", slug, "err", err)
			continue
		}
		if len(resp) == 0 {
			slog.Debug("no market for interval", "asset", asset, "slug", slug)
			continue
		}

		m, ok := mapGammaMarket(resp[0])
		if !ok {
			slog.Warn("gamma market unparseable", "asset", asset, "slug", slug)
			continue
		}
		if m.Asset == "" {
			m.Asset = strings.ToUpper(asset)
		}

		if err := c.enrichWithClobParams(ctx, &m); err != nil {
			slog.Warn("clob params fetch failed", "condition_id", m.ConditionID, "err", err)
			continue
		}

		markets = append(markets, m)
	}

	slog.Debug("interval markets fetched", "assets", len(assets), "markets", len(markets))
	return markets, nil
}

// enrichWithClobParams trae tick size, mínimo de orden y neg risk del CLOB.
func (c *Client) enrichWithClobParams(ctx context.Context, m *domain.Market) error {
	url := c.clobBase + clobMarketPath + m.ConditionID

	var resp clobMarketResponse
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return fmt.Errorf("GET /markets/%s: %w", m.ConditionID, err)
	}
	applyClobParams(m, resp)
	return nil
}

// FetchOrderBooks obtiene los orderbooks para los token_ids dados usando el
// endpoint batch. Lanza un goroutine por batch (máx batchSize tokens cada uno)
// y los ejecuta concurrentemente; el rate limiter controla el ritmo solo.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	if len(tokenIDs) == 0 {
		return map[string]domain.OrderBook{}, nil
	}

	batches := splitBatches(tokenIDs, batchSize)

	type batchResult struct {
		books map[string]domain.OrderBook
		err   error
		idx   int
	}

	resultCh := make(chan batchResult, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		i, batch := i, batch
		wg.Add(1)
		go func() {
			defer wg.Done()
			books, err := c.fetchBooksBatch(ctx, batch)
			resultCh <- batchResult{books: books, err: err, idx: i}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	result := make(map[string]domain.OrderBook, len(tokenIDs))
	var firstErr error

	for r := range resultCh {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("polymarket.FetchOrderBooks batch %d: %w", r.idx, r.err)
			}
			continue
		}
		for k, v := range r.books {
			result[k] = v
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}

	slog.Debug("order books fetched", "tokens", len(tokenIDs), "books", len(result))
	return result, nil
}

// splitBatches divide tokenIDs en slices de tamaño máximo size.
func splitBatches(tokenIDs []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	batches := make([][]string, 0, (len(tokenIDs)+size-1)/size)
	for i := 0; i < len(tokenIDs); i += size {
		end := i + size
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		batches = append(batches, tokenIDs[i:end])
	}
	return batches
}

// fetchBooksBatch hace un POST /books para un batch de token_ids.
func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	url := c.clobBase + booksPath
	if err := c.post(ctx, c.booksLimiter, url, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}

	return mapOrderBooks(resp), nil
}
