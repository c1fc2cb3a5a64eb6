package polymarket

// client.go — HTTP base contra Gamma y el CLOB.
//
// El tráfico del trader es muy regular: cada ciclo de escaneo toca Gamma una
// vez por asset (resolver el slug del intervalo), el CLOB una vez por mercado
// nuevo (tick size, mínimo, neg risk) y /books una vez por batch de tokens.
// Los limiters van dimensionados a ese patrón, muy por debajo de los límites
// documentados del venue; el retry honra Retry-After en los 429.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	httpTimeout   = 10 * time.Second
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Límites por superficie, al 60% de los documentados por el venue.
// Gamma /markets: 300/10s. CLOB /books: 500/10s. CLOB general: 9000/10s.
const (
	gammaRatePerSec   = 18
	booksRatePerSec   = 30
	generalRatePerSec = 540
)

// Client es el HTTP client compartido contra Gamma y el CLOB, con un limiter
// por superficie y retry con backoff.
type Client struct {
	http         *http.Client
	clobBase     string
	gammaBase    string
	clobLimiter  *rate.Limiter
	gammaLimiter *rate.Limiter
	booksLimiter *rate.Limiter
}

// NewClient crea un Client. Con bases vacías usa los URLs de producción.
func NewClient(clobBase, gammaBase string) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	return &Client{
		http:         &http.Client{Timeout: httpTimeout},
		clobBase:     clobBase,
		gammaBase:    gammaBase,
		clobLimiter:  rate.NewLimiter(generalRatePerSec, 50),
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
		booksLimiter: rate.NewLimiter(booksRatePerSec, 5),
	}
}

// get hace un GET JSON contra el limiter dado.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.do(ctx, limiter, http.MethodGet, url, nil, out)
}

// post hace un POST JSON contra el limiter dado.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("polymarket: marshal body: %w", err)
	}
	return c.do(ctx, limiter, http.MethodPost, url, payload, out)
}

// do ejecuta la request con retry. Los 5xx, 429 y errores de red reintentan
// con backoff; los 4xx restantes son definitivos.
func (c *Client) do(ctx context.Context, limiter *rate.Limiter, method, url string, payload []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("polymarket: rate limiter: %w", err)
		}

		wait, err := c.attempt(ctx, method, url, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if wait < 0 {
			return fmt.Errorf("polymarket: %s %s: %w", method, url, err)
		}
		if attempt == maxRetries {
			break
		}
		if wait == 0 {
			wait = baseRetryWait << attempt
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("polymarket: %s %s: agotados %d retries: %w", method, url, maxRetries, lastErr)
}

// attempt hace una request y decide el reintento: devuelve cuánto esperar
// antes del siguiente intento (0 = backoff exponencial, <0 = definitivo).
func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, out any) (time.Duration, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return -1, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("polymarket: rate limited by venue", "url", url)
		return retryAfter(resp), fmt.Errorf("status 429")
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("server error %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(resp.Body)
		return -1, fmt.Errorf("client error %d: %s", resp.StatusCode, string(detail))
	}

	if out == nil {
		return 0, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return -1, fmt.Errorf("decode response: %w", err)
	}
	return 0, nil
}

// sleep espera el backoff exponencial del intento dado, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	select {
	case <-time.After(baseRetryWait << attempt):
	case <-ctx.Done():
	}
}

// retryAfter lee el header Retry-After de un 429, si viene en segundos.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
