package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

func sampleReport() domain.CycleReport {
	return domain.CycleReport{
		Cycle:          7,
		At:             time.Date(2026, 8, 29, 14, 32, 5, 0, time.UTC),
		MarketsScanned: 4,
		Opportunities:  1,
		EntriesOpened:  2,
		ExitsTriggered: 1,
		OpenPositions: []domain.Position{
			{
				Asset:      "BTC",
				Outcome:    "Yes",
				Shares:     21.0,
				EntryPrice: 0.48,
				PeakPrice:  0.52,
				EntryCost:  domain.FromUSDC(10.18, domain.RoundUp),
				EntryTime:  time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC),
				MarketEnd:  time.Date(2026, 8, 29, 14, 45, 0, 0, time.UTC),
				Status:     domain.PositionOpen,
			},
		},
		DailyRealized: domain.FromUSDC(-1.25, domain.RoundDown),
		OpenNotional:  domain.FromUSDC(10.18, domain.RoundUp),
	}
}

func TestNotify_Compact(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	require.NoError(t, c.Notify(context.Background(), sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "cycle 7")
	assert.Contains(t, out, "4 mkts")
	assert.Contains(t, out, "+2 entries")
	assert.Contains(t, out, "-$1.2500")
	assert.NotContains(t, out, "BREAKER")
}

func TestNotify_CompactFlags(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	r := sampleReport()
	r.BreakerActive = true
	r.HaltedOnGas = true
	r.Unwinds = 1
	r.Warnings = []string{"leg timeout on ETH", "book stale", "tercera que no sale"}
	require.NoError(t, c.Notify(context.Background(), r))

	out := buf.String()
	assert.Contains(t, out, "BREAKER")
	assert.Contains(t, out, "GAS-HALT")
	assert.Contains(t, out, "1 unwinds")
	assert.Contains(t, out, "leg timeout on ETH")
	assert.NotContains(t, out, "tercera que no sale", "solo se muestran 2 warnings en compacto")
}

func TestNotify_FullTable(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, true)

	require.NoError(t, c.Notify(context.Background(), sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "BTC")
	assert.Contains(t, out, "Yes")
	assert.Contains(t, out, "0.480")
	assert.Contains(t, out, "day P&L")
}

func TestPrintDailySummaries(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, true)

	c.PrintDailySummaries(nil)
	assert.Contains(t, buf.String(), "No daily history")

	buf.Reset()
	c.PrintDailySummaries([]domain.DailySummary{
		{
			Date:        time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
			Entries:     4,
			Exits:       3,
			Wins:        2,
			Losses:      1,
			RealizedPnL: domain.FromUSDC(0.75, domain.RoundDown),
			GasCostUSD:  0.02,
		},
		{
			Date:        time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
			Entries:     2,
			Exits:       2,
			Losses:      2,
			RealizedPnL: domain.FromUSDC(-0.50, domain.RoundDown),
			GasCostUSD:  0.01,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "2026-08-29")
	assert.Contains(t, out, "2/1")
	assert.Contains(t, out, "TOTAL: +$0.2500")
}
