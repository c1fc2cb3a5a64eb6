package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime el resumen del ciclo en el modo configurado.
func (c *Console) Notify(_ context.Context, report domain.CycleReport) error {
	if c.table {
		c.printFull(report)
	} else {
		c.printCompact(report)
	}
	return nil
}

// printCompact imprime lo esencial en una línea, más warnings si los hay.
func (c *Console) printCompact(r domain.CycleReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] cycle %d | %d mkts | %d opps | +%d entries | %d exits",
		r.At.Format("15:04:05"), r.Cycle, r.MarketsScanned, r.Opportunities,
		r.EntriesOpened, r.ExitsTriggered)

	if r.Unwinds > 0 {
		fmt.Fprintf(&sb, " | %d unwinds", r.Unwinds)
	}
	if r.Redemptions > 0 {
		fmt.Fprintf(&sb, " | %d redeemed", r.Redemptions)
	}
	fmt.Fprintf(&sb, " | open %d ($%.2f) | day %s",
		len(r.OpenPositions), r.OpenNotional.USDC(), pnlLabel(r.DailyRealized))

	if r.BreakerActive {
		sb.WriteString(" | BREAKER")
	}
	if r.HaltedOnGas {
		sb.WriteString(" | GAS-HALT")
	}

	for i, w := range r.Warnings {
		if i >= 2 {
			break
		}
		fmt.Fprintf(&sb, "\n  !! %s", w)
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime el estado del ciclo con la tabla de posiciones abiertas.
func (c *Console) printFull(r domain.CycleReport) {
	fmt.Fprintf(c.out, "\n[%s] cycle %d — %d markets, %d opportunities, %d entries, %d exits\n",
		r.At.Format("15:04:05"), r.Cycle, r.MarketsScanned, r.Opportunities,
		r.EntriesOpened, r.ExitsTriggered)

	if len(r.OpenPositions) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Asset", "Side", "Shares", "Entry", "Peak", "Cost$", "Age", "To Close")

		now := r.At
		for _, p := range r.OpenPositions {
			table.Append(
				p.Asset,
				p.Outcome,
				fmt.Sprintf("%.2f", p.Shares),
				fmt.Sprintf("%.3f", p.EntryPrice),
				fmt.Sprintf("%.3f", p.PeakPrice),
				fmt.Sprintf("$%.2f", p.EntryCost.USDC()),
				p.Age(now).Truncate(time.Second).String(),
				timeToClose(p.MarketEnd, now),
			)
		}
		table.Render()
	} else {
		fmt.Fprintln(c.out, "  (no open positions)")
	}

	fmt.Fprintf(c.out, "  day P&L: %s | open notional: $%.2f",
		pnlLabel(r.DailyRealized), r.OpenNotional.USDC())
	if r.BreakerActive {
		fmt.Fprint(c.out, " | CIRCUIT BREAKER ACTIVE")
	}
	if r.HaltedOnGas {
		fmt.Fprint(c.out, " | HALTED ON GAS")
	}
	fmt.Fprintln(c.out)

	for _, w := range r.Warnings {
		fmt.Fprintf(c.out, "  !! %s\n", w)
	}
	fmt.Fprintln(c.out)
}

// PrintDailySummaries imprime el histórico diario en tabla.
func (c *Console) PrintDailySummaries(rows []domain.DailySummary) {
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "\n  No daily history yet.")
		return
	}

	fmt.Fprintf(c.out, "\n=== DAILY HISTORY (%d days) ===\n", len(rows))

	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "Entries", "Exits", "Unwinds", "Redeems", "W/L", "P&L", "Gas$")

	var totalPnL domain.Micros
	var totalGas float64
	for _, d := range rows {
		totalPnL += d.RealizedPnL
		totalGas += d.GasCostUSD
		table.Append(
			d.Date.Format("2006-01-02"),
			fmt.Sprintf("%d", d.Entries),
			fmt.Sprintf("%d", d.Exits),
			fmt.Sprintf("%d", d.Unwinds),
			fmt.Sprintf("%d", d.Redemptions),
			fmt.Sprintf("%d/%d", d.Wins, d.Losses),
			pnlLabel(d.RealizedPnL),
			fmt.Sprintf("$%.4f", d.GasCostUSD),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  TOTAL: %s net | $%.4f gas\n\n", pnlLabel(totalPnL), totalGas)
}

func pnlLabel(m domain.Micros) string {
	v := m.USDC()
	if v >= 0 {
		return fmt.Sprintf("+$%.4f", v)
	}
	return fmt.Sprintf("-$%.4f", -v)
}

func timeToClose(end, now time.Time) string {
	if end.IsZero() {
		return "-"
	}
	left := end.Sub(now)
	if left <= 0 {
		return "closed"
	}
	return left.Truncate(time.Second).String()
}
