package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/candlerush/internal/domain"
	"github.com/alejandrodnm/candlerush/internal/ports"
)

// maxReportRows acota la tabla del report; las stats siempre cubren todo.
const maxReportRows = 50

// Console implementa ports.Notifier.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifySettlement imprime una línea por apuesta liquidada.
func (c *Console) NotifySettlement(_ context.Context, w domain.Wager, balance decimal.Decimal) error {
	at := time.Now()
	if w.SettledAt != nil {
		at = *w.SettledAt
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s %s x%d $%s",
		at.Format("15:04:05"), statusLabel(w.Status), w.Symbol,
		w.Direction, w.Leverage, w.Stake.StringFixed(2))

	if w.Won() {
		fmt.Fprintf(&sb, " → +$%s", w.PotentialProfit.StringFixed(2))
	} else {
		fmt.Fprintf(&sb, " → -$%s", w.Stake.StringFixed(2))
	}
	fmt.Fprintf(&sb, " | %s → %s (%s)",
		domain.FormatPrice(w.InitialPrice), domain.FormatPrice(w.FinalPrice), w.FinalPriceSource)
	if !w.Authoritative {
		sb.WriteString(" [fallback]")
	}
	fmt.Fprintf(&sb, " | balance $%s", balance.StringFixed(2))

	_, err := fmt.Fprintln(c.out, sb.String())
	return err
}

// PrintBalance imprime el resumen de una línea.
func (c *Console) PrintBalance(balance decimal.Decimal, stats domain.Stats) {
	fmt.Fprintf(c.out, "balance $%s | %d wagers (%d pending) | W:%d L:%d win %s%% | net $%s\n",
		balance.StringFixed(2), stats.Total, stats.Pending,
		stats.Won, stats.Lost, stats.WinRate.StringFixed(2), stats.NetProfit.StringFixed(2))
}

// PrintReport imprime el histórico en tabla y los agregados.
func (c *Console) PrintReport(snap domain.Snapshot) {
	if len(snap.Wagers) == 0 {
		fmt.Fprintln(c.out, "\n  No wagers yet.")
		c.PrintBalance(snap.Balance, domain.Stats{})
		return
	}

	fmt.Fprintf(c.out, "\n=== WAGER HISTORY (%d) ===\n", len(snap.Wagers))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Placed", "Symbol", "Dir", "Lev", "Stake", "Open", "Close", "PnL", "Status")

	for i, w := range snap.Wagers {
		if i >= maxReportRows {
			break
		}
		pnl := w.CurrentPnL
		closePrice := "-"
		if w.Status.Terminal() {
			pnl, _ = domain.SettledPnL(w)
			closePrice = domain.FormatPrice(w.FinalPrice)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			w.PlacedAt.Local().Format("01-02 15:04:05"),
			w.Symbol,
			string(w.Direction),
			fmt.Sprintf("x%d", w.Leverage),
			"$"+w.Stake.StringFixed(2),
			domain.FormatPrice(w.InitialPrice),
			closePrice,
			signed(pnl),
			statusLabel(w.Status),
		)
	}
	table.Render()

	if n := len(snap.Wagers); n > maxReportRows {
		fmt.Fprintf(c.out, "  ... %d older wagers not shown\n", n-maxReportRows)
	}

	stats := domain.ComputeStats(snap.Wagers)
	fmt.Fprintf(c.out, "\n  --- AGGREGATE ---\n")
	fmt.Fprintf(c.out, "  Wagers:         %d (%d pending)\n", stats.Total, stats.Pending)
	fmt.Fprintf(c.out, "  Won / Lost:     %d / %d\n", stats.Won, stats.Lost)
	fmt.Fprintf(c.out, "  Win rate:       %s%%\n", stats.WinRate.StringFixed(2))
	fmt.Fprintf(c.out, "  Total staked:   $%s\n", stats.TotalStaked.StringFixed(2))
	fmt.Fprintf(c.out, "  Total won:      $%s\n", stats.TotalWon.StringFixed(2))
	fmt.Fprintf(c.out, "  Total lost:     $%s\n", stats.TotalLost.StringFixed(2))
	fmt.Fprintf(c.out, "  Net profit:     %s\n", signed(stats.NetProfit))
	fmt.Fprintf(c.out, "  Balance:        $%s\n\n", snap.Balance.StringFixed(2))
}

// Forward consume eventos del ledger y llama a n por cada liquidación hasta
// que ctx se cancele o el canal se cierre.
func Forward(ctx context.Context, events <-chan domain.LedgerEvent, n ports.Notifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != domain.EventSettled || ev.Wager == nil {
				continue
			}
			if err := n.NotifySettlement(ctx, *ev.Wager, ev.Balance); err != nil {
				slog.Warn("settlement notification failed", "wager", ev.Wager.ID, "err", err)
			}
		}
	}
}

// --- helpers ---

func statusLabel(s domain.WagerStatus) string {
	switch s {
	case domain.StatusWon:
		return "WON"
	case domain.StatusLost:
		return "LOST"
	default:
		return "PENDING"
	}
}

func signed(v decimal.Decimal) string {
	if v.IsNegative() {
		return "-$" + v.Abs().StringFixed(2)
	}
	return "+$" + v.StringFixed(2)
}
