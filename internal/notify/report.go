package notify

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// WriteReport renders the session summary as a table.
func WriteReport(w io.Writer, st domain.SessionState, now time.Time) error {
	stats := st.Stats
	pnl, ok := st.PnL()
	pnlLabel := "n/a"
	if ok {
		pnlLabel = fmt.Sprintf("%+.2f", pnl)
	}

	rows := [][]string{
		{"Started", formatTime(stats.StartedAt)},
		{"Duration", durationSince(stats.StartedAt, now)},
		{"Trades", fmt.Sprintf("%d", stats.Trades())},
		{"Wins / Losses", fmt.Sprintf("%d / %d", stats.Wins, stats.Losses)},
		{"Win rate", fmt.Sprintf("%.1f%%", stats.WinRate())},
		{"Total profit", fmt.Sprintf("%+.2f", stats.TotalProfit)},
		{"Average profit", fmt.Sprintf("%+.2f", stats.AverageProfit())},
		{"Best / worst", fmt.Sprintf("%+.2f / %+.2f", stats.BestTrade, stats.WorstTrade)},
		{"Max streak W / L", fmt.Sprintf("%d / %d", stats.MaxConsecutiveWins, stats.MaxConsecutiveLosses)},
		{"Balance", balanceLabel(st.InitialBalance, st.LastBalance)},
		{"PnL", pnlLabel},
		{"Next stake", fmt.Sprintf("%.2f", st.CurrentStake)},
	}
	if st.CurrentContract != "" {
		rows = append(rows, []string{"Open contract", st.CurrentContract})
	}

	table := tablewriter.NewWriter(w)
	table.Header("Session", "Value")
	for _, r := range rows {
		if err := table.Append(r[0], r[1]); err != nil {
			return fmt.Errorf("notify: report row %s: %w", r[0], err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("notify: render report: %w", err)
	}
	return nil
}

// Summary is the one-line form of the report used in alerts.
func Summary(st domain.SessionState) string {
	pnl, _ := st.PnL()
	return fmt.Sprintf("trades=%d wins=%d losses=%d win_rate=%.1f%% pnl=%+.2f",
		st.Stats.Trades(), st.Stats.Wins, st.Stats.Losses, st.Stats.WinRate(), pnl)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

func durationSince(start, now time.Time) string {
	if start.IsZero() {
		return "-"
	}
	return now.Sub(start).Truncate(time.Second).String()
}

func balanceLabel(initial, last *float64) string {
	switch {
	case initial == nil || last == nil:
		return "unknown"
	default:
		return fmt.Sprintf("%.2f -> %.2f", *initial, *last)
	}
}
