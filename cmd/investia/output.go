package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"investia/internal/advisor"
	"investia/internal/assets"
	"investia/internal/backtest"
	"investia/internal/fusion"
	"investia/internal/regime"
	"investia/internal/store"
	"investia/pkg/model"
)

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

var actionRank = map[model.Action]int{
	model.ActionBuy:  0,
	model.ActionSell: 1,
	model.ActionHold: 2,
}

func outputReportTable(report *advisor.Report, catalog *assets.Catalog) error {
	printRegimeLine(report.Regime)

	recs := make([]*fusion.Recommendation, len(report.Recommendations))
	copy(recs, report.Recommendations)
	// BUY first, then SELL, then HOLD; strongest first within each
	sort.SliceStable(recs, func(i, j int) bool {
		if actionRank[recs[i].Action] != actionRank[recs[j].Action] {
			return actionRank[recs[i].Action] < actionRank[recs[j].Action]
		}
		return recs[i].Confidence > recs[j].Confidence
	})

	fmt.Printf("BUY %d | SELL %d | HOLD %d\n\n",
		report.Count(model.ActionBuy), report.Count(model.ActionSell), report.Count(model.ActionHold))

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Name", "Tier", "Action", "Conf", "Score", "Signals", "Reason"}),
	)

	for _, r := range recs {
		name, tier := r.Symbol, "-"
		if a, err := catalog.Lookup(r.Symbol); err == nil {
			name, tier = a.Name, a.Tier.String()
		}

		signals := "full"
		if r.IsDegraded() {
			missing := make([]string, len(r.Degraded))
			for i, d := range r.Degraded {
				missing[i] = string(d.Source)
			}
			signals = "no " + strings.Join(missing, ",")
		}

		table.Append([]string{
			r.Symbol,
			truncate(name, 18),
			tier,
			string(r.Action),
			fmt.Sprintf("%.0f%%", r.Confidence*100),
			fmt.Sprintf("%+.2f", r.Score),
			signals,
			truncate(r.Reason, 50),
		})
	}

	table.Render()

	if len(report.Failed) > 0 {
		fmt.Printf("\nSkipped %d assets:\n", len(report.Failed))
		for _, f := range report.Failed {
			fmt.Printf("  %-6s %s\n", f.Symbol, f.Reason)
		}
	}

	fmt.Printf("\nAnalyzed %d assets in %s\n",
		len(report.Recommendations)+len(report.Failed), report.Duration.Round(time.Millisecond))
	return nil
}

func printRegimeLine(reg regime.MacroRegime) {
	if !reg.Available {
		fmt.Println("Market regime: Calm (fear index unavailable)")
		return
	}
	fmt.Printf("Market regime: %s (fear index %.2f)\n", reg.Level, reg.FearIndex)
}

func outputRegime(reg regime.MacroRegime, policy fusion.Policy) {
	printRegimeLine(reg)

	th := policy.ThresholdsFor(reg.Level)
	fmt.Printf("  BUY above %.2f | SELL below -%.2f\n", th.Buy, th.Sell)
	if th.MaxBuyTier != nil {
		fmt.Printf("  BUY only for tier %s or safer\n", th.MaxBuyTier)
	}
}

func outputResult(res *backtest.Result, showTrades bool) {
	if res.RunID != "" {
		fmt.Printf("Run %s\n", res.RunID)
	}
	fmt.Printf("[%s] %s (%d days)\n\n", res.Symbol, res.Period(), len(res.EquityCurve))

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Metric", "Strategy", "Buy & Hold"}),
	)
	table.Append([]string{"Initial", fmt.Sprintf("$%.2f", res.InitialCapital), fmt.Sprintf("$%.2f", res.InitialCapital)})
	benchFinal := res.InitialCapital
	if n := len(res.BenchmarkCurve); n > 0 {
		benchFinal = res.BenchmarkCurve[n-1].Value
	}
	table.Append([]string{"Final", fmt.Sprintf("$%.2f", res.FinalValue), fmt.Sprintf("$%.2f", benchFinal)})
	table.Append([]string{"Return", fmt.Sprintf("%+.2f%%", res.ReturnPct), fmt.Sprintf("%+.2f%%", res.BenchmarkReturnPct)})
	table.Append([]string{"Max Drawdown", fmt.Sprintf("%.2f%%", res.MaxDrawdownPct), "-"})
	table.Render()

	s := res.Stats
	fmt.Printf("\nTrades: %d | Round trips: %d | Win rate: %.0f%% | Profit factor: %.2f\n",
		s.TradeCount, s.RoundTrips, s.WinRate, s.ProfitFactor)
	fmt.Printf("Sharpe: %.2f | Sortino: %.2f | CAGR: %+.2f%% | Exposure: %.0f%% | Longest drawdown: %d days\n",
		s.SharpeRatio, s.SortinoRatio, s.CAGR, s.ExposurePct, s.MaxDrawdownDays)
	fmt.Printf("Signals: BUY %d | HOLD %d | SELL %d | degraded days %d\n",
		res.Signals.Buy, res.Signals.Hold, res.Signals.Sell, res.Degraded)

	if mc := res.MonteCarlo; mc != nil {
		fmt.Printf("\nMonte Carlo (%d paths): median %+.1f%% | 5th pct %+.1f%% | 95th pct %+.1f%% | ruin %.1f%%\n",
			mc.Simulations, mc.MedianReturn, mc.WorstCase, mc.BestCase, mc.RuinProbability)
	}

	if showTrades && len(res.Trades) > 0 {
		fmt.Println("\n--- Trades ---")
		trades := tablewriter.NewTable(os.Stdout,
			tablewriter.WithHeader([]string{"Date", "Action", "Price", "Shares", "Value", "Cash After", "Conf"}),
		)
		for _, t := range res.Trades {
			trades.Append([]string{
				t.Date.Format("2006-01-02"),
				string(t.Action),
				fmt.Sprintf("%.2f", t.Price),
				fmt.Sprintf("%.4f", t.Shares),
				fmt.Sprintf("%.2f", t.Value),
				fmt.Sprintf("%.2f", t.CashAfter),
				fmt.Sprintf("%.0f%%", t.Confidence*100),
			})
		}
		trades.Render()
	}
}

type outcomeJSON struct {
	Symbol string           `json:"symbol"`
	Result *backtest.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func outcomeView(outcomes []backtest.Outcome) []outcomeJSON {
	out := make([]outcomeJSON, len(outcomes))
	for i, o := range outcomes {
		out[i] = outcomeJSON{Symbol: o.Request.Symbol, Result: o.Result}
		if o.Err != nil {
			out[i].Error = o.Err.Error()
		}
	}
	return out
}

func outputOutcomesTable(outcomes []backtest.Outcome) {
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Period", "Return", "B&H", "Max DD", "Trades", "Win", "Sharpe"}),
	)

	var failed []backtest.Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
			continue
		}
		r := o.Result
		table.Append([]string{
			r.Symbol,
			r.Period(),
			fmt.Sprintf("%+.2f%%", r.ReturnPct),
			fmt.Sprintf("%+.2f%%", r.BenchmarkReturnPct),
			fmt.Sprintf("%.2f%%", r.MaxDrawdownPct),
			fmt.Sprintf("%d", r.Stats.TradeCount),
			fmt.Sprintf("%.0f%%", r.Stats.WinRate),
			fmt.Sprintf("%.2f", r.Stats.SharpeRatio),
		})
	}
	table.Render()

	for _, o := range failed {
		fmt.Printf("  %-6s %v\n", o.Request.Symbol, o.Err)
	}
}

func outputAssetsTable(list []model.Asset) {
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Name", "Kind", "Tier", "Description"}),
	)
	for _, a := range list {
		table.Append([]string{a.Symbol, truncate(a.Name, 30), string(a.Kind), a.Tier.String(), truncate(a.Description, 40)})
	}
	table.Render()
	fmt.Printf("\n%d assets\n", len(list))
}

func outputRunsTable(runs []store.RunRecord) {
	if len(runs) == 0 {
		fmt.Println("No stored runs.")
		return
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"ID", "Symbol", "Period", "Return", "B&H", "Max DD", "Trades", "Created"}),
	)
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.Symbol,
			r.Start.Format("2006-01-02") + " ~ " + r.End.Format("2006-01-02"),
			fmt.Sprintf("%+.2f%%", r.ReturnPct),
			fmt.Sprintf("%+.2f%%", r.BenchmarkReturnPct),
			fmt.Sprintf("%.2f%%", r.MaxDrawdownPct),
			fmt.Sprintf("%d", r.Trades),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	table.Render()
}

func outputRecommendationHistory(records []store.RecommendationRecord) {
	if len(records) == 0 {
		fmt.Println("No stored recommendations.")
		return
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Created", "Symbol", "Action", "Conf", "Regime", "Reason"}),
	)
	for _, r := range records {
		action := r.Action
		if r.Degraded {
			action += "*"
		}
		table.Append([]string{
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Symbol,
			action,
			fmt.Sprintf("%.0f%%", r.Confidence*100),
			r.Regime,
			truncate(r.Reason, 50),
		})
	}
	table.Render()
	fmt.Println("\n* degraded: one or more signals were missing")
}
