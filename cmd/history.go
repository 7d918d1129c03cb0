package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/j-veylop/antigravity-quota-hub/internal/config"
	"github.com/j-veylop/antigravity-quota-hub/internal/history"
)

const chartHeight = 10

func newHistoryCmd() *cobra.Command {
	var email string
	var since time.Duration
	var transitions bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded quota history for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := history.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if transitions {
				rows, err := db.Transitions(ctx, time.Now().Add(-since), limit)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, "no status transitions recorded")
					return nil
				}
				for _, tr := range rows {
					fmt.Fprintf(out, "%s  %-28s %s -> %s\n",
						tr.Timestamp.Local().Format("2006-01-02 15:04:05"),
						tr.Email, tr.From, tr.To)
				}
				return nil
			}

			if email == "" {
				emails, err := db.Emails(ctx)
				if err != nil {
					return err
				}
				if len(emails) == 0 {
					fmt.Fprintln(out, "no quota history recorded")
					return nil
				}
				fmt.Fprintln(out, "accounts with history:")
				for _, e := range emails {
					fmt.Fprintf(out, "  %s\n", e)
				}
				fmt.Fprintln(out, "\nuse --email to chart one")
				return nil
			}

			points, err := db.QuotaSeries(ctx, email, time.Now().Add(-since))
			if err != nil {
				return err
			}
			if len(points) == 0 {
				fmt.Fprintf(out, "no quota history for %s in the last %s\n", email, since)
				return nil
			}

			claude, gemini := seriesFromPoints(points)
			window := points[len(points)-1].Timestamp.Sub(points[0].Timestamp).Round(time.Minute)

			if len(claude) > 0 {
				fmt.Fprintln(out, renderChart(claude,
					fmt.Sprintf("claude remaining %% - %s (%s window)", email, window)))
				fmt.Fprintln(out)
			}
			if len(gemini) > 0 {
				fmt.Fprintln(out, renderChart(gemini,
					fmt.Sprintf("gemini remaining %% - %s (%s window)", email, window)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email to chart")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "history window")
	cmd.Flags().BoolVar(&transitions, "transitions", false, "list status transitions instead of quota")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum transitions to list")

	return cmd
}

// seriesFromPoints splits history points into per-family value series,
// skipping readings where a family was absent.
func seriesFromPoints(points []history.QuotaPoint) (claude, gemini []float64) {
	for _, p := range points {
		if p.ClaudePercent.Valid {
			claude = append(claude, p.ClaudePercent.Float64)
		}
		if p.GeminiPercent.Valid {
			gemini = append(gemini, p.GeminiPercent.Float64)
		}
	}
	return claude, gemini
}

func renderChart(data []float64, caption string) string {
	width := len(data)
	if width < 20 {
		// Pad sparse series so the chart stays readable.
		padded := make([]float64, 0, 20)
		for len(padded)+len(data) < 20 {
			padded = append(padded, data[0])
		}
		data = append(padded, data...)
		width = 20
	}
	if width > 120 {
		width = 120
	}

	graph := asciigraph.Plot(data,
		asciigraph.Height(chartHeight),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
	return strings.TrimRight(graph, "\n")
}
