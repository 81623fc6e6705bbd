// Package report renders an exploration run as a standalone go-echarts HTML
// page: ranked R-factors, per-site contributions and the best fit.
package report

import (
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/nanofit/internal/evaluate"
	"github.com/banshee-data/nanofit/internal/fsutil"
)

// DefaultTopN is the number of ranked candidates charted when Run.TopN is 0.
const DefaultTopN = 25

// Run is everything a report shows.
type Run struct {
	Title    string
	RunID    string
	Outcomes []*evaluate.Outcome
	// Contributions holds one value per metal site; NaN marks sites with
	// no contrast.
	Contributions []float64
	TopN          int
}

// Page builds the report page. The best-ranked outcome's fit curve is drawn
// when it carries a result.
func Page(run Run) *components.Page {
	page := components.NewPage()
	page.PageTitle = run.Title
	ranked := evaluate.Rank(run.Outcomes)

	page.AddCharts(rankingChart(run, ranked), scoreChart(ranked))
	if len(run.Contributions) > 0 {
		page.AddCharts(contributionChart(run.Contributions))
	}
	if len(ranked) > 0 && ranked[0].Result != nil {
		page.AddCharts(fitChart(ranked[0]))
	}
	return page
}

// Render writes the report HTML to w.
func Render(w io.Writer, run Run) error {
	if err := Page(run).Render(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// Write renders the report into path on fsys.
func Write(fsys fsutil.FileSystem, path string, run Run) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Render(f, run); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func rankingChart(run Run, ranked []*evaluate.Outcome) *charts.Bar {
	n := run.TopN
	if n <= 0 {
		n = DefaultTopN
	}
	n = min(n, len(ranked))
	x := make([]string, n)
	y := make([]opts.BarData, n)
	for i, o := range ranked[:n] {
		x[i] = fmt.Sprintf("#%d (%d)", o.Index, o.MetalCount)
		y[i] = opts.BarData{Value: o.RFactor}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: run.Title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Best candidates",
			Subtitle: fmt.Sprintf("run=%s evaluated=%d scored=%d", run.RunID, len(run.Outcomes), len(ranked)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "candidate (metals)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "R-factor"}),
	)
	bar.SetXAxis(x).AddSeries("R-factor", y)
	return bar
}

func scoreChart(ranked []*evaluate.Outcome) *charts.Scatter {
	pts := make([]opts.ScatterData, len(ranked))
	for i, o := range ranked {
		pts[i] = opts.ScatterData{Value: []interface{}{o.MetalCount, o.RFactor}}
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "R-factor by metal count"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "metal atoms", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "R-factor"}),
	)
	scatter.AddSeries("candidates", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter
}

func contributionChart(contrib []float64) *charts.Bar {
	x := make([]string, len(contrib))
	y := make([]opts.BarData, len(contrib))
	for i, c := range contrib {
		x[i] = fmt.Sprintf("%d", i+1)
		if math.IsNaN(c) {
			// JSON has no NaN; an empty bar marks the site.
			continue
		}
		y[i] = opts.BarData{Value: c}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Site contributions", Subtitle: "mean R without site minus mean R with site"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "metal site"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ΔR"}),
	)
	bar.SetXAxis(x).AddSeries("contribution", y)
	return bar
}

func fitChart(best *evaluate.Outcome) *charts.Line {
	res := best.Result
	x := make([]string, len(res.R))
	obs := make([]opts.LineData, len(res.R))
	calc := make([]opts.LineData, len(res.R))
	diff := make([]opts.LineData, len(res.R))
	for i, r := range res.R {
		x[i] = fmt.Sprintf("%.2f", r)
		obs[i] = opts.LineData{Value: res.GObs[i]}
		calc[i] = opts.LineData{Value: res.GCalc[i]}
		diff[i] = opts.LineData{Value: res.GDiff[i] + res.Baseline}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Best fit: candidate %d", best.Index),
			Subtitle: fmt.Sprintf("R=%.5f metals=%d non-metals=%d", best.RFactor, best.MetalCount, best.NonMetalCount),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "r (Å)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "G (Å⁻²)"}),
	)
	line.SetXAxis(x).
		AddSeries("G(r) data", obs, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#1e50c8"})).
		AddSeries("G(r) fit", calc, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#dc1e1e"})).
		AddSeries("G(r) diff", diff, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#1e961e"}))
	return line
}
