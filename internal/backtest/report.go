package backtest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	talib "github.com/markcheno/go-talib"
)

const (
	reportWidthPx  = 1400
	reportHeightPx = 900
	equitySMADays  = 20
)

// RenderReportHTML builds an HTML page with the equity curve (plus a smoothed
// overlay) and the drawdown curve for every agent in the run.
func RenderReportHTML(run Run) ([]byte, error) {
	if len(run.Results) == 0 {
		return nil, fmt.Errorf("backtest: run %s has no results to render", run.ID)
	}
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("backtest %s", run.ID)
	page.AddCharts(equityChart(run), drawdownChart(run))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func equityChart(run Run) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Equity", Subtitle: runSubtitle(run)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1350px", Height: "420px"}),
	)
	line.SetXAxis(snapshotDates(run.Results[0].Snapshots))
	for _, res := range run.Results {
		equity := make([]float64, len(res.Snapshots))
		points := make([]opts.LineData, len(res.Snapshots))
		for i, snap := range res.Snapshots {
			equity[i] = snap.Equity
			points[i] = opts.LineData{Value: snap.Equity}
		}
		line.AddSeries(res.AgentName, points)
		if len(equity) > equitySMADays {
			sma := talib.Sma(equity, equitySMADays)
			smaPoints := make([]opts.LineData, len(sma))
			for i, v := range sma {
				smaPoints[i] = opts.LineData{Value: v}
			}
			line.AddSeries(res.AgentName+" SMA20", smaPoints,
				charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed", Opacity: opts.Float(0.6)}))
		}
	}
	return line
}

func drawdownChart(run Run) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1350px", Height: "320px"}),
	)
	line.SetXAxis(snapshotDates(run.Results[0].Snapshots))
	for _, res := range run.Results {
		var peak float64
		points := make([]opts.LineData, len(res.Snapshots))
		for i, snap := range res.Snapshots {
			if snap.Equity > peak {
				peak = snap.Equity
			}
			dd := 0.0
			if peak > 0 {
				dd = (peak - snap.Equity) / peak * 100
			}
			points[i] = opts.LineData{Value: -dd}
		}
		line.AddSeries(res.AgentName, points)
	}
	return line
}

func snapshotDates(snapshots []DailySnapshot) []string {
	out := make([]string, len(snapshots))
	for i, snap := range snapshots {
		out[i] = snap.Date.Format("2006-01-02")
	}
	return out
}

func runSubtitle(run Run) string {
	sub := fmt.Sprintf("%s to %s", run.Config.Start.Format("2006-01-02"), run.Config.End.Format("2006-01-02"))
	for _, res := range run.Results {
		if res.SyntheticPrices {
			return sub + " (synthetic prices)"
		}
	}
	return sub
}

// WriteReport renders the HTML report to disk and, when asPNG is set, a PNG
// screenshot alongside it via headless Chrome.
func WriteReport(ctx context.Context, run Run, path string, asPNG bool) error {
	html, err := RenderReportHTML(run)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return err
	}
	if !asPNG {
		return nil
	}
	png, err := renderHTMLToPNG(ctx, html, reportWidthPx, reportHeightPx)
	if err != nil {
		return err
	}
	return os.WriteFile(path+".png", png, 0o644)
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
