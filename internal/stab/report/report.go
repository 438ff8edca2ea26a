// Package report renders an HTML run report with go-echarts: motion and
// correction series, stability score, and the regime timeline, all from
// the persisted frame metrics of one run.
package report

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/veloframe/steady.video/internal/db"
	"github.com/veloframe/steady.video/internal/security"
)

// regimeLevel maps regime names to a numeric band for the timeline chart.
var regimeLevel = map[string]int{
	"static":       0,
	"slow_motion":  1,
	"fast_motion":  2,
	"camera_shake": 3,
	"pan_zoom":     4,
}

// Render writes the HTML report for one run to w.
func Render(w io.Writer, run db.Run, frames []db.FrameRecord) error {
	if len(frames) == 0 {
		return fmt.Errorf("run %d has no frames to report", run.ID)
	}

	x := make([]string, len(frames))
	motion := make([]opts.LineData, len(frames))
	correction := make([]opts.LineData, len(frames))
	score := make([]opts.LineData, len(frames))
	regimes := make([]opts.ScatterData, len(frames))
	for i, f := range frames {
		x[i] = fmt.Sprintf("%d", f.FrameIndex)
		motion[i] = opts.LineData{Value: math.Hypot(f.MotionTX, f.MotionTY)}
		correction[i] = opts.LineData{Value: math.Hypot(f.CorrectiveTX, f.CorrectiveTY)}
		score[i] = opts.LineData{Value: f.StabilityScore}
		regimes[i] = opts.ScatterData{Value: []interface{}{f.FrameIndex, regimeLevel[f.Regime]}}
	}

	subtitle := fmt.Sprintf("run=%d instance=%s source=%s frames=%d",
		run.ID, run.InstanceID, run.Source, len(frames))

	motionChart := charts.NewLine()
	motionChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Translation magnitude per frame", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "px"}),
	)
	motionChart.SetXAxis(x).
		AddSeries("motion", motion).
		AddSeries("correction", correction)

	scoreChart := charts.NewLine()
	scoreChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "300px"}),
		charts.WithTitleOpts(opts.Title{Title: "Stability score"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "score", Min: 0, Max: 1}),
	)
	scoreChart.SetXAxis(x).AddSeries("score", score)

	regimeChart := charts.NewScatter()
	regimeChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "300px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Motion regime timeline",
			Subtitle: "0=static 1=slow 2=fast 3=shake 4=pan_zoom",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Min: -0.5, Max: 4.5}),
	)
	regimeChart.AddSeries("regime", regimes,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("Stabilization run %d", run.ID))
	page.AddCharts(motionChart, scoreChart, regimeChart)

	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// RenderFile writes the report to path. The path must resolve under the
// temp or working directory.
func RenderFile(path string, run db.Run, frames []db.FrameRecord) error {
	if err := security.ValidateExportPath(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()
	return Render(f, run, frames)
}
