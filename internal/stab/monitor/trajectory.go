// Package monitor renders offline diagnostics for recorded stabilization
// runs: PNG trajectory plots via gonum/plot for quick inspection from the
// command line.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/veloframe/steady.video/internal/db"
	"github.com/veloframe/steady.video/internal/security"
)

// TrajectoryPlotter renders per-run trajectory and score plots.
type TrajectoryPlotter struct {
	outputDir string
}

// NewTrajectoryPlotter creates the output directory if needed. The
// directory must resolve under the temp or working directory.
func NewTrajectoryPlotter(outputDir string) (*TrajectoryPlotter, error) {
	if err := security.ValidateExportPath(outputDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &TrajectoryPlotter{outputDir: outputDir}, nil
}

// PlotRun renders the raw vs corrected translation trajectory and the
// stability score series for one run. Returns the paths of the written
// files.
func (tp *TrajectoryPlotter) PlotRun(runID int64, frames []db.FrameRecord) ([]string, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("run %d has no frames to plot", runID)
	}

	// Integrate per-frame translations into camera paths. The corrected
	// path is the raw path plus the applied correction at each frame.
	rawPts := make(plotter.XYs, len(frames))
	corrPts := make(plotter.XYs, len(frames))
	scorePts := make(plotter.XYs, len(frames))
	var rx, ry, cx, cy float64
	for i, f := range frames {
		rx += f.MotionTX
		ry += f.MotionTY
		cx += f.MotionTX + f.CorrectiveTX
		cy += f.MotionTY + f.CorrectiveTY
		rawPts[i].X = rx
		rawPts[i].Y = ry
		corrPts[i].X = cx
		corrPts[i].Y = cy
		scorePts[i].X = float64(f.FrameIndex)
		scorePts[i].Y = f.StabilityScore
	}

	var written []string

	pTraj := plot.New()
	pTraj.Title.Text = fmt.Sprintf("Camera trajectory (run %d)", runID)
	pTraj.X.Label.Text = "X (px)"
	pTraj.Y.Label.Text = "Y (px)"

	rawLine, err := plotter.NewLine(rawPts)
	if err != nil {
		return nil, fmt.Errorf("failed to build raw trajectory line: %w", err)
	}
	rawLine.Width = vg.Points(1)
	rawLine.Color = color.RGBA{R: 200, G: 60, B: 60, A: 255}

	corrLine, err := plotter.NewLine(corrPts)
	if err != nil {
		return nil, fmt.Errorf("failed to build corrected trajectory line: %w", err)
	}
	corrLine.Width = vg.Points(1)
	corrLine.Color = color.RGBA{R: 60, G: 120, B: 200, A: 255}

	pTraj.Add(rawLine, corrLine)
	pTraj.Legend.Add("raw", rawLine)
	pTraj.Legend.Add("corrected", corrLine)

	trajFile := filepath.Join(tp.outputDir, fmt.Sprintf("run_%03d_trajectory.png", runID))
	if err := pTraj.Save(10*vg.Inch, 10*vg.Inch, trajFile); err != nil {
		return nil, fmt.Errorf("failed to save trajectory plot: %w", err)
	}
	written = append(written, trajFile)

	pScore := plot.New()
	pScore.Title.Text = fmt.Sprintf("Stability score (run %d)", runID)
	pScore.X.Label.Text = "frame"
	pScore.Y.Label.Text = "score"
	pScore.Y.Min = 0
	pScore.Y.Max = 1

	scoreLine, err := plotter.NewLine(scorePts)
	if err != nil {
		return nil, fmt.Errorf("failed to build score line: %w", err)
	}
	scoreLine.Width = vg.Points(1)
	pScore.Add(scoreLine)

	scoreFile := filepath.Join(tp.outputDir, fmt.Sprintf("run_%03d_score.png", runID))
	if err := pScore.Save(14*vg.Inch, 6*vg.Inch, scoreFile); err != nil {
		return nil, fmt.Errorf("failed to save score plot: %w", err)
	}
	written = append(written, scoreFile)

	return written, nil
}
