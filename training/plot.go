package training

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Curve file names written by PlotHistory.
const (
	MIoUPlotFile = "miou.png"
	LossPlotFile = "loss.png"
)

// PlotHistory draws the validation mIoU per epoch and the mean training
// loss per epoch into dir. Non-finite values are left out.
func PlotHistory(dir string, s *Session) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	// MIoUHistory[0] is the seed entry, not an evaluation.
	var miou []float64
	if len(s.MIoUHistory) > 1 {
		miou = s.MIoUHistory[1:]
	}
	if err := savePlot(filepath.Join(dir, MIoUPlotFile), "Validation mIoU", "mIoU (%)", miou,
		color.RGBA{R: 31, G: 119, B: 180, A: 255}); err != nil {
		return err
	}
	return savePlot(filepath.Join(dir, LossPlotFile), "Training loss", "Mean L_out", s.EpochLosses,
		color.RGBA{R: 214, G: 39, B: 40, A: 255})
}

func savePlot(path, title, yLabel string, values []float64, c color.Color) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = yLabel

	pts := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i), Y: v})
	}
	if len(pts) > 0 {
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return err
		}
		line.Color = c
		line.Width = vg.Points(1)
		points.Color = c
		p.Add(line, points, plotter.NewGrid())
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}
	return nil
}
