// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Plot writes a PNG with the train and validation loss curves per epoch to filePath.
// Non-finite losses are left out.
func (h *History) Plot(filePath string) error {
	p := plot.New()
	p.Title.Text = "CTC loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	p.Add(plotter.NewGrid())

	curves := []struct {
		name  string
		value func(EpochStats) float64
	}{
		{"train", func(s EpochStats) float64 { return s.TrainLoss }},
		{"validation", func(s EpochStats) float64 { return s.ValidationLoss }},
	}
	for ii, curve := range curves {
		var points plotter.XYs
		for _, stats := range h.Epochs {
			if v := curve.value(stats); !math.IsInf(v, 0) && !math.IsNaN(v) {
				points = append(points, plotter.XY{X: float64(stats.Epoch), Y: v})
			}
		}
		if len(points) == 0 {
			continue
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return errors.Wrapf(err, "plotting %s loss", curve.name)
		}
		if ii > 0 {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line)
		p.Legend.Add(curve.name, line)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %q", filePath)
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "saving loss plot to %q", filePath)
	}
	return nil
}
