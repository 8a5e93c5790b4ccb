// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"fmt"
	"math/rand/v2"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/crnnocr/pkg/cer"
	"github.com/gomlx/gomlx/ui/commandline"
	"k8s.io/klog/v2"
)

var (
	headerStyle       = lipgloss.NewStyle().Padding(0, 1).Bold(true)
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// SampleExamples picks up to n of the samples with rng, in random order.
func SampleExamples(rng *rand.Rand, samples []cer.Sample, n int) []cer.Sample {
	n = min(n, len(samples))
	picked := make([]cer.Sample, n)
	for ii, idx := range rng.Perm(len(samples))[:n] {
		picked[ii] = samples[idx]
	}
	return picked
}

// ExamplesTable renders the samples as a table of truth, prediction and CER.
func ExamplesTable(samples []cer.Sample) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 2:
				return rightAlignedStyle
			default:
				return normalStyle
			}
		}).
		Headers("Truth", "Prediction", "CER")
	for _, s := range samples {
		table.Row(s.Truth, s.Pred, fmt.Sprintf("%.3f", s.CER))
	}
	return table.String()
}

func (t *Trainer) report(stats *EpochStats, history *History, examples *epochExamples) {
	klog.Infof("Epoch %d: train loss %.5f (CER %.4f), validation loss %.5f (CER %.4f), best %.5f at epoch %d, took %s",
		stats.Epoch, stats.TrainLoss, stats.TrainCER, stats.ValidationLoss, stats.ValidationCER,
		history.BestValidationLoss, history.BestEpoch, commandline.FormatDuration(stats.Duration))
	for _, set := range []struct {
		name    string
		samples []cer.Sample
	}{{"Train", examples.train}, {"Validation", examples.validation}} {
		if len(set.samples) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(t.cfg.Output, "%s examples after epoch %d:\n%s\n",
			set.name, stats.Epoch, ExamplesTable(SampleExamples(t.cfg.Rand, set.samples, t.cfg.NumExamples)))
	}
}
