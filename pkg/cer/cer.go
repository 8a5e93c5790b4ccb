// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cer implements the character error rate (CER) metric.
//
// CER is the Levenshtein edit distance (substitutions, insertions and deletions) between the
// predicted and the true text, divided by the length of the true text. Lengths are counted in
// runes.
//
// Aggregation over many samples is sum-style: total edits divided by total true length, so longer
// labels weigh more. The mean of per-sample scores is available from PerSample and Evaluate.
package cer

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Distance returns the Levenshtein edit distance between a and b.
func Distance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Edits returns the edit distance between truth and pred, and the length of truth in runes.
func Edits(truth, pred string) (edits, truthLength int) {
	t := []rune(truth)
	return Distance(t, []rune(pred)), len(t)
}

// Score returns the character error rate of pred against truth: edits / max(1, len(truth)).
//
// For an empty truth this is 0 if pred is also empty, and len(pred) otherwise.
func Score(truth, pred string) float64 {
	edits, length := Edits(truth, pred)
	return float64(edits) / float64(max(1, length))
}

// Aggregate returns the sum of edits over the sum of true lengths (floored to 1) over all pairs.
func Aggregate(truths, preds []string) (float64, error) {
	var acc Accumulator
	if err := acc.Add(truths, preds); err != nil {
		return 0, err
	}
	return acc.CER(), nil
}

// Accumulator accumulates edits and true lengths over batches. The zero value is ready to use.
type Accumulator struct {
	Edits, Length, Count int
}

// Add the pairs of true and predicted texts.
func (acc *Accumulator) Add(truths, preds []string) error {
	if len(truths) != len(preds) {
		return errors.Errorf("cer: %d true texts but %d predictions", len(truths), len(preds))
	}
	for ii := range truths {
		edits, length := Edits(truths[ii], preds[ii])
		acc.Edits += edits
		acc.Length += length
	}
	acc.Count += len(truths)
	return nil
}

// CER returns the aggregate error rate accumulated so far.
func (acc *Accumulator) CER() float64 {
	return float64(acc.Edits) / float64(max(1, acc.Length))
}

// Reset the accumulator.
func (acc *Accumulator) Reset() { *acc = Accumulator{} }

// Sample is the evaluation of one prediction.
type Sample struct {
	Truth, Pred string
	Edits       int
	CER         float64
}

// PerSample scores each pair individually.
func PerSample(truths, preds []string) ([]Sample, error) {
	if len(truths) != len(preds) {
		return nil, errors.Errorf("cer: %d true texts but %d predictions", len(truths), len(preds))
	}
	samples := make([]Sample, len(truths))
	for ii := range truths {
		edits, length := Edits(truths[ii], preds[ii])
		samples[ii] = Sample{
			Truth: truths[ii],
			Pred:  preds[ii],
			Edits: edits,
			CER:   float64(edits) / float64(max(1, length)),
		}
	}
	return samples, nil
}

// Mode selects what Evaluate reports.
type Mode int

const (
	// ModeAggregate reports only the aggregate CER.
	ModeAggregate Mode = iota

	// ModePerSample reports the score of each sample and their mean/standard deviation.
	ModePerSample

	// ModeBoth reports everything.
	ModeBoth
)

func (m Mode) String() string {
	switch m {
	case ModeAggregate:
		return "aggregate"
	case ModePerSample:
		return "per-sample"
	case ModeBoth:
		return "both"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Report is the result of Evaluate. Fields not requested by the Mode are left zero.
type Report struct {
	Mode Mode

	// Aggregate CER: total edits / total true length.
	Aggregate float64

	Samples []Sample

	// Mean and StdDev of the per-sample CER.
	Mean, StdDev float64
}

// Evaluate scores the predictions according to mode.
func Evaluate(truths, preds []string, mode Mode) (*Report, error) {
	report := &Report{Mode: mode}
	if mode == ModeAggregate || mode == ModeBoth {
		var err error
		report.Aggregate, err = Aggregate(truths, preds)
		if err != nil {
			return nil, err
		}
	}
	if mode == ModePerSample || mode == ModeBoth {
		samples, err := PerSample(truths, preds)
		if err != nil {
			return nil, err
		}
		report.Samples = samples
		if len(samples) > 0 {
			scores := make([]float64, len(samples))
			for ii, s := range samples {
				scores[ii] = s.CER
			}
			report.Mean, report.StdDev = stat.MeanStdDev(scores, nil)
			if len(samples) == 1 {
				report.StdDev = 0
			}
		}
	}
	return report, nil
}
