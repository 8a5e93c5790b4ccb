// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ctcdecode

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// PrefixBeam is the CTC prefix beam search decoder.
//
// It keeps the Width most likely label prefixes at each timestep, merging the probability of all
// alignments that collapse to the same prefix. Scores are treated as unnormalized logits and
// log-softmax normalized per timestep.
type PrefixBeam struct {
	Blank int
	Width int
}

// DefaultBeamWidth is used when PrefixBeam.Width is not positive.
const DefaultBeamWidth = 8

// beamEntry holds the log-probabilities of a prefix ending in blank and ending in a non-blank.
type beamEntry struct {
	prefix            []int
	logBlank, logLast float64
}

func (e *beamEntry) total() float64 { return logSumExp(e.logBlank, e.logLast) }

func (e *beamEntry) last() int {
	if len(e.prefix) == 0 {
		return -1
	}
	return e.prefix[len(e.prefix)-1]
}

func prefixKey(prefix []int) string {
	var sb strings.Builder
	for ii, idx := range prefix {
		if ii > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// Decode implements Decoder.
func (d PrefixBeam) Decode(scores [][]float32) []int {
	width := d.Width
	if width <= 0 {
		width = DefaultBeamWidth
	}
	negInf := math.Inf(-1)
	beams := []*beamEntry{{prefix: nil, logBlank: 0, logLast: negInf}}
	logProbs := make([]float64, 0)
	for _, row := range scores {
		logProbs = logSoftmax(row, logProbs[:0])
		next := make(map[string]*beamEntry, len(beams)*2)
		get := func(prefix []int) *beamEntry {
			key := prefixKey(prefix)
			e, found := next[key]
			if !found {
				e = &beamEntry{prefix: prefix, logBlank: negInf, logLast: negInf}
				next[key] = e
			}
			return e
		}
		for _, beam := range beams {
			total := beam.total()
			for c, lp := range logProbs {
				if c == d.Blank {
					e := get(beam.prefix)
					e.logBlank = logSumExp(e.logBlank, total+lp)
					continue
				}
				if c == beam.last() {
					// Repeating the last symbol without a blank in between collapses into the same prefix.
					e := get(beam.prefix)
					e.logLast = logSumExp(e.logLast, beam.logLast+lp)
					extended := get(append(slices.Clone(beam.prefix), c))
					extended.logLast = logSumExp(extended.logLast, beam.logBlank+lp)
					continue
				}
				extended := get(append(slices.Clone(beam.prefix), c))
				extended.logLast = logSumExp(extended.logLast, total+lp)
			}
		}
		beams = beams[:0]
		for _, e := range next {
			beams = append(beams, e)
		}
		slices.SortFunc(beams, func(a, b *beamEntry) int {
			ta, tb := a.total(), b.total()
			switch {
			case ta > tb:
				return -1
			case ta < tb:
				return 1
			}
			// Deterministic tie-break.
			return strings.Compare(prefixKey(a.prefix), prefixKey(b.prefix))
		})
		if len(beams) > width {
			beams = beams[:width]
		}
	}
	if len(beams) == 0 || beams[0].prefix == nil {
		return []int{}
	}
	return beams[0].prefix
}

func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

func logSoftmax(row []float32, out []float64) []float64 {
	maxV := math.Inf(-1)
	for _, v := range row {
		maxV = max(maxV, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxV)
	}
	logNorm := maxV + math.Log(sum)
	for _, v := range row {
		out = append(out, float64(v)-logNorm)
	}
	return out
}
