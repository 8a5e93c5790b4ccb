// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ctcdecode converts per-timestep class scores, as produced by a model trained with the
// CTC loss, into label index sequences.
//
// The decoding policy is a Decoder: Greedy implements the standard best-path collapse, and
// PrefixBeam a prefix beam search. Both only read the scores, they never change them.
package ctcdecode

import (
	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Decoder is a decoding policy for a single sample.
type Decoder interface {
	// Decode the scores shaped [numTimeSteps][vocabularySize] to a sequence of label indices,
	// blanks and alignment repeats removed.
	Decode(scores [][]float32) []int
}

// Greedy is the best-path decoder: take the argmax class at each timestep, then collapse.
type Greedy struct {
	Blank int
}

// Decode implements Decoder.
func (d Greedy) Decode(scores [][]float32) []int {
	raw := make([]int, len(scores))
	for t, row := range scores {
		raw[t] = ArgMax(row)
	}
	return Collapse(raw, d.Blank)
}

// Collapse applies the CTC collapse rule to a raw per-timestep index sequence: scan left to right,
// keep an index if it differs from the previous raw index, then drop the blanks.
//
// So a blank between two equal symbols separates them: [a, _, a] -> [a, a], while [a, a] -> [a].
func Collapse(raw []int, blank int) []int {
	out := make([]int, 0, len(raw))
	prev := -1
	for _, idx := range raw {
		if idx != prev && idx != blank {
			out = append(out, idx)
		}
		prev = idx
	}
	return out
}

// ArgMax returns the index of the largest value, the first one on ties. It returns -1 for an empty slice.
func ArgMax(values []float32) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for ii := 1; ii < len(values); ii++ {
		if values[ii] > values[best] {
			best = ii
		}
	}
	return best
}

// DecodeBatch decodes every sample of the flat time-major logits, shaped [numTimeSteps, batchSize, vocabularySize].
func DecodeBatch(d Decoder, logits []float32, numTimeSteps, batchSize, vocabularySize int) ([][]int, error) {
	if len(logits) != numTimeSteps*batchSize*vocabularySize {
		return nil, errors.Errorf("logits have %d values, expected [%d, %d, %d] = %d",
			len(logits), numTimeSteps, batchSize, vocabularySize, numTimeSteps*batchSize*vocabularySize)
	}
	results := make([][]int, batchSize)
	scores := make([][]float32, numTimeSteps)
	for b := range batchSize {
		for t := range numTimeSteps {
			start := (t*batchSize + b) * vocabularySize
			scores[t] = logits[start : start+vocabularySize]
		}
		results[b] = d.Decode(scores)
	}
	return results, nil
}

// DecodeTensor decodes the time-major logits tensor shaped [numTimeSteps, batchSize, vocabularySize].
func DecodeTensor(d Decoder, logits *tensors.Tensor) ([][]int, error) {
	shape := logits.Shape()
	if shape.Rank() != 3 {
		return nil, errors.Errorf("time-major logits must be shaped [T, B, C], got %s", shape)
	}
	if shape.DType != dtypes.Float32 {
		return nil, errors.Errorf("logits must be float32, got %s", shape.DType)
	}
	flat := tensors.MustCopyFlatData[float32](logits)
	return DecodeBatch(d, flat, shape.Dimensions[0], shape.Dimensions[1], shape.Dimensions[2])
}

// DecodeTexts decodes the time-major logits tensor and converts each sample to text with the alphabet.
func DecodeTexts(d Decoder, a *alphabet.Alphabet, logits *tensors.Tensor) ([]string, error) {
	decoded, err := DecodeTensor(d, logits)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(decoded))
	for ii, indices := range decoded {
		texts[ii], err = a.Decode(indices)
		if err != nil {
			return nil, errors.WithMessagef(err, "decoding sample #%d", ii)
		}
	}
	return texts, nil
}
