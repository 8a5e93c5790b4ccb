// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// logZero stands for log(0) in the CTC forward recursion. It is finite to keep gradients free of NaNs.
const logZero = -1e30

// CTCTargets holds the per-batch tensors describing the labels for CTCLossGraph.
//
// Each label of length n is extended with blanks to 2n+1 states (blank, l₁, blank, l₂, ..., blank),
// padded to the longest label of the batch. All tensors are shaped [batchSize, numStates], except
// Lengths, shaped [batchSize].
type CTCTargets struct {
	// Extended holds the class index of each state (int32).
	Extended *tensors.Tensor

	// AllowSkip marks states that can be reached from two states back, skipping a blank (bool).
	AllowSkip *tensors.Tensor

	// Initial marks the valid starting states (bool).
	Initial *tensors.Tensor

	// Final marks the valid ending states (bool).
	Final *tensors.Tensor

	// Lengths of the labels (float32).
	Lengths *tensors.Tensor
}

// Tensors returns the target tensors in the order expected by CTCLossGraph.
func (t *CTCTargets) Tensors() []*tensors.Tensor {
	return []*tensors.Tensor{t.Extended, t.AllowSkip, t.Initial, t.Final, t.Lengths}
}

// FinalizeAll frees the tensors immediately.
func (t *CTCTargets) FinalizeAll() {
	for _, tensor := range t.Tensors() {
		_ = tensor.FinalizeAll()
	}
}

// MinTimeSteps returns the minimum number of time steps needed to align label: its length plus one
// blank between each pair of consecutive repeated symbols.
func MinTimeSteps(label []int) int {
	n := len(label)
	for ii := 1; ii < len(label); ii++ {
		if label[ii] == label[ii-1] {
			n++
		}
	}
	return n
}

// NewCTCTargets builds the CTC targets for the labels of a batch.
//
// It fails with ErrCompute if a label can't be aligned in numTimeSteps, or if it holds the blank
// or an out-of-range class index.
func NewCTCTargets(labels [][]int, numTimeSteps, numClasses, blank int) (*CTCTargets, error) {
	batchSize := len(labels)
	maxLen := 1
	for ii, label := range labels {
		maxLen = max(maxLen, len(label))
		if need := MinTimeSteps(label); need > numTimeSteps {
			return nil, errors.Wrapf(ErrCompute, "label #%d (length %d) needs at least %d time steps to be aligned, model outputs %d",
				ii, len(label), need, numTimeSteps)
		}
		for _, c := range label {
			if c == blank || c < 0 || c >= numClasses {
				return nil, errors.Wrapf(ErrCompute, "label #%d holds invalid class %d (blank=%d, %d classes)",
					ii, c, blank, numClasses)
			}
		}
	}
	numStates := 2*maxLen + 1
	extended := make([]int32, batchSize*numStates)
	allowSkip := make([]bool, batchSize*numStates)
	initial := make([]bool, batchSize*numStates)
	final := make([]bool, batchSize*numStates)
	lengths := make([]float32, batchSize)
	for b, label := range labels {
		n := len(label)
		lengths[b] = float32(n)
		row := b * numStates
		for s := range numStates {
			extended[row+s] = int32(blank)
			if s%2 == 1 && s/2 < n {
				extended[row+s] = int32(label[s/2])
			}
		}
		for s := range numStates {
			if s >= 2 && s%2 == 1 && s/2 < n && extended[row+s] != extended[row+s-2] {
				allowSkip[row+s] = true
			}
		}
		initial[row] = true
		if n > 0 {
			initial[row+1] = true
			final[row+2*n-1] = true
		}
		final[row+2*n] = true
	}
	return &CTCTargets{
		Extended:  tensors.FromFlatDataAndDimensions(extended, batchSize, numStates),
		AllowSkip: tensors.FromFlatDataAndDimensions(allowSkip, batchSize, numStates),
		Initial:   tensors.FromFlatDataAndDimensions(initial, batchSize, numStates),
		Final:     tensors.FromFlatDataAndDimensions(final, batchSize, numStates),
		Lengths:   tensors.FromFlatDataAndDimensions(lengths, batchSize),
	}, nil
}

// CTCLossGraph returns the CTC loss of the time-major logits [numTimeSteps, batchSize, numClasses]
// against the targets built with NewCTCTargets (passed in the order of CTCTargets.Tensors).
//
// Every sample uses the full time axis as its input length. The loss of each sample is its negative
// log-likelihood divided by its label length (floored to 1), and the result is the mean over the batch.
func CTCLossGraph(logits, extended, allowSkip, initial, final, lengths *Node) *Node {
	g := logits.Graph()
	dtype := logits.DType()
	numTimeSteps := logits.Shape().Dimensions[0]
	batchSize := logits.Shape().Dimensions[1]
	numClasses := logits.Shape().Dimensions[2]
	numStates := extended.Shape().Dimensions[1]
	extended.AssertDims(batchSize, numStates)

	// emissions[b, t, s] = log P(class of state s at time t) for sample b.
	logProbs := LogSoftmax(TransposeAllDims(logits, 1, 0, 2), -1)
	emissions := Einsum("btc,bsc->bts", logProbs, OneHot(extended, numClasses, dtype))
	emissionsAt := func(t int) *Node {
		return Reshape(Slice(emissions, AxisRange(), AxisElem(t), AxisRange()), batchSize, numStates)
	}
	zeros := BroadcastToDims(Scalar(g, dtype, logZero), batchSize, numStates)

	alpha := Where(initial, emissionsAt(0), zeros)
	for t := 1; t < numTimeSteps; t++ {
		fromPrev := ShiftWithScalar(alpha, -1, ShiftDirRight, 1, logZero)
		fromSkip := Where(allowSkip, ShiftWithScalar(alpha, -1, ShiftDirRight, 2, logZero), zeros)
		alpha = Add(LogAddExp(LogAddExp(alpha, fromPrev), fromSkip), emissionsAt(t))
	}

	// log-sum-exp over the final states.
	alpha = Where(final, alpha, zeros)
	maxAlpha := StopGradient(ReduceAndKeep(alpha, ReduceMax, -1))
	logLikelihood := Add(
		Log(ReduceSum(Exp(Sub(alpha, maxAlpha)), -1)),
		Reshape(maxAlpha, batchSize))
	perSample := Div(Neg(logLikelihood), MaxScalar(ConvertDType(lengths, dtype), 1))
	return ReduceAllMean(perSample)
}
