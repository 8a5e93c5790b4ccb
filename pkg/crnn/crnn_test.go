// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	"math"
	"testing"

	"github.com/gomlx/crnnocr/internal/backendtest"
	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/gomlx/crnnocr/pkg/ctcdecode"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tinyContext configures a small model for 8x16 images: 4 time steps.
func tinyContext() *context.Context {
	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamImageHeight:     8,
		ParamImageWidth:      16,
		ParamConvChannels:    4,
		ParamConvDropoutRate: 0.0,
		ParamProjectionDim:   8,
		ParamRNNHiddenSize:   4,

		optimizers.ParamLearningRate: 1e-2,
	})
	ctx.SetRNGStateFromSeed(42)
	return ctx
}

func tinyImages(batchSize int) *tensors.Tensor {
	const height, width = 8, 16
	data := make([]float32, batchSize*height*width)
	for ii := range data {
		data[ii] = float32((ii*7)%11) / 10
	}
	return tensors.FromFlatDataAndDimensions(data, batchSize, height, width, 1)
}

// bruteForceCTC sums the probability of every alignment of T steps that collapses to label.
func bruteForceCTC(logits [][]float64, label []int) float64 {
	numTimeSteps, numClasses := len(logits), len(logits[0])
	probs := make([][]float64, numTimeSteps)
	for t, row := range logits {
		var sum float64
		for _, v := range row {
			sum += math.Exp(v)
		}
		probs[t] = make([]float64, numClasses)
		for c, v := range row {
			probs[t][c] = math.Exp(v) / sum
		}
	}
	total := 0.0
	path := make([]int, numTimeSteps)
	var recurse func(t int, p float64)
	recurse = func(t int, p float64) {
		if t == numTimeSteps {
			if got := ctcdecode.Collapse(path, 0); len(got) == len(label) {
				for ii := range got {
					if got[ii] != label[ii] {
						return
					}
				}
				total += p
			}
			return
		}
		for c := range numClasses {
			path[t] = c
			recurse(t+1, p*probs[t][c])
		}
	}
	recurse(0, 1)
	return total
}

func TestCTCLoss(t *testing.T) {
	backend := backendtest.SimpleGo(t)
	const numTimeSteps, batchSize, numClasses = 4, 3, 3
	labels := [][]int{{1}, {1, 2}, {2, 2}}
	logits := make([]float32, numTimeSteps*batchSize*numClasses)
	for ii := range logits {
		logits[ii] = float32(math.Sin(float64(ii)*1.3)) * 2
	}
	targets, err := NewCTCTargets(labels, numTimeSteps, numClasses, 0)
	require.NoError(t, err)
	args := []any{tensors.FromFlatDataAndDimensions(logits, numTimeSteps, batchSize, numClasses)}
	for _, tensor := range targets.Tensors() {
		args = append(args, tensor)
	}
	lossT, err := context.ExecOnce(backend, nil, func(ctx *context.Context, inputs []*Node) *Node {
		return CTCLossGraph(inputs[0], inputs[1], inputs[2], inputs[3], inputs[4], inputs[5])
	}, args...)
	require.NoError(t, err)
	got := float64(tensors.ToScalar[float32](lossT))

	var want float64
	for b, label := range labels {
		sample := make([][]float64, numTimeSteps)
		for tt := range numTimeSteps {
			sample[tt] = make([]float64, numClasses)
			for c := range numClasses {
				sample[tt][c] = float64(logits[(tt*batchSize+b)*numClasses+c])
			}
		}
		want += -math.Log(bruteForceCTC(sample, label)) / float64(len(label))
	}
	want /= batchSize
	assert.InDelta(t, want, got, 1e-4)
}

func TestCTCTargets(t *testing.T) {
	assert.Equal(t, 2, MinTimeSteps([]int{1, 2}))
	assert.Equal(t, 3, MinTimeSteps([]int{2, 2}))
	assert.Equal(t, 0, MinTimeSteps(nil))

	targets, err := NewCTCTargets([][]int{{1, 1}, {}}, 3, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 0, 1, 0, 0, 0, 0, 0, 0}, tensors.MustCopyFlatData[int32](targets.Extended))
	assert.Equal(t, []bool{false, false, false, false, false, false, false, false, false, false},
		tensors.MustCopyFlatData[bool](targets.AllowSkip))
	assert.Equal(t, []bool{true, true, false, false, false, true, false, false, false, false},
		tensors.MustCopyFlatData[bool](targets.Initial))
	assert.Equal(t, []bool{false, false, false, true, true, true, false, false, false, false},
		tensors.MustCopyFlatData[bool](targets.Final))

	_, err = NewCTCTargets([][]int{{1, 1}}, 2, 3, 0)
	assert.ErrorIs(t, err, ErrCompute)
	_, err = NewCTCTargets([][]int{{0}}, 2, 3, 0)
	assert.ErrorIs(t, err, ErrCompute)
	_, err = NewCTCTargets([][]int{{3}}, 2, 3, 0)
	assert.ErrorIs(t, err, ErrCompute)
}

func TestComputeErrors(t *testing.T) {
	backend := backendtest.SimpleGo(t)
	exec, err := context.NewExec(backend, context.New(), func(ctx *context.Context, x *Node) *Node {
		return Neg(x)
	})
	require.NoError(t, err)
	defer exec.Finalize()
	_, err = run(exec, "negate")
	assert.ErrorIs(t, err, ErrCompute, "missing input")
	_, err = run(exec, "negate", float32(1), float32(2))
	assert.ErrorIs(t, err, ErrCompute, "extra input")
	outputs, err := run(exec, "negate", float32(3))
	require.NoError(t, err)
	assert.Equal(t, float32(-3), tensors.ToScalar[float32](outputs[0]))

	// Graph building fails for images that are not [batch, height, width, channels].
	m := New(backend, tinyContext(), alphabet.Build([]string{"ab"}))
	defer m.Finalize()
	_, err = m.Forward(tensors.FromValue(float32(1)))
	assert.ErrorIs(t, err, ErrCompute)
	_, err = m.EvalStep(tinyImages(1), [][]int{{1, 2}, {2}})
	assert.ErrorIs(t, err, ErrCompute)
}

func TestModel(t *testing.T) {
	backend := backendtest.XLA(t)
	a := alphabet.Build([]string{"ab", "cd"})
	m := New(backend, tinyContext(), a)
	defer m.Finalize()

	images := tinyImages(2)
	logits, err := m.Forward(images)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, a.Size()}, logits.Shape().Dimensions)
	assert.NotEmpty(t, m.Parameters())
	assert.Greater(t, m.NumParameters(), 0)

	labels := [][]int{must.M1(a.Encode("ab")), must.M1(a.Encode("dc"))}
	var first, last float64
	for step := range 20 {
		result, err := m.TrainStep(images, labels)
		require.NoError(t, err)
		require.False(t, math.IsNaN(result.Loss) || math.IsInf(result.Loss, 0))
		assert.GreaterOrEqual(t, result.Loss, 0.0)
		assert.Equal(t, []int{4, 2, a.Size()}, result.Logits.Shape().Dimensions)
		if step == 0 {
			first = result.Loss
		}
		last = result.Loss
	}
	assert.Less(t, last, first, "training should reduce the loss")

	eval, err := m.EvalStep(images, labels)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, eval.Loss, 0.0)

	// Labels that can't be aligned in 4 time steps.
	_, err = m.EvalStep(images, [][]int{must.M1(a.Encode("aaaa")), must.M1(a.Encode("a"))})
	assert.ErrorIs(t, err, ErrCompute)
	_, err = m.TrainStep(images, labels[:1])
	assert.ErrorIs(t, err, ErrCompute)
}

func TestSaveLoad(t *testing.T) {
	backend := backendtest.XLA(t)
	a := alphabet.Build([]string{"ab", "cd"})
	dir := t.TempDir()
	images := tinyImages(2)

	m := New(backend, tinyContext(), a)
	require.Error(t, m.Save(), "Save without checkpoint directory")
	require.NoError(t, m.AttachCheckpoints(dir, 2))
	_, err := m.TrainStep(images, [][]int{must.M1(a.Encode("ab")), must.M1(a.Encode("c"))})
	require.NoError(t, err)
	want, err := m.Forward(images)
	require.NoError(t, err)
	assert.True(t, math.IsInf(m.BestValidationLoss(), 1))
	m.SetBestValidationLoss(math.Inf(1))
	assert.True(t, math.IsInf(m.BestValidationLoss(), 1))
	m.SetEpoch(3)
	m.SetBestValidationLoss(1.5)
	runID := m.RunID()
	assert.NotEmpty(t, runID)
	assert.Equal(t, runID, m.RunID())
	require.NoError(t, m.Save())
	m.Finalize()

	// Fresh model with different random initialization.
	ctx := tinyContext()
	ctx.SetRNGStateFromSeed(7)
	loaded := New(backend, ctx, a)
	defer loaded.Finalize()
	require.NoError(t, loaded.Load(dir))
	got, err := loaded.Forward(images)
	require.NoError(t, err)
	assert.Equal(t, tensors.MustCopyFlatData[float32](want), tensors.MustCopyFlatData[float32](got))
	assert.Equal(t, 3, loaded.Epoch())
	assert.Equal(t, 1.5, loaded.BestValidationLoss())
	assert.Equal(t, runID, loaded.RunID())

	fromCheckpoint, err := AlphabetFromCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, a.Tokens(), fromCheckpoint.Tokens())

	// A model with a different alphabet can't load it.
	other := New(backend, tinyContext(), alphabet.Build([]string{"xyz"}))
	defer other.Finalize()
	assert.Error(t, other.Load(dir))
}
