// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

// This file implements the model graph: a convolutional block, a dense projection of each image
// column, a bidirectional LSTM and the final per-timestep classification.

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
)

// ModelGraph builds the CRNN for a batch of images and returns time-major logits
// shaped [numTimeSteps, batchSize, numClasses].
//
// images: shaped [batchSize, height, width, channels], with values in [0, 1]. Multiple channels
// are averaged into one.
func ModelGraph(ctx *context.Context, images *Node, numClasses int) *Node {
	ctx = ctx.In("model")
	g := images.Graph()
	dtype := images.DType()
	if images.Rank() == 3 {
		images = ExpandDims(images, -1)
	}
	if images.Shape().Dimensions[3] > 1 {
		images = ReduceAndKeep(images, ReduceMean, -1)
	}
	batchSize := images.Shape().Dimensions[0]
	height, width := images.Shape().Dimensions[1], images.Shape().Dimensions[2]

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	channels := context.GetParamOr(ctx, ParamConvChannels, 64)
	x := layers.Convolution(nextCtx("conv"), images).Channels(channels).KernelSize(7).Strides(2).PadSame().Done()
	x = batchnorm.New(nextCtx("batchnorm"), x, -1).UseBackendInference(false).Done()
	x = MaxPool(x).Window(3).Strides(2).PadSame().Done()
	for range 2 {
		x = layers.Convolution(nextCtx("conv"), x).Channels(channels).KernelSize(3).PadSame().Done()
		x = batchnorm.New(nextCtx("batchnorm"), x, -1).UseBackendInference(false).Done()
	}
	if rate := context.GetParamOr(ctx, ParamConvDropoutRate, 0.5); rate > 0 {
		x = layers.DropoutNormalize(nextCtx("dropout"), x, Scalar(g, dtype, rate), true)
	}
	featHeight := NumTimeSteps(height)
	numTimeSteps := NumTimeSteps(width)
	x.AssertDims(batchSize, featHeight, numTimeSteps, channels)

	// Each column of the feature map becomes one time step: [batch, width, channels*height].
	x = TransposeAllDims(x, 0, 2, 3, 1)
	x = Reshape(x, batchSize, numTimeSteps, channels*featHeight)
	x = layers.Dense(nextCtx("projection"), x, true, context.GetParamOr(ctx, ParamProjectionDim, 536))
	x = activations.Relu(x)

	hidden := context.GetParamOr(ctx, ParamRNNHiddenSize, 64)
	allHidden, _, _ := lstm.New(nextCtx("lstm"), x, hidden).Direction(lstm.DirBidirectional).Done()
	allHidden.AssertDims(numTimeSteps, 2, batchSize, hidden)

	// [time, directions, batch, hidden] -> [time, batch, directions*hidden]
	x = TransposeAllDims(allHidden, 0, 2, 1, 3)
	x = Reshape(x, numTimeSteps, batchSize, 2*hidden)
	logits := layers.Dense(nextCtx("readout"), x, true, numClasses)
	return logits
}
