// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crnn

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

const (
	// ParamImageHeight is the height (in pixels) images are resized to.
	ParamImageHeight = "crnn_image_height"

	// ParamImageWidth is the width (in pixels) images are resized to. The number of time steps of the
	// model output is ParamImageWidth/4 (rounded up).
	ParamImageWidth = "crnn_image_width"

	// ParamConvChannels is the number of channels of each convolution.
	ParamConvChannels = "crnn_conv_channels"

	// ParamConvDropoutRate is the dropout rate applied after the convolutional block.
	ParamConvDropoutRate = "crnn_conv_dropout_rate"

	// ParamProjectionDim is the output dimension of the dense layer feeding the recurrent layer.
	ParamProjectionDim = "crnn_projection_dim"

	// ParamRNNHiddenSize is the hidden size of each direction of the bidirectional LSTM.
	ParamRNNHiddenSize = "crnn_rnn_hidden_size"

	// ParamAlphabet holds the ordered tokens of the alphabet, blank first. It is saved with the checkpoints.
	ParamAlphabet = "alphabet_tokens"

	// ParamEpoch is the number of completed training epochs, saved with the checkpoints.
	ParamEpoch = "epoch"

	// ParamBestValidationLoss is the best validation loss seen so far, saved with the checkpoints.
	ParamBestValidationLoss = "best_validation_loss"

	// ParamRunID identifies the training run that created the checkpoints.
	ParamRunID = "run_id"
)

// CreateDefaultContext returns a context with the default hyperparameters of the model.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamImageHeight:     50,
		ParamImageWidth:      200,
		ParamConvChannels:    64,
		ParamConvDropoutRate: 0.5,
		ParamProjectionDim:   536,
		ParamRNNHiddenSize:   64,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 3e-4,
	})
	return ctx
}

// ImageSize returns the (height, width) configured in the context.
func ImageSize(ctx *context.Context) (height, width int) {
	return context.GetParamOr(ctx, ParamImageHeight, 50), context.GetParamOr(ctx, ParamImageWidth, 200)
}

// NumTimeSteps returns the length of the time axis of the model output for images of the given width:
// the width is halved by the strided convolution and again by the max-pooling.
func NumTimeSteps(imageWidth int) int {
	halve := func(x int) int { return (x + 1) / 2 }
	return halve(halve(imageWidth))
}
