// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package predict

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/crnnocr/internal/backendtest"
	"github.com/gomlx/crnnocr/internal/dataset"
	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/gomlx/crnnocr/pkg/cer"
	"github.com/gomlx/crnnocr/pkg/crnn"
	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeight, testWidth = 8, 16

// trainedCheckpoint trains a small model for a few steps on the samples and saves it to a checkpoint.
func trainedCheckpoint(t *testing.T, backend backends.Backend, samples []dataset.Sample, a *alphabet.Alphabet) string {
	ctx := crnn.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		crnn.ParamImageHeight:     testHeight,
		crnn.ParamImageWidth:      testWidth,
		crnn.ParamConvChannels:    4,
		crnn.ParamConvDropoutRate: 0.0,
		crnn.ParamProjectionDim:   8,
		crnn.ParamRNNHiddenSize:   4,
	})
	ctx.SetRNGStateFromSeed(42)
	m := crnn.New(backend, ctx, a)
	defer m.Finalize()
	dir := filepath.Join(t.TempDir(), "checkpoints")
	require.NoError(t, m.AttachCheckpoints(dir, 1))

	batch, err := dataset.NewBatch(samples, testHeight, testWidth)
	require.NoError(t, err)
	defer batch.Finalize()
	encoded := make([][]int, batch.Size())
	for ii, s := range batch.Samples {
		encoded[ii] = s.Encoded
	}
	for range 3 {
		_, err = m.TrainStep(batch.Images, encoded)
		require.NoError(t, err)
	}
	m.SetEpoch(1)
	require.NoError(t, m.Save())
	require.NoError(t, a.Save(filepath.Join(dir, alphabet.VocabularyFileName)))
	return dir
}

func TestPredict(t *testing.T) {
	backend := backendtest.XLA(t)

	imagesDir := t.TempDir()
	var annotations []dataset.Annotation
	for ii, label := range []string{"ab", "ca", "bc"} {
		p := filepath.Join(imagesDir, fmt.Sprintf("%d.png", ii))
		img := imaging.New(testWidth, testHeight, color.Gray{Y: uint8(60 * ii)})
		require.NoError(t, imaging.Save(img, p))
		annotations = append(annotations, dataset.Annotation{Path: p, Label: label})
	}
	a := alphabet.Build(dataset.Labels(annotations))
	samples := must.M1(dataset.Encode(a, annotations))
	dir := trainedCheckpoint(t, backend, samples, a)

	for _, vocabularyPath := range []string{"", filepath.Join(dir, alphabet.VocabularyFileName)} {
		predictor, err := Load(backend, dir, vocabularyPath)
		require.NoError(t, err)
		assert.Equal(t, a.Tokens(), predictor.Model.Alphabet().Tokens())
		assert.Equal(t, 1, predictor.Model.Epoch())
		height, width := crnn.ImageSize(predictor.Model.Context())
		assert.Equal(t, []int{testHeight, testWidth}, []int{height, width}, "image size restored from checkpoint")

		predictor.BatchSize = 2
		var paths []string
		for _, ann := range annotations {
			paths = append(paths, ann.Path)
		}
		predictions, err := predictor.Predict(context.Background(), paths)
		require.NoError(t, err)
		require.Len(t, predictions, 3)
		for ii, p := range predictions {
			assert.Equal(t, paths[ii], p.Path)
			for _, r := range p.Text {
				_, found := a.Index(string(r))
				assert.True(t, found, "predicted token %q not in the alphabet", r)
			}
		}

		outputDir := filepath.Join(t.TempDir(), "output")
		filePath, err := WritePredictions(outputDir, predictions)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(outputDir, PredictionsFileName), filePath)
		contents, err := os.ReadFile(filePath)
		require.NoError(t, err)
		assert.Contains(t, string(contents), "Id,Prediction\n")

		report, err := predictor.Evaluate(context.Background(), samples, cer.ModeBoth)
		require.NoError(t, err)
		assert.Len(t, report.Samples, 3)
		assert.GreaterOrEqual(t, report.Aggregate, 0.0)
		for ii, s := range report.Samples {
			assert.Equal(t, samples[ii].Label, s.Truth)
			assert.Equal(t, predictions[ii].Text, s.Pred)
		}
		predictor.Model.Finalize()
	}

	_, err := Load(backend, filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)
}
