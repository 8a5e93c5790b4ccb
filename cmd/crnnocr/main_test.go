// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/crnnocr/internal/backendtest"
	"github.com/gomlx/crnnocr/internal/dataset"
	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/gomlx/crnnocr/pkg/crnn"
	"github.com/gomlx/crnnocr/pkg/ctcdecode"
	"github.com/gomlx/crnnocr/pkg/predict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderFor(t *testing.T) {
	assert.Equal(t, ctcdecode.Greedy{Blank: 0}, decoderFor(0, 0))
	assert.Equal(t, ctcdecode.Greedy{Blank: 0}, decoderFor(0, 1))
	assert.Equal(t, ctcdecode.PrefixBeam{Blank: 0, Width: 4}, decoderFor(0, 4))
}

func TestAnnotate(t *testing.T) {
	imagesDir := t.TempDir()
	for _, name := range []string{"ab12.png", "x9.png"} {
		require.NoError(t, imaging.Save(imaging.New(20, 8, color.White), filepath.Join(imagesDir, name)))
	}
	workDir := t.TempDir()
	annotationsPath := filepath.Join(workDir, "annotations.csv")

	cmd := annotateCmd()
	cmd.SetArgs([]string{"create", "--images", imagesDir, "--output", annotationsPath})
	require.NoError(t, cmd.Execute())
	annotations, err := dataset.ReadAnnotations(annotationsPath, true)
	require.NoError(t, err)
	assert.Equal(t, []dataset.Annotation{
		{Path: filepath.Join(imagesDir, "ab12.png"), Label: "ab12"},
		{Path: filepath.Join(imagesDir, "x9.png"), Label: "x9"},
	}, annotations)

	fixedPath := filepath.Join(workDir, "fixed.csv")
	cmd = annotateCmd()
	cmd.SetArgs([]string{"fix", "--input", annotationsPath, "--images-dir", "/data", "--output", fixedPath})
	require.NoError(t, cmd.Execute())
	fixed, err := dataset.ReadAnnotations(fixedPath, true)
	require.NoError(t, err)
	assert.Equal(t, "/data/ab12.png", fixed[0].Path)

	augmentedDir := filepath.Join(workDir, "augmented")
	cmd = annotateCmd()
	cmd.SetArgs([]string{"augment", "--input", annotationsPath, "--output-dir", augmentedDir})
	require.NoError(t, cmd.Execute())
	augmented, err := dataset.ReadAnnotations(filepath.Join(augmentedDir, "annotations.csv"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab12", "21ba", "x9", "9x"}, dataset.Labels(augmented))

	listPath := filepath.Join(workDir, "list.csv")
	cmd = annotateCmd()
	cmd.SetArgs([]string{"list", "--images", imagesDir, "--output", listPath})
	require.NoError(t, cmd.Execute())
	paths, err := dataset.ReadImageList(listPath)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestInfo(t *testing.T) {
	backend := backendtest.XLA(t)
	ctx := crnn.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		crnn.ParamImageHeight:   8,
		crnn.ParamImageWidth:    16,
		crnn.ParamConvChannels:  4,
		crnn.ParamProjectionDim: 8,
		crnn.ParamRNNHiddenSize: 4,
	})
	m := crnn.New(backend, ctx, alphabet.Build([]string{"ab"}))
	dir := filepath.Join(t.TempDir(), "checkpoints")
	require.NoError(t, m.AttachCheckpoints(dir, 1))
	images := dataset.ImagesToTensor([]*image.NRGBA{imaging.New(16, 8, color.White)})
	logits, err := m.Forward(images)
	require.NoError(t, err)
	logits.MustFinalizeAll()
	m.SetEpoch(2)
	require.NoError(t, m.Save())
	runID := m.RunID()
	m.Finalize()

	p, err := predict.Load(backend, dir, "")
	require.NoError(t, err)
	defer p.Model.Finalize()
	summary := modelSummary(p.Model)
	assert.Contains(t, summary, runID)
	assert.Contains(t, summary, "# parameters")
	params := modelParams(p.Model)
	assert.Contains(t, params, crnn.ParamRNNHiddenSize)
	assert.Contains(t, params, "ab")
	assert.Contains(t, modelVariables(p.Model), "Shape")
}
