// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package predict runs a trained CRNN model over images and scores its predictions.
package predict

import (
	"context"
	"path/filepath"

	"github.com/gomlx/crnnocr/internal/dataset"
	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/gomlx/crnnocr/pkg/cer"
	"github.com/gomlx/crnnocr/pkg/crnn"
	"github.com/gomlx/crnnocr/pkg/ctcdecode"
	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PredictionsFileName is the name of the CSV file written by WritePredictions.
const PredictionsFileName = "predictions.csv"

// DefaultBatchSize is the default number of images run through the model at once.
const DefaultBatchSize = 128

// Prediction is the text recognized in an image.
type Prediction struct {
	Path, Text string
}

// Predictor recognizes text in images with a trained model.
type Predictor struct {
	Model     *crnn.Model
	Decoder   ctcdecode.Decoder
	BatchSize int
}

// New creates a predictor for the model, with the Greedy decoder.
func New(model *crnn.Model) *Predictor {
	return &Predictor{
		Model:     model,
		Decoder:   ctcdecode.Greedy{Blank: model.Alphabet().BlankIndex()},
		BatchSize: DefaultBatchSize,
	}
}

// Load a trained model from the checkpoint in dir.
//
// The alphabet is read from vocabularyPath, if given, or else from the checkpoint itself.
// The hyperparameters (image size, layer dimensions) are restored from the checkpoint.
func Load(backend backends.Backend, dir, vocabularyPath string) (*Predictor, error) {
	var a *alphabet.Alphabet
	var err error
	if vocabularyPath != "" {
		a, err = alphabet.Load(vocabularyPath)
	} else {
		a, err = crnn.AlphabetFromCheckpoint(dir)
	}
	if err != nil {
		return nil, err
	}
	model := crnn.New(backend, crnn.CreateDefaultContext(), a)
	if err = model.Load(dir); err != nil {
		model.Finalize()
		return nil, err
	}
	klog.V(1).Infof("loaded model from %q: epoch %d, %d classes", dir, model.Epoch(), a.Size())
	return New(model), nil
}

// Predict recognizes the text in each of the images, returned in the same order.
func (p *Predictor) Predict(ctx context.Context, paths []string) ([]Prediction, error) {
	results, err := p.run(ctx, dataset.Unlabeled(paths))
	if err != nil {
		return nil, err
	}
	predictions := make([]Prediction, len(paths))
	for ii, r := range results {
		predictions[ii] = Prediction{Path: r.Path, Text: r.Pred}
	}
	return predictions, nil
}

// Evaluate predicts the text of the labeled samples and scores it against their labels,
// as configured by mode.
func (p *Predictor) Evaluate(ctx context.Context, samples []dataset.Sample, mode cer.Mode) (*cer.Report, error) {
	results, err := p.run(ctx, samples)
	if err != nil {
		return nil, err
	}
	truths := make([]string, len(results))
	preds := make([]string, len(results))
	for ii, r := range results {
		truths[ii], preds[ii] = r.Truth, r.Pred
	}
	return cer.Evaluate(truths, preds, mode)
}

type result struct {
	Path, Truth, Pred string
}

func (p *Predictor) run(ctx context.Context, samples []dataset.Sample) ([]result, error) {
	height, width := crnn.ImageSize(p.Model.Context())
	loader := dataset.NewLoader(samples, p.BatchSize, height, width)
	results := make([]result, 0, len(samples))
	for batch, err := range loader.Batches(ctx) {
		if err != nil {
			return nil, err
		}
		texts, err := p.predictBatch(batch)
		if err != nil {
			return nil, err
		}
		for ii, s := range batch.Samples {
			results = append(results, result{Path: s.Path, Truth: s.Label, Pred: texts[ii]})
		}
	}
	return results, nil
}

func (p *Predictor) predictBatch(batch *dataset.Batch) ([]string, error) {
	defer batch.Finalize()
	logits, err := p.Model.Forward(batch.Images)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logits.FinalizeAll() }()
	return ctcdecode.DecodeTexts(p.Decoder, p.Model.Alphabet(), logits)
}

// WritePredictions writes the predictions as a CSV file with columns "Id" (image path) and "Prediction"
// to outputDir, and returns the path of the file.
func WritePredictions(outputDir string, predictions []Prediction) (string, error) {
	paths := make([]string, len(predictions))
	texts := make([]string, len(predictions))
	for ii, p := range predictions {
		paths[ii], texts[ii] = p.Path, p.Text
	}
	filePath := filepath.Join(outputDir, PredictionsFileName)
	if err := dataset.WriteColumns(filePath, []string{dataset.PathColumn, "Prediction"}, paths, texts); err != nil {
		return "", errors.WithMessage(err, "writing predictions")
	}
	return filePath, nil
}
