// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset reads the annotated text images used to train and evaluate the recognizer,
// and assembles them into batches.
//
// Annotations are CSV files of (image path, label). Images are preprocessed to the fixed model input
// size (see Preprocess) and batched by a Loader, which prepares the next batch in a goroutine while
// the current one is being consumed.
package dataset

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/pkg/errors"
)

// DefaultSplitSeed and DefaultValidationFraction are the default parameters of Split.
const (
	DefaultSplitSeed          = 7
	DefaultValidationFraction = 0.2
)

// Sample is an image path and its label, encoded with the alphabet. Unlabeled samples
// (used for prediction) have an empty Label and nil Encoded.
type Sample struct {
	Path    string
	Label   string
	Encoded []int
}

// Encode converts annotations to samples, encoding the labels with a.
// It fails with an error matching alphabet.ErrUnknownToken if a label has a token not in a.
func Encode(a *alphabet.Alphabet, annotations []Annotation) ([]Sample, error) {
	samples := make([]Sample, len(annotations))
	for ii, ann := range annotations {
		encoded, err := a.Encode(ann.Label)
		if err != nil {
			return nil, errors.WithMessagef(err, "annotation #%d (%q)", ii, ann.Path)
		}
		samples[ii] = Sample{Path: ann.Path, Label: ann.Label, Encoded: encoded}
	}
	return samples, nil
}

// Unlabeled returns samples without labels for the given image paths.
func Unlabeled(paths []string) []Sample {
	samples := make([]Sample, len(paths))
	for ii, p := range paths {
		samples[ii].Path = p
	}
	return samples
}

// Labels returns the label texts of the annotations.
func Labels(annotations []Annotation) []string {
	labels := make([]string, len(annotations))
	for ii, a := range annotations {
		labels[ii] = a.Label
	}
	return labels
}

// Split shuffles the samples with the given seed and splits them into train and validation sets,
// with validationFraction of the samples (rounded up) going to validation.
//
// The same seed and samples always yield the same split. The input slice is not modified.
func Split[T any](samples []T, validationFraction float64, seed uint64) (train, validation []T, err error) {
	if validationFraction < 0 || validationFraction >= 1 {
		return nil, nil, errors.Errorf("validation fraction must be in [0, 1), got %g", validationFraction)
	}
	numValidation := int(math.Ceil(float64(len(samples)) * validationFraction))
	if validationFraction > 0 && (numValidation == 0 || numValidation >= len(samples)) {
		return nil, nil, errors.Errorf("can't split %d samples with validation fraction %g", len(samples), validationFraction)
	}
	shuffled := make([]T, len(samples))
	copy(shuffled, samples)
	rng := rand.New(rand.NewPCG(seed, seed))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	numTrain := len(shuffled) - numValidation
	return shuffled[:numTrain], shuffled[numTrain:], nil
}
