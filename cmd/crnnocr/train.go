// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gomlx/crnnocr/internal/dataset"
	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/gomlx/crnnocr/pkg/cer"
	"github.com/gomlx/crnnocr/pkg/crnn"
	"github.com/gomlx/crnnocr/pkg/predict"
	"github.com/gomlx/crnnocr/pkg/trainer"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func trainCmd() *cobra.Command {
	var (
		annotationsPath    string
		hasHeader          bool
		epochs, batchSize  int
		checkpointDir      string
		load               bool
		keep               int
		reportEvery        int
		validationFraction float64
		seed               uint64
		settings           string
		plotPath           string
		showProgress       bool
		beamWidth          int
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the model on annotated images, saving a checkpoint whenever the validation loss improves",
		Example: `  crnnocr train --annotations=data/annotations.csv --checkpoint=model/checkpoints
  crnnocr train --annotations=data/annotations.csv --checkpoint=model/checkpoints --load --epochs=100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := crnn.CreateDefaultContext()
			paramsSet, err := commandline.ParseContextSettings(ctx, settings)
			if err != nil {
				return err
			}

			if !load {
				if entries, _ := os.ReadDir(checkpointDir); len(entries) > 0 {
					return errors.Errorf("checkpoint directory %q is not empty: use --load to continue training from it", checkpointDir)
				}
			}
			annotations, err := dataset.ReadAnnotations(annotationsPath, hasHeader)
			if err != nil {
				return err
			}
			a, err := trainingAlphabet(checkpointDir, load, annotations)
			if err != nil {
				return err
			}
			klog.Infof("%d annotations, alphabet of %d classes: %s", len(annotations), a.Size(), a)
			samples, err := dataset.Encode(a, annotations)
			if err != nil {
				return err
			}
			trainSamples, validationSamples, err := dataset.Split(samples, validationFraction, seed)
			if err != nil {
				return err
			}

			model := crnn.New(backends.MustNew(), ctx, a)
			defer model.Finalize()
			if err = model.AttachCheckpoints(checkpointDir, keep, paramsSet...); err != nil {
				return err
			}
			height, width := crnn.ImageSize(ctx)
			trainLoader := dataset.NewLoader(trainSamples, batchSize, height, width).
				Shuffle(rand.New(rand.NewPCG(seed, 1)))
			validationLoader := dataset.NewLoader(validationSamples, batchSize, height, width)
			if plotPath == "" {
				plotPath = filepath.Join(checkpointDir, "loss.png")
			}
			examplesRand := rand.New(rand.NewPCG(seed, 2))
			t := trainer.New(model, trainLoader, validationLoader, trainer.Config{
				Epochs:       epochs,
				ReportEvery:  reportEvery,
				Rand:         examplesRand,
				Decoder:      decoderFor(a.BlankIndex(), beamWidth),
				PlotPath:     plotPath,
				ShowProgress: showProgress,
			})

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			history, err := t.Run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if history.BestEpoch > 0 {
				fmt.Printf("Best validation loss %.5f at epoch %d\n", history.BestValidationLoss, history.BestEpoch)
			}
			if err != nil {
				klog.Warningf("Training interrupted after %d epochs", len(history.Epochs))
				return nil
			}

			// Final evaluation on the validation set.
			p := predict.New(model)
			p.Decoder = decoderFor(a.BlankIndex(), beamWidth)
			p.BatchSize = batchSize
			report, err := p.Evaluate(cmd.Context(), validationSamples, cer.ModeBoth)
			if err != nil {
				return err
			}
			fmt.Printf("Validation CER: %.4f\n", report.Aggregate)
			fmt.Println(trainer.ExamplesTable(trainer.SampleExamples(examplesRand, report.Samples, 5)))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&annotationsPath, "annotations", "", "CSV file with image paths and their labels.")
	flags.BoolVar(&hasHeader, "header", true, "Whether the annotations file has a header row.")
	flags.IntVar(&epochs, "epochs", 10000, "Number of epochs to train.")
	flags.IntVar(&batchSize, "batch-size", 128, "Batch size.")
	flags.StringVar(&checkpointDir, "checkpoint", "./model/checkpoints", "Directory where checkpoints and the vocabulary are saved.")
	flags.BoolVar(&load, "load", false, "Continue training from the checkpoint in --checkpoint.")
	flags.IntVar(&keep, "keep", 5, "Number of checkpoints to keep, -1 keeps all.")
	flags.IntVar(&reportEvery, "report-every", 5, "Number of epochs between reports with validation examples.")
	flags.Float64Var(&validationFraction, "validation-fraction", dataset.DefaultValidationFraction, "Fraction of the annotations used for validation.")
	flags.Uint64Var(&seed, "seed", dataset.DefaultSplitSeed, "Seed for the train/validation split, shuffling and reported examples.")
	flags.StringVar(&settings, "set", "", "Hyperparameters to set, as \"name=value;name=value\".")
	flags.StringVar(&plotPath, "plot", "", "Where to save the loss plot. Defaults to loss.png in the checkpoint directory.")
	flags.BoolVar(&showProgress, "progress", true, "Display a progress bar for each epoch.")
	flags.IntVar(&beamWidth, "beam", 0, "Use prefix beam search with this width to decode, instead of greedy decoding.")
	_ = cmd.MarkFlagRequired("annotations")
	return cmd
}

// trainingAlphabet returns the alphabet saved with the checkpoints when resuming training,
// or builds it from the annotation labels.
func trainingAlphabet(checkpointDir string, load bool, annotations []dataset.Annotation) (*alphabet.Alphabet, error) {
	if load {
		vocabularyPath := filepath.Join(checkpointDir, alphabet.VocabularyFileName)
		if _, err := os.Stat(vocabularyPath); err == nil {
			return alphabet.Load(vocabularyPath)
		}
	}
	if len(annotations) == 0 {
		return nil, errors.New("no annotations to build the alphabet from")
	}
	return alphabet.Build(dataset.Labels(annotations)), nil
}
