// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/crnnocr/internal/dataset"
	"github.com/gomlx/crnnocr/pkg/cer"
	"github.com/gomlx/crnnocr/pkg/predict"
	"github.com/gomlx/crnnocr/pkg/trainer"
	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// modelFlags are shared by the commands that run a trained model.
type modelFlags struct {
	modelDir, vocabularyPath string
	batchSize, beamWidth     int
}

func (f *modelFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.modelDir, "model", "./model/checkpoints", "Checkpoint directory of the trained model.")
	flags.StringVar(&f.vocabularyPath, "vocabulary", "", "Vocabulary file. Defaults to the alphabet saved with the checkpoint.")
	flags.IntVar(&f.batchSize, "batch-size", predict.DefaultBatchSize, "Number of images processed at once.")
	flags.IntVar(&f.beamWidth, "beam", 0, "Use prefix beam search with this width to decode, instead of greedy decoding.")
}

func (f *modelFlags) load() (*predict.Predictor, error) {
	p, err := predict.Load(backends.MustNew(), f.modelDir, f.vocabularyPath)
	if err != nil {
		return nil, err
	}
	p.BatchSize = f.batchSize
	p.Decoder = decoderFor(p.Model.Alphabet().BlankIndex(), f.beamWidth)
	return p, nil
}

func predictCmd() *cobra.Command {
	var (
		model      modelFlags
		listPath   string
		imagesDir  string
		createList bool
		outputDir  string
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Recognize the text of a list of images, writing " + predict.PredictionsFileName + " to the output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if createList {
				if imagesDir == "" {
					return errors.New("--create-list requires --images")
				}
				paths, err := dataset.ListImages(imagesDir)
				if err != nil {
					return err
				}
				if err = dataset.WriteImageList(listPath, paths); err != nil {
					return err
				}
				klog.Infof("Listed %s images of %q in %q", humanize.Comma(int64(len(paths))), imagesDir, listPath)
			}
			paths, err := dataset.ReadImageList(listPath)
			if err != nil {
				return err
			}
			p, err := model.load()
			if err != nil {
				return err
			}
			defer p.Model.Finalize()
			predictions, err := p.Predict(cmd.Context(), paths)
			if err != nil {
				return err
			}
			filePath, err := predict.WritePredictions(outputDir, predictions)
			if err != nil {
				return err
			}
			fmt.Printf("%s predictions written to %s\n", humanize.Comma(int64(len(predictions))), filePath)
			return nil
		},
	}
	model.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&listPath, "list", "", "CSV file with the paths of the images in its first column, after a header.")
	flags.StringVar(&imagesDir, "images", "", "Directory of images, used with --create-list.")
	flags.BoolVar(&createList, "create-list", false, "Create the --list file from the images in --images first.")
	flags.StringVar(&outputDir, "output-dir", "./output", "Directory where the predictions are written.")
	_ = cmd.MarkFlagRequired("list")
	return cmd
}

func evaluateCmd() *cobra.Command {
	var (
		model           modelFlags
		annotationsPath string
		hasHeader       bool
		perSample       bool
		numExamples     int
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Measure the character error rate (CER) of the model on annotated images",
		RunE: func(cmd *cobra.Command, args []string) error {
			annotations, err := dataset.ReadAnnotations(annotationsPath, hasHeader)
			if err != nil {
				return err
			}
			p, err := model.load()
			if err != nil {
				return err
			}
			defer p.Model.Finalize()
			samples, err := dataset.Encode(p.Model.Alphabet(), annotations)
			if err != nil {
				return err
			}
			mode := cer.ModeAggregate
			if perSample {
				mode = cer.ModeBoth
			}
			report, err := p.Evaluate(cmd.Context(), samples, mode)
			if err != nil {
				return err
			}
			fmt.Printf("CER over %s images: %.4f\n", humanize.Comma(int64(len(samples))), report.Aggregate)
			if perSample {
				fmt.Printf("Per-sample CER: mean %.4f, standard deviation %.4f\n", report.Mean, report.StdDev)
				shown := report.Samples
				if numExamples >= 0 && numExamples < len(shown) {
					shown = shown[:numExamples]
				}
				fmt.Println(trainer.ExamplesTable(shown))
			}
			return nil
		},
	}
	model.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&annotationsPath, "annotations", "", "CSV file with image paths and their labels.")
	flags.BoolVar(&hasHeader, "header", true, "Whether the annotations file has a header row.")
	flags.BoolVar(&perSample, "per-sample", false, "Also report the CER of each image, and their mean and standard deviation.")
	flags.IntVar(&numExamples, "examples", 20, "Number of per-sample results to print, -1 prints all.")
	_ = cmd.MarkFlagRequired("annotations")
	return cmd
}
