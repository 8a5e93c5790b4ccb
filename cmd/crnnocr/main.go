// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// crnnocr trains and runs a convolutional-recurrent text recognizer (CRNN + CTC) for captcha-like images.
//
// Subcommands:
//
//	crnnocr train --annotations=data/annotations.csv --checkpoint=model/checkpoints
//	crnnocr predict --model=model/checkpoints --images=data/test --create-list --list=data/test.csv
//	crnnocr evaluate --model=model/checkpoints --annotations=data/annotations.csv --per-sample
//	crnnocr annotate {create,fix,augment,list}
//
// Model hyperparameters can be changed with --set="crnn_conv_channels=32;learning_rate=1e-3".
package main

import (
	"flag"

	"github.com/gomlx/crnnocr/pkg/ctcdecode"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var version = "dev"

func main() {
	klog.InitFlags(nil)
	rootCmd := &cobra.Command{
		Use:           "crnnocr",
		Short:         "Train and run a CRNN text recognizer for captcha images",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.AddCommand(trainCmd(), predictCmd(), evaluateCmd(), annotateCmd(), infoCmd())
	if err := rootCmd.Execute(); err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
	klog.Flush()
}

// decoderFor returns the greedy decoder if beamWidth <= 1, or a prefix beam search decoder otherwise.
func decoderFor(blank, beamWidth int) ctcdecode.Decoder {
	if beamWidth <= 1 {
		return ctcdecode.Greedy{Blank: blank}
	}
	return ctcdecode.PrefixBeam{Blank: blank, Width: beamWidth}
}
