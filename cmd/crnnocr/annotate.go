// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"

	"github.com/gomlx/crnnocr/internal/dataset"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func annotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Prepare annotation files and image lists",
	}
	cmd.AddCommand(annotateCreateCmd(), annotateFixCmd(), annotateAugmentCmd(), annotateListCmd())
	return cmd
}

func annotateCreateCmd() *cobra.Command {
	var imagesDir, output string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create annotations from image file names, as in \"x7bg2.png\" labeled \"x7bg2\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			annotations, err := dataset.CreateAnnotations(imagesDir)
			if err != nil {
				return err
			}
			klog.Infof("%d annotations created from %q", len(annotations), imagesDir)
			return dataset.WriteAnnotations(output, annotations)
		},
	}
	cmd.Flags().StringVar(&imagesDir, "images", "", "Directory of images named after their labels.")
	cmd.Flags().StringVar(&output, "output", "annotations.csv", "Annotations file to write.")
	_ = cmd.MarkFlagRequired("images")
	return cmd
}

func annotateFixCmd() *cobra.Command {
	var input, output, imagesDir string
	var hasHeader bool
	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Drop annotations with missing values and move image paths to another directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			annotations, err := dataset.ReadAnnotations(input, hasHeader)
			if err != nil {
				return err
			}
			fixed := dataset.FixAnnotations(annotations, imagesDir)
			klog.Infof("%d of %d annotations kept", len(fixed), len(annotations))
			return dataset.WriteAnnotations(output, fixed)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&input, "input", "", "Annotations file to fix.")
	flags.BoolVar(&hasHeader, "header", true, "Whether the input file has a header row.")
	flags.StringVar(&imagesDir, "images-dir", "", "If set, image paths are moved to this directory, keeping their file names.")
	flags.StringVar(&output, "output", "annotations.csv", "Annotations file to write.")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func annotateAugmentCmd() *cobra.Command {
	var input, outputDir string
	var hasHeader bool
	cmd := &cobra.Command{
		Use:   "augment",
		Short: "Copy the annotated landscape images, each with a 180 degrees rotated copy labeled with the reversed label",
		RunE: func(cmd *cobra.Command, args []string) error {
			annotations, err := dataset.ReadAnnotations(input, hasHeader)
			if err != nil {
				return err
			}
			augmented, err := dataset.Augment(annotations, outputDir)
			if err != nil {
				return err
			}
			output := filepath.Join(outputDir, "annotations.csv")
			klog.Infof("%d images written to %q, annotations in %q", len(augmented), outputDir, output)
			return dataset.WriteAnnotations(output, augmented)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&input, "input", "", "Annotations file of the images to augment.")
	flags.BoolVar(&hasHeader, "header", true, "Whether the input file has a header row.")
	flags.StringVar(&outputDir, "output-dir", "augmented", "Directory where images and their annotations are written.")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func annotateListCmd() *cobra.Command {
	var imagesDir, output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the images of a directory in natural order, for predict --list",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := dataset.ListImages(imagesDir)
			if err != nil {
				return err
			}
			klog.Infof("%d images listed in %q", len(paths), output)
			return dataset.WriteImageList(output, paths)
		},
	}
	cmd.Flags().StringVar(&imagesDir, "images", "", "Directory of images.")
	cmd.Flags().StringVar(&output, "output", "images.csv", "Image list file to write.")
	_ = cmd.MarkFlagRequired("images")
	return cmd
}
