// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

// Tools to prepare annotation files and image lists from directories of images.

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/facette/natsort"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImageExtensions are the file extensions (lower case) recognized as images.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff"}

func isImage(name string) bool {
	return slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(name)))
}

// ListImages returns the paths of the image files in dir, in natural order ("img2" before "img10").
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing images in %q", dir)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isImage(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	natsort.Sort(names)
	paths := make([]string, len(names))
	for ii, name := range names {
		paths[ii] = filepath.Join(dir, name)
	}
	return paths, nil
}

// CreateAnnotations creates annotations for the images in dir whose file name is their label,
// as in "x7bg2.png". Files whose names have more than one "." are skipped, since their label is ambiguous.
func CreateAnnotations(dir string) ([]Annotation, error) {
	paths, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	annotations := make([]Annotation, 0, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		if strings.Count(name, ".") != 1 {
			klog.Warningf("skipping %q: can't tell the label from the file name", p)
			continue
		}
		label := strings.TrimSuffix(name, filepath.Ext(name))
		if label == "" {
			klog.Warningf("skipping %q: empty label", p)
			continue
		}
		annotations = append(annotations, Annotation{Path: p, Label: label})
	}
	return annotations, nil
}

// FixAnnotations drops annotations with empty path or label and, if imagesDir is not empty,
// moves the image paths to imagesDir, keeping their base names.
func FixAnnotations(annotations []Annotation, imagesDir string) []Annotation {
	fixed := make([]Annotation, 0, len(annotations))
	for _, a := range annotations {
		if a.Path == "" || a.Label == "" {
			continue
		}
		if imagesDir != "" {
			a.Path = filepath.Join(imagesDir, filepath.Base(a.Path))
		}
		fixed = append(fixed, a)
	}
	return fixed
}

// Reverse returns label with its runes in reverse order.
func Reverse(label string) string {
	runes := []rune(label)
	slices.Reverse(runes)
	return string(runes)
}

// Augment writes into outputDir the annotated images in landscape orientation (height < PortraitRatio * width),
// each followed by a copy rotated by 180 degrees, labeled with the reversed label. Other images are skipped.
// Images are saved as numbered JPEG files.
//
// It returns the annotations of the written images.
func Augment(annotations []Annotation, outputDir string) ([]Annotation, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %q", outputDir)
	}
	var augmented []Annotation
	save := func(img image.Image, label string) error {
		p := filepath.Join(outputDir, fmt.Sprintf("%d.jpg", len(augmented)))
		if err := imaging.Save(img, p); err != nil {
			return errors.Wrapf(err, "saving %q", p)
		}
		augmented = append(augmented, Annotation{Path: p, Label: label})
		return nil
	}
	for _, a := range annotations {
		img, err := imaging.Open(a.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading image %q", a.Path)
		}
		bounds := img.Bounds()
		if float64(bounds.Dy()) >= PortraitRatio*float64(bounds.Dx()) {
			klog.V(1).Infof("skipping portrait image %q", a.Path)
			continue
		}
		if err = save(img, a.Label); err != nil {
			return nil, err
		}
		if err = save(imaging.Rotate180(img), Reverse(a.Label)); err != nil {
			return nil, err
		}
	}
	return augmented, nil
}
