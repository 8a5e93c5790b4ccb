// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// PortraitRatio is the height/width ratio above which an image is considered to be written
// vertically, and is rotated 90 degrees clockwise before being resized.
const PortraitRatio = 1.3

// Preprocess converts img to the fixed size model input: the alpha channel is dropped, portrait images
// are rotated to landscape, colors are converted to gray and the result is resized to width x height.
func Preprocess(img image.Image, height, width int) *image.NRGBA {
	bounds := img.Bounds()
	if float64(bounds.Dy()) > PortraitRatio*float64(bounds.Dx()) {
		img = imaging.Rotate270(img)
	}
	gray := imaging.Grayscale(img)
	for ii := 3; ii < len(gray.Pix); ii += 4 {
		gray.Pix[ii] = 0xFF
	}
	return imaging.Resize(gray, width, height, imaging.Linear)
}

// LoadImage reads and preprocesses the image file in filePath, see Preprocess.
func LoadImage(filePath string, height, width int) (*image.NRGBA, error) {
	img, err := imaging.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading image %q", filePath)
	}
	return Preprocess(img, height, width), nil
}

// ImagesToTensor converts preprocessed images to a float32 tensor shaped [batchSize, height, width, 3],
// with values in [0, 1].
func ImagesToTensor(images []*image.NRGBA) *tensors.Tensor {
	imgs := make([]image.Image, len(images))
	for ii, img := range images {
		imgs[ii] = img
	}
	return timage.ToTensor(dtypes.Float32).Batch(imgs)
}
