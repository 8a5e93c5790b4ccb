// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"context"
	"image"
	"iter"
	"math/rand/v2"

	"github.com/gomlx/crnnocr/internal/workerspool"
	"github.com/gomlx/crnnocr/pkg/labels"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Batch is a group of samples ready to be fed to the model.
type Batch struct {
	// Images shaped [batchSize, height, width, 3], float32 with values in [0, 1].
	Images *tensors.Tensor

	// Samples in the batch, in the same order as Images.
	Samples []Sample

	// Flat holds the concatenation of the encoded labels of the samples, and Lengths the length of each.
	// See labels.Split to recover the individual labels.
	Flat    []int
	Lengths []int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Samples) }

// Paths of the images in the batch.
func (b *Batch) Paths() []string {
	paths := make([]string, len(b.Samples))
	for ii, s := range b.Samples {
		paths[ii] = s.Path
	}
	return paths
}

// Texts returns the label texts of the batch.
func (b *Batch) Texts() []string {
	texts := make([]string, len(b.Samples))
	for ii, s := range b.Samples {
		texts[ii] = s.Label
	}
	return texts
}

// Finalize frees the images tensor immediately.
func (b *Batch) Finalize() {
	if b.Images != nil {
		_ = b.Images.FinalizeAll()
		b.Images = nil
	}
}

// decodePool is shared by all batches: image decoding is CPU bound.
var decodePool = workerspool.New()

// NewBatch loads and preprocesses the images of the samples, in parallel, and flattens their labels.
func NewBatch(samples []Sample, height, width int) (*Batch, error) {
	return newBatch(decodePool, samples, height, width)
}

func newBatch(pool *workerspool.Pool, samples []Sample, height, width int) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty batch")
	}
	imgs := make([]*image.NRGBA, len(samples))
	encoded := make([][]int, len(samples))
	err := pool.ForEach(len(samples), func(ii int) (err error) {
		imgs[ii], err = LoadImage(samples[ii].Path, height, width)
		encoded[ii] = samples[ii].Encoded
		return
	})
	if err != nil {
		return nil, err
	}
	flat, lengths := labels.Flatten(encoded)
	return &Batch{
		Images:  ImagesToTensor(imgs),
		Samples: samples,
		Flat:    flat,
		Lengths: lengths,
	}, nil
}

// Loader iterates over samples in batches. The last batch may be smaller than the batch size.
type Loader struct {
	samples       []Sample
	batchSize     int
	height, width int
	rng           *rand.Rand
	pool          *workerspool.Pool
}

// NewLoader creates a loader of the samples, whose images are resized to width x height.
// By default, samples are visited in order, see Shuffle.
func NewLoader(samples []Sample, batchSize, height, width int) *Loader {
	return &Loader{
		samples:   samples,
		batchSize: max(batchSize, 1),
		height:    height,
		width:     width,
		pool:      decodePool,
	}
}

// Parallelism sets the maximum number of images decoded in parallel: 0 decodes them in the loading
// goroutine. By default, it is the number of CPUs.
// It returns the loader, so calls can be cascaded.
func (l *Loader) Parallelism(n int) *Loader {
	l.pool = workerspool.New().SetMaxParallelism(n)
	return l
}

// Shuffle configures the loader to visit the samples in a new random order drawn from rng at every pass.
// It returns the loader, so calls can be cascaded.
func (l *Loader) Shuffle(rng *rand.Rand) *Loader {
	l.rng = rng
	return l
}

// NumSamples returns the number of samples in the loader.
func (l *Loader) NumSamples() int { return len(l.samples) }

// NumBatches returns the number of batches in one pass over the samples.
func (l *Loader) NumBatches() int {
	return (len(l.samples) + l.batchSize - 1) / l.batchSize
}

type batchOrError struct {
	batch *Batch
	err   error
}

// Batches returns an iterator over one pass of the samples.
//
// The next batch is loaded in a separate goroutine while the current one is consumed. Batches are owned
// by the consumer, who should Finalize them when done. Iteration stops at the first error, or when ctx
// is cancelled, in which case ctx.Err() is yielded.
func (l *Loader) Batches(ctx context.Context) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		order := make([]Sample, len(l.samples))
		copy(order, l.samples)
		if l.rng != nil {
			l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		loadCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		results := make(chan batchOrError, 1)
		go l.produce(loadCtx, order, results)
		defer func() {
			// Stop the producer and free batches it already loaded.
			cancel()
			for r := range results {
				if r.batch != nil {
					r.batch.Finalize()
				}
			}
		}()

		for r := range results {
			if !yield(r.batch, r.err) || r.err != nil {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (l *Loader) produce(ctx context.Context, order []Sample, results chan<- batchOrError) {
	defer close(results)
	for start := 0; start < len(order); start += l.batchSize {
		if ctx.Err() != nil {
			return
		}
		end := min(start+l.batchSize, len(order))
		batch, err := newBatch(l.pool, order[start:end], l.height, l.width)
		if err != nil {
			err = errors.WithMessagef(err, "loading batch of samples %d to %d", start, end)
		}
		select {
		case results <- batchOrError{batch: batch, err: err}:
		case <-ctx.Done():
			if batch != nil {
				batch.Finalize()
			}
			return
		}
		if err != nil {
			return
		}
		klog.V(2).Infof("loaded batch of %d samples", end-start)
	}
}
