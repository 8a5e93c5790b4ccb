// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package labels splits the flat label sequence of a batch back into per-sample labels.
//
// A batch carries the labels of all its samples concatenated in sample order, plus the length of
// each sample's label. Split reverses that, and Flatten builds it.
package labels

import (
	"fmt"

	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/pkg/errors"
)

// ErrBatchInvariant is matched (with errors.Is) by BatchInvariantError.
var ErrBatchInvariant = errors.New("batch invariant violated")

// BatchInvariantError reports flat labels and lengths that don't agree.
// It means the data loading pipeline is corrupted or mismatched, and it is not recoverable.
type BatchInvariantError struct {
	// Sample is the index of the offending length, or -1 if the error is about the total.
	Sample     int
	Offset     int
	FlatLength int
	Reason     string
}

func (e *BatchInvariantError) Error() string {
	if e.Sample < 0 {
		return fmt.Sprintf("batch invariant violated: %s (offset %d, flat labels length %d)",
			e.Reason, e.Offset, e.FlatLength)
	}
	return fmt.Sprintf("batch invariant violated at sample #%d: %s (offset %d, flat labels length %d)",
		e.Sample, e.Reason, e.Offset, e.FlatLength)
}

// Is implements errors.Is.
func (e *BatchInvariantError) Is(target error) bool { return target == ErrBatchInvariant }

// Split the flat sequence into len(lengths) sub-sequences, the i-th with lengths[i] elements.
//
// The lengths must add up exactly to len(flat), otherwise a BatchInvariantError is returned.
// The returned sub-slices share the memory of flat.
func Split[T any](flat []T, lengths []int) ([][]T, error) {
	result := make([][]T, 0, len(lengths))
	offset := 0
	for ii, length := range lengths {
		if length < 0 {
			return nil, &BatchInvariantError{Sample: ii, Offset: offset, FlatLength: len(flat),
				Reason: fmt.Sprintf("negative label length %d", length)}
		}
		if offset+length > len(flat) {
			return nil, &BatchInvariantError{Sample: ii, Offset: offset, FlatLength: len(flat),
				Reason: fmt.Sprintf("label length %d overruns the flat labels", length)}
		}
		result = append(result, flat[offset:offset+length:offset+length])
		offset += length
	}
	if offset != len(flat) {
		return nil, &BatchInvariantError{Sample: -1, Offset: offset, FlatLength: len(flat),
			Reason: "sum of label lengths doesn't match the flat labels length"}
	}
	return result, nil
}

// Flatten concatenates the sequences and returns their lengths: the inverse of Split.
func Flatten[T any](sequences [][]T) (flat []T, lengths []int) {
	total := 0
	for _, seq := range sequences {
		total += len(seq)
	}
	flat = make([]T, 0, total)
	lengths = make([]int, len(sequences))
	for ii, seq := range sequences {
		flat = append(flat, seq...)
		lengths[ii] = len(seq)
	}
	return
}

// Texts splits the flat encoded labels and decodes each sample's label to text.
func Texts(a *alphabet.Alphabet, flat []int, lengths []int) ([]string, error) {
	perSample, err := Split(flat, lengths)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(perSample))
	for ii, encoded := range perSample {
		texts[ii], err = a.Decode(encoded)
		if err != nil {
			return nil, errors.WithMessagef(err, "decoding label of sample #%d", ii)
		}
	}
	return texts, nil
}
