// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labels

import (
	"testing"

	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	got, err := Split([]string{"a", "b", "c", "d", "e", "f"}, []int{2, 3, 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d", "e"}, {"f"}}, got)

	got2, err := Split([]int{}, []int{0, 0})
	require.NoError(t, err)
	assert.Len(t, got2, 2)

	// Sum of lengths smaller than the flat sequence.
	_, err = Split([]string{"a", "b", "c", "d", "e", "f"}, []int{2, 3})
	require.ErrorIs(t, err, ErrBatchInvariant)
	var invErr *BatchInvariantError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, -1, invErr.Sample)
	assert.Equal(t, 5, invErr.Offset)

	// Overrun.
	_, err = Split([]int{1, 2}, []int{1, 2})
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, 1, invErr.Sample)

	_, err = Split([]int{1, 2}, []int{3, -1})
	assert.ErrorIs(t, err, ErrBatchInvariant)
}

func TestFlatten(t *testing.T) {
	flat, lengths := Flatten([][]int{{1, 2}, {}, {3, 4, 5}})
	assert.Equal(t, []int{1, 2, 3, 4, 5}, flat)
	assert.Equal(t, []int{2, 0, 3}, lengths)
	back, err := Split(flat, lengths)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2}, {}, {3, 4, 5}}, back)
}

func TestTexts(t *testing.T) {
	a := alphabet.Build([]string{"ab", "cd"})
	encoded, err := a.EncodeAll([]string{"abc", "d", "ca"})
	require.NoError(t, err)
	flat, lengths := Flatten(encoded)
	texts, err := Texts(a, flat, lengths)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc", "d", "ca"}, texts)

	_, err = Texts(a, flat, []int{1, 1})
	assert.ErrorIs(t, err, ErrBatchInvariant)
	_, err = Texts(a, []int{9}, []int{1})
	assert.ErrorIs(t, err, alphabet.ErrUnknownIndex)
}
