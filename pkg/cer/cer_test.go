// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	assert.Equal(t, 0.0, Score("cat", "cat"))
	assert.InDelta(t, 1.0/3.0, Score("cat", "bat"), 1e-9)
	assert.Equal(t, 0.0, Score("", ""))
	assert.Equal(t, 1.0, Score("cat", ""))
	assert.Equal(t, 2.0, Score("", "ab"))
	assert.InDelta(t, 0.5, Score("abcd", "abxdy"), 1e-9)
	// Runes, not bytes.
	assert.InDelta(t, 0.5, Score("ёж", "еж"), 1e-9)
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 3, Distance([]rune("kitten"), []rune("sitting")))
	assert.Equal(t, 0, Distance(nil, nil))
	assert.Equal(t, 4, Distance([]rune("abcd"), nil))
	assert.Equal(t, 2, Distance([]rune("ab"), []rune("ba")))
}

func TestAggregate(t *testing.T) {
	truths := []string{"cat", "a"}
	preds := []string{"bat", "xyz"}
	got, err := Aggregate(truths, preds)
	require.NoError(t, err)
	// (1 + 3) / (3 + 1)
	assert.InDelta(t, 1.0, got, 1e-9)

	_, err = Aggregate(truths, preds[:1])
	assert.Error(t, err)

	got, err = Aggregate(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	var acc Accumulator
	require.NoError(t, acc.Add([]string{"cat"}, []string{"bat"}))
	require.NoError(t, acc.Add([]string{"dog"}, []string{"dog"}))
	assert.InDelta(t, 1.0/6.0, acc.CER(), 1e-9)
	assert.Equal(t, 2, acc.Count)
	acc.Reset()
	assert.Equal(t, 0, acc.Count)
}

func TestEvaluate(t *testing.T) {
	truths := []string{"cat", "dog", "ab"}
	preds := []string{"cat", "dot", ""}

	r, err := Evaluate(truths, preds, ModeAggregate)
	require.NoError(t, err)
	assert.InDelta(t, 3.0/8.0, r.Aggregate, 1e-9)
	assert.Nil(t, r.Samples)

	r, err = Evaluate(truths, preds, ModePerSample)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Aggregate)
	require.Len(t, r.Samples, 3)
	assert.Equal(t, Sample{Truth: "dog", Pred: "dot", Edits: 1, CER: 1.0 / 3.0}, r.Samples[1])
	assert.InDelta(t, (0+1.0/3.0+1.0)/3.0, r.Mean, 1e-9)
	assert.Greater(t, r.StdDev, 0.0)

	r, err = Evaluate(truths, preds, ModeBoth)
	require.NoError(t, err)
	assert.InDelta(t, 3.0/8.0, r.Aggregate, 1e-9)
	assert.Len(t, r.Samples, 3)
	assert.Equal(t, "both", ModeBoth.String())
}
