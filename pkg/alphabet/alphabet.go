// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package alphabet maps label characters to class indices and back.
//
// The alphabet is built from the set of characters observed in the training labels, sorted,
// with a reserved blank token always at index 0. The blank is the "no emission" class used by
// the CTC loss and decoders, and it never appears inside a label.
//
// Building is deterministic: the same set of labels always yields the same mapping, which is
// what makes checkpoints and vocabulary files compatible across runs.
package alphabet

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// DefaultBlankToken is the token reserved for the blank class, at index 0.
const DefaultBlankToken = "<BLANK>"

// BlankIndex is the fixed index of the blank token.
const BlankIndex = 0

var (
	// ErrUnknownToken is matched (with errors.Is) by UnknownTokenError.
	ErrUnknownToken = errors.New("unknown token")

	// ErrUnknownIndex is matched (with errors.Is) by UnknownIndexError.
	ErrUnknownIndex = errors.New("unknown index")
)

// UnknownTokenError is returned by Encode when the label holds a character not seen during Build.
type UnknownTokenError struct {
	Token    string
	Label    string
	Position int
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token %q at position %d of label %q: vocabulary mismatch between training and inference?",
		e.Token, e.Position, e.Label)
}

// Is implements errors.Is.
func (e *UnknownTokenError) Is(target error) bool { return target == ErrUnknownToken }

// UnknownIndexError is returned by Decode when an index is outside [0, Size()).
type UnknownIndexError struct {
	Index, Size int
}

func (e *UnknownIndexError) Error() string {
	return fmt.Sprintf("unknown index %d, vocabulary size is %d", e.Index, e.Size)
}

// Is implements errors.Is.
func (e *UnknownIndexError) Is(target error) bool { return target == ErrUnknownIndex }

// Alphabet is an immutable bidirectional mapping between tokens (characters) and indices.
type Alphabet struct {
	blankToken   string
	indexToToken []string
	tokenToIndex map[string]int
}

// Build the Alphabet from the given labels, using DefaultBlankToken.
func Build(labels []string) *Alphabet {
	return BuildWithBlank(labels, DefaultBlankToken)
}

// BuildWithBlank builds the Alphabet with a custom blank token.
//
// Each distinct rune of the labels becomes a token. Tokens are sorted and the blank is prepended,
// so it occupies index 0.
func BuildWithBlank(labels []string, blankToken string) *Alphabet {
	seen := make(map[string]struct{})
	for _, label := range labels {
		for _, r := range label {
			seen[string(r)] = struct{}{}
		}
	}
	delete(seen, blankToken)
	tokens := make([]string, 0, len(seen)+1)
	for token := range seen {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)
	tokens = slices.Insert(tokens, 0, blankToken)
	return newAlphabet(blankToken, tokens)
}

// FromTokens recreates an Alphabet from its ordered list of tokens, blank first, as returned by Tokens.
func FromTokens(tokens []string) (*Alphabet, error) {
	if len(tokens) == 0 {
		return nil, errors.New("alphabet needs at least the blank token")
	}
	a := newAlphabet(tokens[0], slices.Clone(tokens))
	if len(a.tokenToIndex) != len(tokens) {
		return nil, errors.Errorf("alphabet tokens are not unique: %d tokens, %d distinct", len(tokens), len(a.tokenToIndex))
	}
	return a, nil
}

func newAlphabet(blankToken string, tokens []string) *Alphabet {
	a := &Alphabet{
		blankToken:   blankToken,
		indexToToken: tokens,
		tokenToIndex: make(map[string]int, len(tokens)),
	}
	for ii, token := range tokens {
		a.tokenToIndex[token] = ii
	}
	return a
}

// Size returns the number of classes, including the blank.
func (a *Alphabet) Size() int { return len(a.indexToToken) }

// BlankIndex returns the index of the blank token, always 0.
func (a *Alphabet) BlankIndex() int { return BlankIndex }

// BlankToken returns the token used for the blank class.
func (a *Alphabet) BlankToken() string { return a.blankToken }

// Tokens returns a copy of the tokens in index order.
func (a *Alphabet) Tokens() []string { return slices.Clone(a.indexToToken) }

// Token returns the token for index, or an UnknownIndexError.
func (a *Alphabet) Token(index int) (string, error) {
	if index < 0 || index >= len(a.indexToToken) {
		return "", &UnknownIndexError{Index: index, Size: len(a.indexToToken)}
	}
	return a.indexToToken[index], nil
}

// Index returns the index of token and whether it is part of the alphabet.
func (a *Alphabet) Index(token string) (int, bool) {
	idx, found := a.tokenToIndex[token]
	return idx, found
}

// Encode converts each character of label to its index.
func (a *Alphabet) Encode(label string) ([]int, error) {
	indices := make([]int, 0, len(label))
	position := 0
	for _, r := range label {
		token := string(r)
		idx, found := a.tokenToIndex[token]
		if !found || idx == BlankIndex {
			return nil, &UnknownTokenError{Token: token, Label: label, Position: position}
		}
		indices = append(indices, idx)
		position++
	}
	return indices, nil
}

// EncodeAll encodes each of the labels, failing on the first unknown token.
func (a *Alphabet) EncodeAll(labels []string) ([][]int, error) {
	encoded := make([][]int, len(labels))
	for ii, label := range labels {
		var err error
		encoded[ii], err = a.Encode(label)
		if err != nil {
			return nil, errors.WithMessagef(err, "encoding label #%d", ii)
		}
	}
	return encoded, nil
}

// Decode converts indices back to text. The blank index decodes to nothing.
func (a *Alphabet) Decode(indices []int) (string, error) {
	buf := make([]byte, 0, len(indices))
	for _, idx := range indices {
		token, err := a.Token(idx)
		if err != nil {
			return "", err
		}
		if idx == BlankIndex {
			continue
		}
		buf = append(buf, token...)
	}
	return string(buf), nil
}

// String implements fmt.Stringer.
func (a *Alphabet) String() string {
	return fmt.Sprintf("Alphabet(size=%d, blank=%q)", a.Size(), a.blankToken)
}
