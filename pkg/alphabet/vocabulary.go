// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package alphabet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// VocabularyFileName is the default name of the vocabulary metadata file, saved along the checkpoints.
const VocabularyFileName = "vocabulary.json"

// Vocabulary is the serialized form of an Alphabet, read at inference time to rebuild the codec
// without access to the training labels.
type Vocabulary struct {
	BlankToken     string            `json:"blank_token"`
	BlankIndex     int               `json:"blank_index"`
	IndexToToken   map[string]string `json:"index_to_token"`
	TokenToIndex   map[string]int    `json:"token_to_index"`
	VocabularySize int               `json:"vocabulary_size"`
}

// Vocabulary returns the serializable metadata of the alphabet.
func (a *Alphabet) Vocabulary() *Vocabulary {
	v := &Vocabulary{
		BlankToken:     a.blankToken,
		BlankIndex:     BlankIndex,
		IndexToToken:   make(map[string]string, a.Size()),
		TokenToIndex:   make(map[string]int, a.Size()),
		VocabularySize: a.Size(),
	}
	for ii, token := range a.indexToToken {
		v.IndexToToken[strconv.Itoa(ii)] = token
		v.TokenToIndex[token] = ii
	}
	return v
}

// Alphabet rebuilds the Alphabet described by the vocabulary, checking that it is consistent.
func (v *Vocabulary) Alphabet() (*Alphabet, error) {
	if v.BlankIndex != BlankIndex {
		return nil, errors.Errorf("vocabulary blank index is %d, only %d is supported", v.BlankIndex, BlankIndex)
	}
	if v.VocabularySize < 1 {
		return nil, errors.Errorf("vocabulary size is %d, it must hold at least the blank token", v.VocabularySize)
	}
	if v.VocabularySize != len(v.IndexToToken) || v.VocabularySize != len(v.TokenToIndex) {
		return nil, errors.Errorf("vocabulary size %d doesn't match its mappings (%d indices, %d tokens)",
			v.VocabularySize, len(v.IndexToToken), len(v.TokenToIndex))
	}
	tokens := make([]string, v.VocabularySize)
	for key, token := range v.IndexToToken {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid index %q in vocabulary", key)
		}
		if idx < 0 || idx >= v.VocabularySize {
			return nil, &UnknownIndexError{Index: idx, Size: v.VocabularySize}
		}
		if back, found := v.TokenToIndex[token]; !found || back != idx {
			return nil, errors.Errorf("vocabulary is not a bijection: index %d -> %q -> %d", idx, token, back)
		}
		tokens[idx] = token
	}
	if tokens[BlankIndex] != v.BlankToken {
		return nil, errors.Errorf("vocabulary blank token %q is not at index %d (found %q)",
			v.BlankToken, BlankIndex, tokens[BlankIndex])
	}
	return FromTokens(tokens)
}

// Save writes the vocabulary metadata of the alphabet as JSON to filePath, creating the parent directory if needed.
func (a *Alphabet) Save(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for vocabulary file %q", filePath)
	}
	data, err := json.MarshalIndent(a.Vocabulary(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding vocabulary")
	}
	if err = os.WriteFile(filePath, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing vocabulary to %q", filePath)
	}
	return nil
}

// Load reads a vocabulary file written by Alphabet.Save.
func Load(filePath string) (*Alphabet, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading vocabulary file %q", filePath)
	}
	var v Vocabulary
	if err = json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrapf(err, "parsing vocabulary file %q", filePath)
	}
	a, err := v.Alphabet()
	if err != nil {
		return nil, errors.WithMessagef(err, "vocabulary file %q", filePath)
	}
	return a, nil
}
