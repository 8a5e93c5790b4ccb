// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"io"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// PathColumn is the header of the image path column of the CSV files written by this package.
	PathColumn = "Id"

	// LabelColumn is the header of the label column of annotation files.
	LabelColumn = "Target"
)

// Annotation associates an image file with the text it holds.
type Annotation struct {
	Path, Label string
}

// readCSV reads all columns of the CSV as strings. Only empty cells are considered missing.
func readCSV(r io.Reader, hasHeader bool, names ...string) (dataframe.DataFrame, error) {
	options := []dataframe.LoadOption{
		dataframe.HasHeader(hasHeader),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues([]string{""}),
	}
	if !hasHeader && len(names) > 0 {
		options = append(options, dataframe.Names(names...))
	}
	df := dataframe.ReadCSV(r, options...)
	if df.Err != nil {
		return df, errors.Wrap(df.Err, "parsing CSV")
	}
	return df, nil
}

// ReadAnnotations reads a CSV file with two columns: image path and label.
// If hasHeader is false, the first row is also an annotation.
//
// Rows with a missing path or label are dropped, with a warning.
func ReadAnnotations(filePath string, hasHeader bool) ([]Annotation, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening annotations %q", filePath)
	}
	defer func() { _ = f.Close() }()
	df, err := readCSV(f, hasHeader, PathColumn, LabelColumn)
	if err != nil {
		return nil, errors.WithMessagef(err, "annotations %q", filePath)
	}
	if df.Ncol() < 2 {
		return nil, errors.Errorf("annotations %q must have 2 columns (path, label), got %d", filePath, df.Ncol())
	}
	annotations, dropped := annotationsFromDataFrame(df)
	if dropped > 0 {
		klog.Warningf("annotations %q: dropped %d rows with missing path or label", filePath, dropped)
	}
	return annotations, nil
}

func annotationsFromDataFrame(df dataframe.DataFrame) (annotations []Annotation, dropped int) {
	names := df.Names()
	paths, labels := df.Col(names[0]), df.Col(names[1])
	annotations = make([]Annotation, 0, df.Nrow())
	for row := range df.Nrow() {
		if paths.Elem(row).IsNA() || labels.Elem(row).IsNA() {
			dropped++
			continue
		}
		annotations = append(annotations, Annotation{Path: paths.Elem(row).String(), Label: labels.Elem(row).String()})
	}
	return
}

// WriteAnnotations writes the annotations as a CSV file with the header "Id,Target".
func WriteAnnotations(filePath string, annotations []Annotation) error {
	paths := make([]string, len(annotations))
	labels := make([]string, len(annotations))
	for ii, a := range annotations {
		paths[ii], labels[ii] = a.Path, a.Label
	}
	df := dataframe.New(
		series.New(paths, series.String, PathColumn),
		series.New(labels, series.String, LabelColumn))
	return writeCSV(filePath, df)
}

// ReadImageList reads the first column of a CSV file with a header, as written by WriteImageList.
func ReadImageList(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image list %q", filePath)
	}
	defer func() { _ = f.Close() }()
	df, err := readCSV(f, true)
	if err != nil {
		return nil, errors.WithMessagef(err, "image list %q", filePath)
	}
	if df.Ncol() < 1 {
		return nil, errors.Errorf("image list %q has no columns", filePath)
	}
	col := df.Col(df.Names()[0])
	paths := make([]string, 0, df.Nrow())
	for row := range df.Nrow() {
		if !col.Elem(row).IsNA() {
			paths = append(paths, col.Elem(row).String())
		}
	}
	return paths, nil
}

// WriteImageList writes the paths as a one column CSV file with the header "Id".
func WriteImageList(filePath string, paths []string) error {
	return writeCSV(filePath, dataframe.New(series.New(paths, series.String, PathColumn)))
}

// WriteColumns writes a CSV file with the given named columns of strings, all of the same length.
func WriteColumns(filePath string, names []string, columns ...[]string) error {
	if len(names) != len(columns) {
		return errors.Errorf("%d column names for %d columns", len(names), len(columns))
	}
	cols := make([]series.Series, len(columns))
	for ii, col := range columns {
		if len(col) != len(columns[0]) {
			return errors.Errorf("column %q has %d rows, %q has %d", names[ii], len(col), names[0], len(columns[0]))
		}
		cols[ii] = series.New(col, series.String, names[ii])
	}
	return writeCSV(filePath, dataframe.New(cols...))
}

func writeCSV(filePath string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return errors.Wrap(df.Err, "building CSV contents")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %q", filePath)
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	if err = df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing %q", filePath)
}
