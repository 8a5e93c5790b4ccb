// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/crnnocr/pkg/crnn"
	"github.com/gomlx/crnnocr/pkg/predict"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true).MarginTop(1)

	headerRowStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2).Align(lipgloss.Center)
	oddRowStyle    = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
	evenRowStyle   = lipgloss.NewStyle().Faint(true).PaddingLeft(1).PaddingRight(1)
)

// newPlainTable returns a table with alternating row styles. Columns take the alignments given,
// the last one repeated for the remaining columns.
func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

func infoCmd() *cobra.Command {
	var modelDir, vocabularyPath string
	var showVariables bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Describe a trained model: training state, hyperparameters and variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := predict.Load(backends.MustNew(), modelDir, vocabularyPath)
			if err != nil {
				return err
			}
			defer p.Model.Finalize()
			fmt.Println(modelSummary(p.Model))
			fmt.Println(modelParams(p.Model))
			if showVariables {
				fmt.Println(modelVariables(p.Model))
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&modelDir, "model", "./model/checkpoints", "Checkpoint directory of the trained model.")
	flags.StringVar(&vocabularyPath, "vocabulary", "", "Vocabulary file. Defaults to the alphabet saved with the checkpoint.")
	flags.BoolVar(&showVariables, "vars", false, "List the model variables.")
	return cmd
}

func modelSummary(m *crnn.Model) string {
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("run id", m.RunID())
	table.Row("epoch", humanize.Comma(int64(m.Epoch())))
	table.Row("best validation loss", fmt.Sprintf("%.5f", m.BestValidationLoss()))
	table.Row("classes", fmt.Sprintf("%d (blank %q)", m.NumClasses(), m.Alphabet().BlankToken()))
	var numVars int
	var memory uintptr
	for v := range m.Context().IterVariables() {
		numVars++
		memory += v.Shape().Memory()
		if v.Name() == optimizers.GlobalStepVariableName {
			if value, err := v.Value(); err == nil {
				table.Row("global step", humanize.Comma(tensors.ToScalar[int64](value)))
			}
		}
	}
	table.Row("# variables", humanize.Comma(int64(numVars)))
	table.Row("# parameters", humanize.Comma(int64(m.NumParameters())))
	table.Row("# bytes", humanize.Bytes(uint64(memory)))
	return titleStyle.Render("Summary") + "\n" + table.Render()
}

func modelParams(m *crnn.Model) string {
	type param struct{ scope, key, value string }
	var params []param
	m.Context().EnumerateParams(func(scope, key string, value any) {
		if tokens, ok := value.([]string); ok && key == crnn.ParamAlphabet && len(tokens) > 0 {
			value = strings.Join(tokens[1:], "")
		}
		params = append(params, param{scope, key, fmt.Sprintf("%v", value)})
	})
	slices.SortFunc(params, func(a, b param) int {
		if c := strings.Compare(a.scope, b.scope); c != 0 {
			return c
		}
		return strings.Compare(a.key, b.key)
	})
	table := newPlainTable().Headers("Scope", "Name", "Value")
	for _, p := range params {
		table.Row(p.scope, p.key, p.value)
	}
	return titleStyle.Render("Hyperparameters") + "\n" + table.Render()
}

func modelVariables(m *crnn.Model) string {
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Right).Headers("Scope", "Name", "Shape", "Size")
	for v := range m.Context().IterVariables() {
		table.Row(v.Scope(), v.Name(), v.Shape().String(), humanize.Comma(int64(v.Shape().Size())))
	}
	return titleStyle.Render("Variables") + "\n" + table.Render()
}
