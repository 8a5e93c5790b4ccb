// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trainer implements the training and validation loop of the CRNN text recognizer.
//
// Each epoch trains on every batch of the training set, evaluates every batch of the validation set
// and saves a checkpoint if the validation loss improved on the best seen so far (strictly).
// Losses and character error rates (CER) of both sets are tracked in a History.
package trainer

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/crnnocr/internal/dataset"
	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/gomlx/crnnocr/pkg/cer"
	"github.com/gomlx/crnnocr/pkg/crnn"
	"github.com/gomlx/crnnocr/pkg/ctcdecode"
	"github.com/gomlx/crnnocr/pkg/labels"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Config of a training run. Zero values are replaced by the defaults of DefaultConfig.
type Config struct {
	// Epochs to train. When resuming from a checkpoint, epochs are counted from the checkpoint's epoch.
	Epochs int

	// ReportEvery is the number of epochs between reports (losses, CER and examples) to Output.
	ReportEvery int

	// NumExamples is the maximum number of validation (truth, prediction) pairs shown in a report.
	NumExamples int

	// Rand is the random source used to pick the reported examples.
	Rand *rand.Rand

	// Decoder converts the model output to labels. Defaults to ctcdecode.Greedy.
	Decoder ctcdecode.Decoder

	// PlotPath, if set, is where a PNG with the loss curves is written at the end of training.
	PlotPath string

	// Output of the reports and progress bar. Defaults to os.Stdout.
	Output io.Writer

	// ShowProgress displays a progress bar for each epoch.
	ShowProgress bool

	// OnState, if set, is called at every state transition.
	OnState StateHook
}

// DefaultConfig returns the default configuration: 10000 epochs, reports every 5 epochs with 5 examples.
func DefaultConfig() Config {
	return Config{
		Epochs:      10000,
		ReportEvery: 5,
		NumExamples: 5,
	}
}

// EpochStats are the results of one epoch.
type EpochStats struct {
	Epoch                         int
	TrainLoss, TrainCER           float64
	ValidationLoss, ValidationCER float64

	// Improved is true if ValidationLoss was the best so far, in which case a checkpoint was saved.
	Improved bool

	Duration time.Duration
}

// History of a training run.
type History struct {
	Epochs []EpochStats

	// BestEpoch and BestValidationLoss are those of the last checkpoint saved. If no epoch improved,
	// BestEpoch is 0 and BestValidationLoss is the one restored from the checkpoint (or +Inf).
	BestEpoch          int
	BestValidationLoss float64
}

// Trainer runs the training loop of a model. It is not safe for concurrent use.
type Trainer struct {
	model             *crnn.Model
	train, validation *dataset.Loader
	cfg               Config
	state             State
}

// New creates a trainer of the model. The loaders are used for every epoch: the train loader
// is normally configured to shuffle (see dataset.Loader.Shuffle).
func New(model *crnn.Model, train, validation *dataset.Loader, cfg Config) *Trainer {
	defaults := DefaultConfig()
	if cfg.Epochs <= 0 {
		cfg.Epochs = defaults.Epochs
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = defaults.ReportEvery
	}
	if cfg.NumExamples <= 0 {
		cfg.NumExamples = defaults.NumExamples
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Decoder == nil {
		cfg.Decoder = ctcdecode.Greedy{Blank: model.Alphabet().BlankIndex()}
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Trainer{model: model, train: train, validation: validation, cfg: cfg}
}

// State returns the current state of the loop.
func (t *Trainer) State() State { return t.state }

func (t *Trainer) setState(state State, epoch int) {
	klog.V(2).Infof("epoch %d: %s -> %s", epoch, t.state, state)
	t.state = state
	if t.cfg.OnState != nil {
		t.cfg.OnState(state, epoch)
	}
}

// Run trains for the configured number of epochs, or until ctx is cancelled.
//
// It returns the history of the epochs run so far even in case of error. Any error of the model
// (crnn.ErrCompute) or of the data (labels.ErrBatchInvariant, image loading) aborts the run.
func (t *Trainer) Run(ctx context.Context) (history *History, err error) {
	m := t.model
	history = &History{BestValidationLoss: m.BestValidationLoss()}
	firstEpoch := m.Epoch() + 1
	lastEpoch := m.Epoch() + t.cfg.Epochs
	klog.Infof("Training run %s: %s training and %s validation samples, epochs %d to %d",
		m.RunID(), humanize.Comma(int64(t.train.NumSamples())), humanize.Comma(int64(t.validation.NumSamples())),
		firstEpoch, lastEpoch)
	if dir := m.CheckpointDir(); dir != "" {
		if err = m.Alphabet().Save(filepath.Join(dir, alphabet.VocabularyFileName)); err != nil {
			return history, err
		}
	}

	epoch := firstEpoch - 1
	defer func() { t.setState(Terminated, epoch) }()
	for epoch = firstEpoch; epoch <= lastEpoch; epoch++ {
		if err = ctx.Err(); err != nil {
			return history, err
		}
		var stats *EpochStats
		var examples *epochExamples
		stats, examples, err = t.runEpoch(ctx, epoch, history)
		if err != nil {
			return history, err
		}
		if epoch == firstEpoch {
			// Variables are only created by the first training step.
			klog.Infof("Model has %s parameters", humanize.Comma(int64(m.NumParameters())))
		}
		history.Epochs = append(history.Epochs, *stats)
		if (epoch-firstEpoch+1)%t.cfg.ReportEvery == 0 || epoch == lastEpoch {
			t.report(stats, history, examples)
		}
	}
	epoch = lastEpoch
	if t.cfg.PlotPath != "" && len(history.Epochs) > 0 {
		if err = history.Plot(t.cfg.PlotPath); err != nil {
			return history, err
		}
	}
	return history, nil
}

// epochExamples holds the per-sample results of the train and validation passes of an epoch.
type epochExamples struct {
	train, validation []cer.Sample
}

// runEpoch goes once through TrainingEpoch, ValidatingEpoch and CheckpointIfImproved.
func (t *Trainer) runEpoch(ctx context.Context, epoch int, history *History) (*EpochStats, *epochExamples, error) {
	start := time.Now()
	var bar *progressbar.ProgressBar
	if t.cfg.ShowProgress {
		bar = progressbar.NewOptions(t.train.NumBatches()+t.validation.NumBatches(),
			progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d", epoch)),
			progressbar.OptionSetWriter(t.cfg.Output),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish())
		defer func() { _ = bar.Finish() }()
	}

	t.setState(TrainingEpoch, epoch)
	train, err := t.pass(ctx, t.train, true, bar)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "training epoch %d", epoch)
	}
	t.setState(ValidatingEpoch, epoch)
	validation, err := t.pass(ctx, t.validation, false, bar)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "validating epoch %d", epoch)
	}
	t.model.SetEpoch(epoch)
	stats := &EpochStats{
		Epoch:          epoch,
		TrainLoss:      train.loss,
		TrainCER:       train.cer,
		ValidationLoss: validation.loss,
		ValidationCER:  validation.cer,
	}

	t.setState(CheckpointIfImproved, epoch)
	if validation.loss < history.BestValidationLoss {
		stats.Improved = true
		history.BestEpoch, history.BestValidationLoss = epoch, validation.loss
		t.model.SetBestValidationLoss(validation.loss)
		if err = t.checkpoint(epoch, validation.loss); err != nil {
			return nil, nil, err
		}
	}
	stats.Duration = time.Since(start)
	t.setState(Idle, epoch)
	return stats, &epochExamples{train: train.samples, validation: validation.samples}, nil
}

func (t *Trainer) checkpoint(epoch int, loss float64) error {
	tag := fmt.Sprintf("Epoch_%d_loss_%.5f", epoch, loss)
	if t.model.CheckpointDir() == "" {
		klog.V(1).Infof("no checkpoint directory configured, not saving %s", tag)
		return nil
	}
	if err := t.model.Save(); err != nil {
		return errors.WithMessagef(err, "checkpoint %s", tag)
	}
	klog.Infof("Saved checkpoint %s to %s", tag, t.model.CheckpointDir())
	return nil
}

// passResult holds the mean loss and the aggregate CER of one pass over a dataset.
type passResult struct {
	loss, cer float64
	samples   []cer.Sample
}

func (t *Trainer) pass(ctx context.Context, loader *dataset.Loader, training bool, bar *progressbar.ProgressBar) (*passResult, error) {
	var acc cer.Accumulator
	var totalLoss float64
	var samples []cer.Sample
	numBatches := 0
	for batch, err := range loader.Batches(ctx) {
		if err != nil {
			return nil, err
		}
		loss, truths, preds, err := t.step(batch, training)
		batch.Finalize()
		if err != nil {
			return nil, errors.WithMessagef(err, "batch #%d", numBatches)
		}
		if err = acc.Add(truths, preds); err != nil {
			return nil, err
		}
		batchSamples, err := cer.PerSample(truths, preds)
		if err != nil {
			return nil, err
		}
		samples = append(samples, batchSamples...)
		totalLoss += loss
		numBatches++
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if numBatches == 0 {
		return nil, errors.New("dataset has no batches")
	}
	return &passResult{loss: totalLoss / float64(numBatches), cer: acc.CER(), samples: samples}, nil
}

// step runs one batch through the model and returns the loss, the true label texts and the predicted ones.
func (t *Trainer) step(batch *dataset.Batch, training bool) (loss float64, truths, preds []string, err error) {
	a := t.model.Alphabet()
	encoded, err := labels.Split(batch.Flat, batch.Lengths)
	if err != nil {
		return
	}
	truths, err = labels.Texts(a, batch.Flat, batch.Lengths)
	if err != nil {
		return
	}
	var result *crnn.StepResult
	if training {
		result, err = t.model.TrainStep(batch.Images, encoded)
	} else {
		result, err = t.model.EvalStep(batch.Images, encoded)
	}
	if err != nil {
		return
	}
	defer func() { _ = result.Logits.FinalizeAll() }()
	preds, err = ctcdecode.DecodeTexts(t.cfg.Decoder, a, result.Logits)
	return result.Loss, truths, preds, err
}
