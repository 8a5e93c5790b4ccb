// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package crnn implements a convolutional-recurrent text recognizer trained with the CTC loss.
//
// The Model owns a GoMLX context holding its variables and hyperparameters. It compiles three
// computations on demand: Forward (inference logits), EvalStep (loss and logits without updates)
// and TrainStep (loss and logits, plus one Adam update of the variables). All of them produce
// time-major logits shaped [numTimeSteps, batchSize, numClasses].
//
// Any failure inside graph building or execution is returned as an error matching ErrCompute.
package crnn

import (
	"math"

	"github.com/gomlx/crnnocr/pkg/alphabet"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrCompute is matched (with errors.Is) by any failure of the numeric pipeline: graph building,
// execution, or labels that can't be aligned to the model output.
var ErrCompute = errors.New("compute error")

// Interface is the minimal contract of a text recognition model.
type Interface interface {
	// Forward returns the time-major logits [numTimeSteps, batchSize, numClasses] for the images.
	Forward(images *tensors.Tensor) (*tensors.Tensor, error)

	// Parameters returns the variables of the model.
	Parameters() []*context.Variable

	// Save the current state (parameters, optimizer state and training params).
	Save() error

	// Load the state saved in dir.
	Load(dir string) error
}

// Model is the CRNN model. It is not safe for concurrent use.
type Model struct {
	backend   backends.Backend
	ctx       *context.Context
	alphabet  *alphabet.Alphabet
	optimizer optimizers.Interface

	forwardExec, evalExec, trainExec *context.Exec

	checkpoint *checkpoints.Handler
}

var _ Interface = (*Model)(nil)

// New creates a model for the given alphabet. The hyperparameters are read from ctx,
// see CreateDefaultContext. The alphabet tokens are stored in ctx, so they are saved with the checkpoints.
func New(backend backends.Backend, ctx *context.Context, a *alphabet.Alphabet) *Model {
	ctx.SetParam(ParamAlphabet, a.Tokens())
	lr := context.GetParamOr(ctx, optimizers.ParamLearningRate, 3e-4)
	return &Model{
		backend:   backend,
		ctx:       ctx,
		alphabet:  a,
		optimizer: optimizers.Adam().FromContext(ctx).LearningRate(lr).Done(),
	}
}

// Context returns the context holding the model's variables and hyperparameters.
func (m *Model) Context() *context.Context { return m.ctx }

// Alphabet used by the model.
func (m *Model) Alphabet() *alphabet.Alphabet { return m.alphabet }

// NumClasses is the size of the class axis of the logits.
func (m *Model) NumClasses() int { return m.alphabet.Size() }

// Parameters implements Interface: it returns the trainable variables, under the "model" scope.
func (m *Model) Parameters() []*context.Variable {
	var params []*context.Variable
	for v := range m.ctx.IterVariables() {
		if v.Trainable && v.Scope() != "" && isModelScope(v.Scope()) {
			params = append(params, v)
		}
	}
	return params
}

func isModelScope(scope string) bool {
	const prefix = context.ScopeSeparator + "model"
	return len(scope) >= len(prefix) && scope[:len(prefix)] == prefix
}

// Epoch returns the number of completed training epochs, restored from checkpoints.
func (m *Model) Epoch() int { return context.GetParamOr(m.ctx, ParamEpoch, 0) }

// SetEpoch records the number of completed training epochs.
func (m *Model) SetEpoch(epoch int) { m.ctx.SetParam(ParamEpoch, epoch) }

// BestValidationLoss returns the best validation loss recorded, or +Inf if none was.
func (m *Model) BestValidationLoss() float64 {
	return context.GetParamOr(m.ctx, ParamBestValidationLoss, math.Inf(1))
}

// SetBestValidationLoss records the best validation loss. Non-finite values are not recorded,
// since they can't be saved.
func (m *Model) SetBestValidationLoss(loss float64) {
	if math.IsInf(loss, 0) || math.IsNaN(loss) {
		return
	}
	m.ctx.SetParam(ParamBestValidationLoss, loss)
}

// RunID returns the id of the training run that owns the model, creating a new one if not set.
func (m *Model) RunID() string {
	id := context.GetParamOr(m.ctx, ParamRunID, "")
	if id == "" {
		id = uuid.NewString()
		m.ctx.SetParam(ParamRunID, id)
	}
	return id
}

// NumParameters returns the number of scalar values in the model parameters.
func (m *Model) NumParameters() int {
	total := 0
	for _, v := range m.Parameters() {
		total += v.Shape().Size()
	}
	return total
}

// run executes exec, converting errors and panics to ErrCompute.
func run(exec *context.Exec, what string, args ...any) (outputs []*tensors.Tensor, err error) {
	var execErr error
	err = exceptions.TryCatch[error](func() {
		outputs, _, execErr = exec.ExecWithGraph(args...)
	})
	if err == nil {
		err = execErr
	}
	if err == nil && len(outputs) == 0 {
		err = errors.New("computation returned no outputs")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrCompute, "%s: %+v", what, err)
	}
	return outputs, nil
}

// Forward implements Interface. images are shaped [batchSize, height, width, channels], float32.
func (m *Model) Forward(images *tensors.Tensor) (*tensors.Tensor, error) {
	if m.forwardExec == nil {
		var err error
		m.forwardExec, err = context.NewExec(m.backend, m.ctx.Checked(false), func(ctx *context.Context, images *Node) *Node {
			ctx.SetTraining(images.Graph(), false)
			return ModelGraph(ctx, images, m.NumClasses())
		})
		if err != nil {
			return nil, errors.Wrapf(ErrCompute, "creating forward computation: %+v", err)
		}
		m.forwardExec.SetMaxCache(-1)
	}
	outputs, err := run(m.forwardExec, "forward", images)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// StepResult holds the outputs of a train or eval step.
type StepResult struct {
	Loss   float64
	Logits *tensors.Tensor
}

// TrainStep runs the forward pass in training mode, computes the CTC loss of the batch and updates the
// variables with one optimizer step.
func (m *Model) TrainStep(images *tensors.Tensor, labels [][]int) (*StepResult, error) {
	if m.trainExec == nil {
		var err error
		m.trainExec, err = context.NewExec(m.backend, m.ctx.Checked(false), func(ctx *context.Context, inputs []*Node) []*Node {
			g := inputs[0].Graph()
			ctx.SetTraining(g, true)
			logits := ModelGraph(ctx, inputs[0], m.NumClasses())
			loss := CTCLossGraph(logits, inputs[1], inputs[2], inputs[3], inputs[4], inputs[5])
			m.optimizer.UpdateGraph(ctx, g, loss)
			return []*Node{loss, logits}
		})
		if err != nil {
			return nil, errors.Wrapf(ErrCompute, "creating train step: %+v", err)
		}
		m.trainExec.SetMaxCache(-1)
	}
	return m.step(m.trainExec, "train step", images, labels)
}

// EvalStep computes the CTC loss and logits of the batch in inference mode, without changing the variables.
func (m *Model) EvalStep(images *tensors.Tensor, labels [][]int) (*StepResult, error) {
	if m.evalExec == nil {
		var err error
		m.evalExec, err = context.NewExec(m.backend, m.ctx.Checked(false), func(ctx *context.Context, inputs []*Node) []*Node {
			ctx.SetTraining(inputs[0].Graph(), false)
			logits := ModelGraph(ctx, inputs[0], m.NumClasses())
			loss := CTCLossGraph(logits, inputs[1], inputs[2], inputs[3], inputs[4], inputs[5])
			return []*Node{loss, logits}
		})
		if err != nil {
			return nil, errors.Wrapf(ErrCompute, "creating eval step: %+v", err)
		}
		m.evalExec.SetMaxCache(-1)
	}
	return m.step(m.evalExec, "eval step", images, labels)
}

func (m *Model) step(exec *context.Exec, what string, images *tensors.Tensor, labels [][]int) (*StepResult, error) {
	dims := images.Shape().Dimensions
	if len(dims) != 4 || dims[0] != len(labels) {
		return nil, errors.Wrapf(ErrCompute, "%s: images shaped %s for %d labels, expected [%d, height, width, channels]",
			what, images.Shape(), len(labels), len(labels))
	}
	targets, err := NewCTCTargets(labels, NumTimeSteps(dims[2]), m.NumClasses(), m.alphabet.BlankIndex())
	if err != nil {
		return nil, errors.WithMessage(err, what)
	}
	defer targets.FinalizeAll()
	args := []any{images}
	for _, t := range targets.Tensors() {
		args = append(args, t)
	}
	outputs, err := run(exec, what, args...)
	if err != nil {
		return nil, err
	}
	loss := tensors.ToScalar[float32](outputs[0])
	_ = outputs[0].FinalizeAll()
	return &StepResult{Loss: float64(loss), Logits: outputs[1]}, nil
}

// AttachCheckpoints configures the directory where Save writes checkpoints, keeping the last keep of them
// (keep < 0 keeps all).
//
// If dir already holds checkpoints, the latest is loaded: variables are restored as they are created and
// the params (hyperparameters, epoch, best validation loss) immediately, except those in excludeParams,
// normally the ones set from the command line.
func (m *Model) AttachCheckpoints(dir string, keep int, excludeParams ...string) error {
	handler, err := checkpoints.Build(m.ctx).Dir(dir).Keep(keep).ExcludeParams(excludeParams...).Done()
	if err != nil {
		return errors.WithMessagef(err, "checkpoints in %q", dir)
	}
	m.checkpoint = handler
	return nil
}

// CheckpointDir returns the directory configured with AttachCheckpoints, or "" if not configured.
func (m *Model) CheckpointDir() string {
	if m.checkpoint == nil {
		return ""
	}
	return m.checkpoint.Dir()
}

// Save implements Interface. It requires AttachCheckpoints to have been called.
func (m *Model) Save() error {
	if m.checkpoint == nil {
		return errors.New("model has no checkpoint directory configured, see AttachCheckpoints")
	}
	if err := m.checkpoint.Save(); err != nil {
		return errors.WithMessagef(err, "saving checkpoint to %q", m.checkpoint.Dir())
	}
	klog.V(1).Infof("saved checkpoint to %s", m.checkpoint.Dir())
	return nil
}

// Load implements Interface: it loads the latest checkpoint in dir, immediately.
// The saved alphabet, if present, must match the model's alphabet.
func (m *Model) Load(dir string) error {
	if _, err := checkpoints.Load(m.ctx).Dir(dir).Immediate().Done(); err != nil {
		return errors.WithMessagef(err, "loading checkpoint from %q", dir)
	}
	if tokens := context.GetParamOr[[]string](m.ctx, ParamAlphabet, nil); tokens != nil {
		want := m.alphabet.Tokens()
		if len(tokens) != len(want) {
			return errors.Errorf("checkpoint in %q was trained with %d classes, model has %d", dir, len(tokens), len(want))
		}
		for ii := range tokens {
			if tokens[ii] != want[ii] {
				return errors.Errorf("checkpoint in %q has token %q at index %d, model alphabet has %q",
					dir, tokens[ii], ii, want[ii])
			}
		}
	}
	return nil
}

// AlphabetFromCheckpoint reads only the params of the checkpoint in dir and returns the alphabet saved
// with it.
func AlphabetFromCheckpoint(dir string) (*alphabet.Alphabet, error) {
	ctx := context.New()
	if _, err := checkpoints.Load(ctx).Dir(dir).Done(); err != nil {
		return nil, errors.WithMessagef(err, "reading checkpoint from %q", dir)
	}
	tokens := context.GetParamOr[[]string](ctx, ParamAlphabet, nil)
	if tokens == nil {
		return nil, errors.Errorf("checkpoint in %q has no %q param", dir, ParamAlphabet)
	}
	return alphabet.FromTokens(tokens)
}

// Finalize frees the compiled computations.
func (m *Model) Finalize() {
	for _, exec := range []*context.Exec{m.forwardExec, m.evalExec, m.trainExec} {
		if exec != nil {
			exec.Finalize()
		}
	}
	m.forwardExec, m.evalExec, m.trainExec = nil, nil, nil
}
