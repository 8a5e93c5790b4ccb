// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import "fmt"

// State of the training loop. Each epoch goes through
// Idle -> TrainingEpoch -> ValidatingEpoch -> CheckpointIfImproved -> Idle,
// and the loop ends in Terminated.
type State int

const (
	Idle State = iota
	TrainingEpoch
	ValidatingEpoch
	CheckpointIfImproved
	Terminated
)

var stateNames = [...]string{"Idle", "TrainingEpoch", "ValidatingEpoch", "CheckpointIfImproved", "Terminated"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// StateHook is called on every state transition, with the epoch being run (or the last epoch
// run, for Terminated).
type StateHook func(state State, epoch int)
