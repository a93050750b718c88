// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package flasher

import "github.com/dacqlab/gigaflash/firmware"

// Outcome classifies one image's fate in a run.
type Outcome int

// Image outcomes. Images after a failed one stay skipped so the report
// says exactly how far the run got.
const (
	OutcomeSkipped Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

var outcomes = map[Outcome]string{
	OutcomeSkipped:   "skipped",
	OutcomeSucceeded: "succeeded",
	OutcomeFailed:    "failed",
}

func (o Outcome) String() string {
	return outcomes[o]
}

// Result records one image's outcome.
type Result struct {
	Image    string
	Role     firmware.Role
	Outcome  Outcome
	Attempts int
	Err      error
}

// Report records one flashing run. It is filled in even when the run fails
// early, so callers can always tell which images were already written.
type Report struct {
	Results []Result
	// Reset is true once the board was sent back into application mode.
	// After a partial failure the board is left in the bootloader and
	// Reset stays false.
	Reset bool
}

// OK reports whether every image was written and the board was reset.
func (r Report) OK() bool {
	if !r.Reset || len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Outcome != OutcomeSucceeded {
			return false
		}
	}
	return true
}

// Phase names the orchestrator's position in a run, mostly for logs and
// progress callbacks.
type Phase int

// Run phases.
const (
	PhaseIdle Phase = iota
	PhaseLocating
	PhaseTransferring
	PhaseVerifying
	PhaseResetting
)

var phases = map[Phase]string{
	PhaseIdle:         "idle",
	PhaseLocating:     "locating",
	PhaseTransferring: "transferring",
	PhaseVerifying:    "verifying",
	PhaseResetting:    "resetting",
}

func (p Phase) String() string {
	return phases[p]
}
