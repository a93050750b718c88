// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package dfuutil

import (
	"fmt"
	"strings"
)

// TransferError reports a dfu-util invocation that failed. Transient errors
// are worth retrying once the device has been located again; the rest fail
// the image immediately.
type TransferError struct {
	Op        string
	ExitCode  int
	Transient bool
	Output    string
	Err       error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("dfu-util %s failed (exit %d)", e.Op, e.ExitCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	if reason := lastOutputLine(e.Output); reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return msg
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// VerificationError reports a dfu-util run that exited 0 without printing
// the confirmation line for the operation.
type VerificationError struct {
	Op      string
	Missing string
	Output  string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("dfu-util %s finished without confirming %q", e.Op, e.Missing)
}

// lastOutputLine pulls the final non-empty line out of captured output,
// which is where dfu-util states its reason for giving up.
func lastOutputLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
