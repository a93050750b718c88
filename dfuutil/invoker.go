// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package dfuutil

import (
	"context"
	"errors"
	"os/exec"
)

// Invoker runs the external DFU client and captures its combined output.
// It is the seam tests use to stand in for the real binary.
type Invoker interface {
	Invoke(ctx context.Context, args []string) (exitCode int, output []byte, err error)
}

// ExecInvoker shells out to a dfu-util binary on the host.
type ExecInvoker struct {
	// Path locates the binary. Empty means DefaultBinary on PATH.
	Path string
}

// Invoke runs the binary and waits for it. A non-zero exit status is
// reported through exitCode, not err; err is reserved for failures to run
// the binary at all.
func (e *ExecInvoker) Invoke(ctx context.Context, args []string) (int, []byte, error) {
	bin := e.Path
	if bin == "" {
		bin = DefaultBinary
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return 0, output, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), output, nil
	}
	return -1, output, err
}
