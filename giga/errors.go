// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package giga

import (
	"fmt"
	"time"
)

// DeviceNotFoundError reports that the board never reached the wanted USB
// mode within the timeout. LastState records what was actually seen, which
// separates "not plugged in" from "present but stuck in the wrong mode".
type DeviceNotFoundError struct {
	Timeout   time.Duration
	Want      State
	LastState State
}

func (e *DeviceNotFoundError) Error() string {
	if e.LastState == StateAbsent {
		if e.Timeout == 0 {
			return "no board found (check the USB cable and power)"
		}
		return fmt.Sprintf("no board found within %s (check the USB cable and power)", e.Timeout)
	}
	return fmt.Sprintf("board stayed in %s mode and never reached %s mode within %s", e.LastState, e.Want, e.Timeout)
}
