// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package giga

import (
	"fmt"

	"go.bug.st/serial"
)

// TouchPort opens the CDC port at 1200 baud, drops DTR and closes it,
// which the board's core firmware takes as the cue to reboot into the DFU
// bootloader. The port usually disappears within TriggerSettle.
func TouchPort(port string) error {
	p, err := serial.Open(port, &serial.Mode{BaudRate: TriggerBaud})
	if err != nil {
		return fmt.Errorf("opening %s at %d baud: %w", port, TriggerBaud, err)
	}
	if err := p.SetDTR(false); err != nil {
		p.Close()
		return fmt.Errorf("clearing DTR on %s: %w", port, err)
	}
	return p.Close()
}
