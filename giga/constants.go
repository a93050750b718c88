// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package giga

import "time"

// USB identity of the board in its two modes. The sketch and the DFU
// bootloader enumerate with different product IDs.
const (
	VendorArduino = 0x2341
	ProductApp    = 0x0266
	ProductDFU    = 0x0366
)

// DFUDeviceFilter is the VID:PID filter handed to dfu-util so it never
// touches another DFU device on the same host.
const DFUDeviceFilter = "2341:0366"

// Serial port speeds. Opening the CDC port at TriggerBaud and closing it
// reboots the board into the bootloader; the application console runs at
// ConsoleBaud.
const (
	TriggerBaud = 1200
	ConsoleBaud = 115200
)

// Timing for mode transitions and bus polling.
const (
	// PollInterval between locator scans of the bus.
	PollInterval = 500 * time.Millisecond
	// TriggerSettle is how long the board needs to drop the CDC port and
	// re-enumerate as a DFU device after the 1200-baud touch.
	TriggerSettle = 2 * time.Second
	// BootSettle is how long the application firmware needs before its
	// console answers after a reset.
	BootSettle = 2 * time.Second
	// DefaultLocateTimeout bounds one wait for the board.
	DefaultLocateTimeout = 20 * time.Second
	// ProbeReadTimeout bounds each console read during verification.
	ProbeReadTimeout = 2 * time.Second
)
