// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package firmware

import "fmt"

// UnknownTargetError reports a target name that is not in the catalog.
type UnknownTargetError struct {
	Target Target
	Known  []Target
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target %q (known targets: %s)", string(e.Target), joinTargets(e.Known))
}

// InvalidSerialError reports a serial code that failed validation.
type InvalidSerialError struct {
	Serial string
	Reason string
}

func (e *InvalidSerialError) Error() string {
	return fmt.Sprintf("invalid serial %q: %s", e.Serial, e.Reason)
}

// UnsupportedImageError reports an image whose format cannot carry a serial
// number.
type UnsupportedImageError struct {
	Image  string
	Reason string
}

func (e *UnsupportedImageError) Error() string {
	return fmt.Sprintf("image %s cannot carry a serial number: %s", e.Image, e.Reason)
}
