// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package firmware resolves hardware targets to their firmware image sets
// and embeds serial numbers into images before they are flashed.
package firmware

import (
	"fmt"
	"strings"

	"github.com/arduino/go-paths-helper"
)

// Target names one supported hardware build of the instrument.
type Target string

// Hardware targets the catalog knows about.
const (
	TargetNewHardware        Target = "new_hardware"
	TargetOldHardware        Target = "old_hardware"
	TargetNewShieldOldDACADC Target = "new_shield_old_dac_adc"
)

// targetOrder fixes the listing order for help and error text.
var targetOrder = []Target{
	TargetNewHardware,
	TargetOldHardware,
	TargetNewShieldOldDACADC,
}

// Flash base addresses of the two cores. The primary (M7) application starts
// one sector bank above the bootloader; the companion (M4) image lives in the
// second flash bank.
const (
	PrimaryBase   uint32 = 0x08040000
	CompanionBase uint32 = 0x08100000
)

// ParseTarget validates a target name from the command line.
func ParseTarget(s string) (Target, error) {
	t := Target(s)
	for _, known := range targetOrder {
		if t == known {
			return t, nil
		}
	}
	return "", &UnknownTargetError{Target: t, Known: targetOrder}
}

// Catalog maps each target to its ordered image set and knows where the
// image files live. Order is part of the contract: the primary image is
// always flashed before the companion.
type Catalog struct {
	dir  *paths.Path
	sets map[Target][]ImageSpec
}

// NewCatalog binds the standard catalog to a firmware directory.
func NewCatalog(dir *paths.Path) *Catalog {
	return &Catalog{dir: dir, sets: standardSets()}
}

// standardSets declares the shipping firmware builds. The primary M7 image
// is shared by every target; the companion M4 build varies with the
// hardware. Only current-generation companion builds reserve a serial
// field, and only the newest revision ends in a CRC32 trailer checked by
// its boot loader.
func standardSets() map[Target][]ImageSpec {
	primary := ImageSpec{
		Name:    "firmwareM7.bin",
		Role:    RolePrimary,
		Address: PrimaryBase,
	}
	return map[Target][]ImageSpec{
		TargetNewHardware: {
			primary,
			{
				Name:         "firmwareM4_new_hardware.bin",
				Role:         RoleCompanion,
				Address:      CompanionBase,
				Serial:       &DefaultSerialField,
				CRC32Trailer: true,
			},
		},
		TargetNewShieldOldDACADC: {
			primary,
			{
				Name:    "firmwareM4_new_shield_old_dac_adc.bin",
				Role:    RoleCompanion,
				Address: CompanionBase,
				Serial:  &DefaultSerialField,
			},
		},
		TargetOldHardware: {
			primary,
			{
				// Legacy build with no reserved serial field.
				Name:    "firmwareM4_old_hardware.bin",
				Role:    RoleCompanion,
				Address: CompanionBase,
			},
		},
	}
}

// Targets returns the catalog's targets in stable order.
func (c *Catalog) Targets() []Target {
	targets := make([]Target, 0, len(c.sets))
	for _, t := range targetOrder {
		if _, ok := c.sets[t]; ok {
			targets = append(targets, t)
		}
	}
	return targets
}

// Images returns the declared image set for a target without touching
// storage.
func (c *Catalog) Images(t Target) ([]ImageSpec, error) {
	specs, ok := c.sets[t]
	if !ok {
		return nil, &UnknownTargetError{Target: t, Known: c.Targets()}
	}
	out := make([]ImageSpec, len(specs))
	copy(out, specs)
	return out, nil
}

// Resolve validates the target and loads its image set from the firmware
// directory. The target is checked before any file is opened, so an unknown
// name fails without touching storage.
func (c *Catalog) Resolve(t Target) ([]Image, error) {
	specs, ok := c.sets[t]
	if !ok {
		return nil, &UnknownTargetError{Target: t, Known: c.Targets()}
	}
	images := make([]Image, 0, len(specs))
	for _, spec := range specs {
		img, err := LoadImage(c.dir.Join(spec.Name), spec)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", t, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func joinTargets(targets []Target) string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
