// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package firmware

import (
	"fmt"

	"github.com/arduino/go-paths-helper"
)

// Role tags an image with its place in a target's image set.
type Role int

// Image roles.
const (
	RolePrimary Role = iota
	RoleCompanion
)

var roles = map[Role]string{
	RolePrimary:   "primary",
	RoleCompanion: "companion",
}

func (r Role) String() string {
	return roles[r]
}

// ImageSpec declares one firmware image of a target: which file holds it,
// where it goes on the device, and how its payload is laid out.
type ImageSpec struct {
	// Name is the file name under the firmware directory.
	Name string
	Role Role
	// AltSetting selects the DFU interface alternate setting.
	AltSetting int
	// Address is the flash base address used in the DfuSe address suffix.
	Address uint32
	// Serial describes the reserved serial-number field, nil when the
	// format has none.
	Serial *SerialField
	// CRC32Trailer marks formats that end in a little-endian CRC32 over
	// the rest of the payload.
	CRC32Trailer bool
}

// Image is one loaded firmware payload together with its flashing metadata.
// Images are value types; Patch returns a modified copy and never touches
// the receiver.
type Image struct {
	ImageSpec
	// Path is the backing file on disk, empty for payloads that only
	// exist in memory (patched images and device read-backs).
	Path string
	data []byte
}

// NewImage wraps raw bytes in an Image, for payloads that do not come from
// the firmware directory, such as device read-backs.
func NewImage(spec ImageSpec, data []byte) Image {
	return Image{ImageSpec: spec, data: data}
}

// erasedByte is what STM32 flash reads back where nothing was written.
const erasedByte = 0xFF

// NewImageFromDump builds an Image from a raw flash read-back. The dump
// spans the whole region, so the erased tail is trimmed off first. When the
// remaining payload ends in a valid CRC32 trailer, the trailer becomes part
// of the detected layout and patching keeps it consistent.
func NewImageFromDump(spec ImageSpec, dump []byte) (Image, error) {
	trimmed := len(dump)
	for trimmed > 0 && dump[trimmed-1] == erasedByte {
		trimmed--
	}
	if trimmed == 0 {
		return Image{}, &UnsupportedImageError{
			Image:  spec.Name,
			Reason: "flash region reads back erased",
		}
	}
	// The trailer itself may end in 0xFF bytes that look erased, so ends
	// up to trailerSize past the trimmed point are candidates too.
	extent := trimmed
	for end := trimmed; end <= trimmed+trailerSize && end <= len(dump); end++ {
		if validateTrailer(dump[:end]) == nil {
			extent = end
			spec.CRC32Trailer = true
			break
		}
	}
	return NewImage(spec, dump[:extent]), nil
}

// LoadImage reads one declared image from disk and validates it against its
// declared layout.
func LoadImage(p *paths.Path, spec ImageSpec) (Image, error) {
	data, err := p.ReadFile()
	if err != nil {
		return Image{}, fmt.Errorf("loading %s: %w", spec.Name, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("loading %s: file is empty", spec.Name)
	}
	if spec.CRC32Trailer {
		if err := validateTrailer(data); err != nil {
			return Image{}, fmt.Errorf("loading %s: %w", spec.Name, err)
		}
	}
	return Image{ImageSpec: spec, Path: p.String(), data: data}, nil
}

// Bytes returns the image payload. The slice is shared with the image and
// must not be modified.
func (img Image) Bytes() []byte {
	return img.data
}

// Size returns the payload length in bytes.
func (img Image) Size() int {
	return len(img.data)
}
