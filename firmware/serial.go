// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package firmware

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	// SerialMarker precedes the serial field in serial-capable images.
	SerialMarker = "__SERIAL_NUMBER__"
	// SerialFieldLength is the reserved field size after the marker.
	SerialFieldLength = 12
	// SerialPrefix is the fixed provisioning prefix of every full serial.
	SerialPrefix = "DA_2025_"
	// SerialCodeLength is the length of the per-device code appended to
	// the prefix.
	SerialCodeLength = 3
)

// DefaultSerialField is the layout every serial-capable firmware build
// uses: the marker immediately followed by a NUL-padded field.
var DefaultSerialField = SerialField{Marker: SerialMarker, Length: SerialFieldLength}

// SerialField describes the reserved serial-number region of an image
// format: a marker string followed by a fixed-length NUL-padded field.
type SerialField struct {
	Marker string
	Length int
}

// SerialCode is the per-device part of a serial number, exactly three
// alphanumeric characters.
type SerialCode string

// ParseSerialCode validates a serial code from the command line.
func ParseSerialCode(s string) (SerialCode, error) {
	if len(s) != SerialCodeLength {
		return "", &InvalidSerialError{
			Serial: s,
			Reason: fmt.Sprintf("must be exactly %d characters", SerialCodeLength),
		}
	}
	for _, r := range s {
		if !isSerialRune(r) {
			return "", &InvalidSerialError{
				Serial: s,
				Reason: fmt.Sprintf("character %q is not alphanumeric", r),
			}
		}
	}
	return SerialCode(s), nil
}

// PadSerialCode left-pads a short code with zeros before validating it, the
// convention for numeric serials on the provisioning line.
func PadSerialCode(s string) (SerialCode, error) {
	if len(s) == 0 || len(s) > SerialCodeLength {
		return "", &InvalidSerialError{
			Serial: s,
			Reason: fmt.Sprintf("must be 1 to %d characters", SerialCodeLength),
		}
	}
	return ParseSerialCode(strings.Repeat("0", SerialCodeLength-len(s)) + s)
}

func isSerialRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// FullSerial returns the complete device serial that ends up embedded in
// firmware and reported on the console.
func FullSerial(code SerialCode) string {
	return SerialPrefix + string(code)
}

// SerialOffset locates the start of the serial field, requiring the marker
// to occur exactly once with room left for the whole field.
func (img Image) SerialOffset() (int, error) {
	f := img.Serial
	if f == nil {
		return 0, &UnsupportedImageError{
			Image:  img.Name,
			Reason: "image format has no serial field",
		}
	}
	marker := []byte(f.Marker)
	idx := bytes.Index(img.data, marker)
	if idx < 0 {
		return 0, &UnsupportedImageError{
			Image:  img.Name,
			Reason: fmt.Sprintf("marker %q not found", f.Marker),
		}
	}
	if bytes.Index(img.data[idx+len(marker):], marker) >= 0 {
		return 0, &UnsupportedImageError{
			Image:  img.Name,
			Reason: fmt.Sprintf("marker %q occurs more than once", f.Marker),
		}
	}
	offset := idx + len(marker)
	end := len(img.data)
	if img.CRC32Trailer {
		end -= trailerSize
	}
	if offset+f.Length > end {
		return 0, &UnsupportedImageError{
			Image:  img.Name,
			Reason: "serial field is truncated",
		}
	}
	return offset, nil
}

// EmbeddedSerial reports the full serial currently held in the image's
// serial field, with the NUL padding trimmed.
func (img Image) EmbeddedSerial() (string, error) {
	offset, err := img.SerialOffset()
	if err != nil {
		return "", err
	}
	field := img.data[offset : offset+img.Serial.Length]
	return string(bytes.TrimRight(field, "\x00")), nil
}

// Patch embeds the code into the image's serial field and recomputes the
// CRC32 trailer when the format declares one. Every byte outside the field
// and trailer is preserved, as is the total length. The receiver is left
// unchanged; the returned image is no longer backed by a file on disk.
func (img Image) Patch(code SerialCode) (Image, error) {
	if _, err := ParseSerialCode(string(code)); err != nil {
		return Image{}, err
	}
	offset, err := img.SerialOffset()
	if err != nil {
		return Image{}, err
	}
	full := FullSerial(code)
	if len(full) > img.Serial.Length {
		return Image{}, &InvalidSerialError{
			Serial: string(code),
			Reason: fmt.Sprintf("full serial %q exceeds the %d-byte field", full, img.Serial.Length),
		}
	}
	data := make([]byte, len(img.data))
	copy(data, img.data)
	field := data[offset : offset+img.Serial.Length]
	for i := range field {
		field[i] = 0
	}
	copy(field, full)
	if img.CRC32Trailer {
		writeTrailer(data)
	}
	patched := img
	patched.Path = ""
	patched.data = data
	return patched, nil
}

// PatchSet embeds the code into every image of the set that carries a
// serial field and returns the new set. It fails when no image can carry a
// serial, which is the case for legacy builds.
func PatchSet(images []Image, code SerialCode) ([]Image, error) {
	out := make([]Image, len(images))
	copy(out, images)
	patched := 0
	for i, img := range images {
		if img.Serial == nil {
			continue
		}
		p, err := img.Patch(code)
		if err != nil {
			return nil, err
		}
		out[i] = p
		patched++
	}
	if patched == 0 {
		return nil, &UnsupportedImageError{
			Image:  describeSet(images),
			Reason: "no image in the set carries a serial field",
		}
	}
	return out, nil
}

func describeSet(images []Image) string {
	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Name
	}
	return strings.Join(names, ", ")
}
