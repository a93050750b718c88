// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package firmware

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Current-revision companion images end in a little-endian CRC32 (IEEE)
// over everything before it. The companion's boot loader refuses images
// whose trailer does not match.
const trailerSize = 4

func trailerCRC(data []byte) uint32 {
	return crc32.ChecksumIEEE(data[:len(data)-trailerSize])
}

func readTrailer(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data[len(data)-trailerSize:])
}

func writeTrailer(data []byte) {
	binary.LittleEndian.PutUint32(data[len(data)-trailerSize:], trailerCRC(data))
}

func validateTrailer(data []byte) error {
	if len(data) <= trailerSize {
		return fmt.Errorf("image too short for a CRC32 trailer (%d bytes)", len(data))
	}
	if got, want := readTrailer(data), trailerCRC(data); got != want {
		return fmt.Errorf("CRC32 trailer mismatch: embedded 0x%08X, computed 0x%08X", got, want)
	}
	return nil
}
