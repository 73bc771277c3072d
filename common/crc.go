// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, a CRC8 calculation
package common

// CRC8Word calculates the 8-bit CRC of a 16-bit measurement word and returns
// the calculated value. TE Connectivity humidity sensors append one CRC byte
// to every 16-bit word they transmit, computed with the polynomial
// x^8 + x^5 + x^4 + 1.
//
// The word is left-aligned into a 24-bit register and divided bit by bit from
// position 23 down to 16. The remainder always fits in the low byte of the
// register, which is the CRC the device reports.
func CRC8Word(value uint16) byte {
	var (
		polynom = uint32(0x988000)
		msb     = uint32(0x800000)
		mask    = uint32(0xff8000)
	)
	result := uint32(value) << 8
	for msb != 0x80 {
		if result&msb != 0 {
			result = ((result ^ polynom) & mask) | (result &^ mask)
		}
		msb >>= 1
		mask >>= 1
		polynom >>= 1
	}
	return byte(result)
}
