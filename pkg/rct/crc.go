// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

// CalculateCRC computes the CRC-16/CCITT-FALSE checksum of unescaped data.
// Bits are consumed most significant first; there is no reflection and no
// final XOR.
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bit := (b>>uint(i))&1 == 1
			carry := crc&0x8000 != 0
			crc <<= 1
			if carry != bit {
				crc ^= crcPolynomial
			}
		}
	}
	return crc
}
