// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import "time"

// BootloaderDetector watches the raw byte stream for BootloaderMagic.
// It runs alongside frame decoding and never affects transactions.
type BootloaderDetector struct {
	shift        uint32
	lastDetected time.Time
}

// Feed shifts one raw byte into the detector. Returns true when the last
// four bytes form the magic number.
func (d *BootloaderDetector) Feed(b byte, now time.Time) bool {
	d.shift = d.shift<<8 | uint32(b)
	if d.shift != BootloaderMagic {
		return false
	}
	d.lastDetected = now
	return true
}

// LastDetected returns when the magic number was last seen (zero if never).
func (d *BootloaderDetector) LastDetected() time.Time {
	return d.lastDetected
}

// Reset clears the shift register and the last detection time.
func (d *BootloaderDetector) Reset() {
	d.shift = 0
	d.lastDetected = time.Time{}
}
