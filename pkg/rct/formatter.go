// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"fmt"
	"math"
)

// FormatObjectID returns the catalogue name for id, or its hex form
func FormatObjectID(id uint32) string {
	if o, ok := LookupObject(id); ok {
		return o.Name
	}
	return fmt.Sprintf("0x%08X", id)
}

// FormatValue scales a raw value for display using the catalogue
func FormatValue(id uint32, value float32) string {
	if math.IsNaN(float64(value)) {
		return "n/a"
	}
	if o, ok := LookupObject(id); ok {
		return fmt.Sprintf("%.2f %s", value*o.Scale, o.Unit)
	}
	return fmt.Sprintf("%g", value)
}

// FormatFrame formats a decoded response frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	crcState := "OK"
	if !f.Valid() {
		crcState = fmt.Sprintf("MISMATCH (calculated 0x%04X)", f.CalculatedCRC())
	}

	return fmt.Sprintf("[%s] RESPONSE id=0x%08X (%s) value=%s crc=0x%04X %s\n",
		timestamp, f.ID(), FormatObjectID(f.ID()), FormatValue(f.ID(), f.Value()), f.CRC(), crcState)
}
