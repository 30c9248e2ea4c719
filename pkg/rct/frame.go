// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is a complete, unescaped response frame as collected by the
// Decoder. Its checksum has not necessarily been verified.
type Frame struct {
	raw       [ResponseSize]byte
	timestamp time.Time
}

// NewFrame wraps raw unescaped response bytes.
func NewFrame(raw [ResponseSize]byte) *Frame {
	return &Frame{raw: raw, timestamp: time.Now()}
}

// ID returns the echoed object id
func (f *Frame) ID() uint32 {
	return binary.BigEndian.Uint32(f.raw[2:6])
}

// Value returns the response value
func (f *Frame) Value() float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(f.raw[6:10]))
}

// CRC returns the checksum carried by the frame
func (f *Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(f.raw[10:12])
}

// CalculatedCRC returns the checksum computed over the frame contents
func (f *Frame) CalculatedCRC() uint16 {
	return CalculateCRC(f.raw[:ResponseSize-2])
}

// Valid reports whether the carried checksum matches the contents
func (f *Frame) Valid() bool {
	return f.CRC() == f.CalculatedCRC()
}

// Bytes returns the unescaped frame bytes
func (f *Frame) Bytes() []byte {
	return f.raw[:]
}

// Timestamp returns when the frame was decoded
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}
