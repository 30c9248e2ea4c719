// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"errors"
	"fmt"
	"time"
)

// Decoder errors. They report that the stream was out of sync; by the time
// one is returned the decoder has already resynchronized.
var (
	ErrUnexpectedCommand = errors.New("rct: unexpected response command")
	ErrUnexpectedLength  = errors.New("rct: unexpected response length")
	ErrUnexpectedStart   = errors.New("rct: unexpected start byte, restarting frame")
)

// Decoder states (internal)
const (
	stateSearching = iota
	stateCollecting
)

// Decoder implements the incremental response frame decoder. Its state
// survives between calls, so a frame may be split across any number of
// reads, including between an escape byte and the byte it escapes.
//
// Escapes are tracked with a flag rather than by looking back at the
// previous wire byte, also while searching for a start byte. An escaped
// escape followed by a start byte ("--+") therefore starts a new frame,
// where the inverter vendor's reference client treats the start byte as
// escaped and keeps searching.
type Decoder struct {
	state      int
	buffer     [ResponseSize]byte
	used       int
	escapeNext bool
	rawBuffer  []byte // raw wire bytes of the current frame
}

// NewDecoder creates a new response decoder waiting for a start byte.
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateSearching,
		rawBuffer: make([]byte, 0, 1+2*ResponseSize),
	}
}

// Reset drops any partial frame and waits for the next start byte.
func (d *Decoder) Reset() {
	d.state = stateSearching
	d.used = 0
	d.escapeNext = false
	d.rawBuffer = d.rawBuffer[:0]
}

// Searching reports whether the decoder is waiting for a start byte.
func (d *Decoder) Searching() bool {
	return d.state == stateSearching
}

// Buffered returns the number of unescaped bytes collected for the current
// frame.
func (d *Decoder) Buffered() int {
	return d.used
}

// RawBytes returns the wire bytes seen since the current frame started.
func (d *Decoder) RawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single wire byte.
// Returns a complete candidate frame once ResponseSize bytes have been
// collected. The frame's checksum is not verified here, since a frame
// for a stale id must be dropped without judging its checksum.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	return d.DecodeByteAt(b, time.Now())
}

// DecodeByteAt is DecodeByte with the receive time of b supplied by the
// caller. A completed frame is stamped with now.
func (d *Decoder) DecodeByteAt(b byte, now time.Time) (*Frame, error) {
	if len(d.rawBuffer) < cap(d.rawBuffer) {
		d.rawBuffer = append(d.rawBuffer, b)
	}

	if d.state == stateSearching {
		switch {
		case d.escapeNext:
			d.escapeNext = false
		case b == EscByte:
			d.escapeNext = true
		case b == StartByte:
			d.state = stateCollecting
			d.used = 0
			d.rawBuffer = append(d.rawBuffer[:0], b)
		}
		return nil, nil
	}

	switch {
	case d.escapeNext:
		d.escapeNext = false
	case b == StartByte:
		// Unescaped start inside a frame: the previous frame was cut short.
		// The start byte is consumed, so keep collecting from empty.
		d.used = 0
		d.rawBuffer = append(d.rawBuffer[:0], b)
		return nil, ErrUnexpectedStart
	case b == EscByte:
		d.escapeNext = true
		return nil, nil
	}

	d.buffer[d.used] = b
	d.used++

	switch {
	case d.used == 1 && d.buffer[0] != CmdResponse:
		d.Reset()
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnexpectedCommand, b)
	case d.used == 2 && d.buffer[1] != ResponseLength:
		d.Reset()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedLength, b)
	case d.used == ResponseSize:
		frame := &Frame{raw: d.buffer, timestamp: now}
		d.Reset()
		return frame, nil
	}

	return nil, nil
}
