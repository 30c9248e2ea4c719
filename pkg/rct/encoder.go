// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrDanglingEscape is returned by UnstuffBytes when the input ends with an
// escape byte that has nothing to escape.
var ErrDanglingEscape = errors.New("rct: incomplete escape sequence at end of data")

// BuildReadRequest creates the unescaped read request for an object id.
func BuildReadRequest(id uint32) [RequestSize]byte {
	var raw [RequestSize]byte
	raw[0] = CmdRead
	raw[1] = ReadLength
	binary.BigEndian.PutUint32(raw[2:6], id)
	binary.BigEndian.PutUint16(raw[6:8], CalculateCRC(raw[:6]))
	return raw
}

// EncodeReadRequest creates a complete wire-formatted read request.
func EncodeReadRequest(id uint32) []byte {
	raw := BuildReadRequest(id)
	return frameBytes(raw[:])
}

// BuildResponse creates the unescaped response a device sends for a read.
func BuildResponse(id uint32, value float32) [ResponseSize]byte {
	var raw [ResponseSize]byte
	raw[0] = CmdResponse
	raw[1] = ResponseLength
	binary.BigEndian.PutUint32(raw[2:6], id)
	binary.BigEndian.PutUint32(raw[6:10], math.Float32bits(value))
	binary.BigEndian.PutUint16(raw[10:12], CalculateCRC(raw[:10]))
	return raw
}

// EncodeResponse creates a complete wire-formatted response.
func EncodeResponse(id uint32, value float32) []byte {
	raw := BuildResponse(id, value)
	return frameBytes(raw[:])
}

func frameBytes(raw []byte) []byte {
	out := make([]byte, 0, 1+2*len(raw))
	out = append(out, StartByte)
	return appendStuffed(out, raw)
}

// StuffBytes escapes every START and ESC byte in data by prefixing it with
// ESC. The start byte is not included.
func StuffBytes(data []byte) []byte {
	return appendStuffed(make([]byte, 0, len(data)*2), data)
}

func appendStuffed(dst, data []byte) []byte {
	for _, b := range data {
		if b == StartByte || b == EscByte {
			dst = append(dst, EscByte)
		}
		dst = append(dst, b)
	}
	return dst
}

// UnstuffBytes removes escaping from data. This is the inverse of
// StuffBytes.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, ErrDanglingEscape
	}

	return result, nil
}
