// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeAll feeds data through d and returns every frame and error seen
func decodeAll(d *Decoder, data []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

func TestDecoder_SingleFrame(t *testing.T) {
	d := NewDecoder()
	frames, errs := decodeAll(d, EncodeResponse(0x959930BF, 0.75))

	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(0x959930BF), frames[0].ID())
	assert.Equal(t, float32(0.75), frames[0].Value())
	assert.True(t, frames[0].Valid())
	assert.True(t, d.Searching())
	assert.Zero(t, d.Buffered())
}

func TestDecoder_EscapedPayload(t *testing.T) {
	// every id byte is a marker, so every one of them is escaped on the wire
	wire := EncodeResponse(0x2B2D2B2D, 42)
	require.Greater(t, len(wire), 1+ResponseSize)

	d := NewDecoder()
	frames, errs := decodeAll(d, wire)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(0x2B2D2B2D), frames[0].ID())
	assert.Equal(t, float32(42), frames[0].Value())
	assert.True(t, frames[0].Valid())
}

func TestDecoder_SplitAcrossCalls(t *testing.T) {
	wire := EncodeResponse(0x2D2D2D2D, -3.25)

	for split := 1; split < len(wire); split++ {
		d := NewDecoder()
		first, errs := decodeAll(d, wire[:split])
		require.Empty(t, errs)
		require.Empty(t, first, "split=%d", split)

		second, errs := decodeAll(d, wire[split:])
		require.Empty(t, errs)
		require.Len(t, second, 1, "split=%d", split)
		assert.Equal(t, uint32(0x2D2D2D2D), second[0].ID())
		assert.Equal(t, float32(-3.25), second[0].Value())
	}
}

func TestDecoder_SkipsGarbageBeforeStart(t *testing.T) {
	data := append([]byte{0x00, 0x05, 0x08, 0xFF}, EncodeResponse(7, 1)...)
	frames, errs := decodeAll(NewDecoder(), data)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(7), frames[0].ID())
}

func TestDecoder_EscapedStartDoesNotBeginFrame(t *testing.T) {
	d := NewDecoder()
	_, errs := decodeAll(d, []byte{EscByte, StartByte, CmdResponse, ResponseLength})
	require.Empty(t, errs)
	assert.True(t, d.Searching())
	assert.Zero(t, d.Buffered())
}

func TestDecoder_UnexpectedCommand(t *testing.T) {
	d := NewDecoder()
	_, errs := decodeAll(d, []byte{StartByte, CmdRead})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnexpectedCommand)
	assert.True(t, d.Searching())

	// still able to decode the next frame
	frames, errs := decodeAll(d, EncodeResponse(1, 2))
	require.Empty(t, errs)
	require.Len(t, frames, 1)
}

func TestDecoder_UnexpectedLength(t *testing.T) {
	d := NewDecoder()
	_, errs := decodeAll(d, []byte{StartByte, CmdResponse, 0x04})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnexpectedLength)
	assert.True(t, d.Searching())
}

func TestDecoder_StartMidFrameRestarts(t *testing.T) {
	d := NewDecoder()
	data := append([]byte{StartByte, CmdResponse, ResponseLength, 0x01, 0x02}, EncodeResponse(0xCAFE, 9)...)
	frames, errs := decodeAll(d, data)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnexpectedStart)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(0xCAFE), frames[0].ID())
	assert.True(t, frames[0].Valid())
}

func TestDecoder_EscapedEscapeThenStart(t *testing.T) {
	// "- -" is a literal escape byte; the following start is unescaped
	d := NewDecoder()
	_, errs := decodeAll(d, []byte{EscByte, EscByte, StartByte})
	require.Empty(t, errs)
	assert.False(t, d.Searching())
}

func TestDecoder_CorruptChecksumStillReturnsFrame(t *testing.T) {
	raw := BuildResponse(5, 5)
	raw[11] ^= 0x01
	wire := append([]byte{StartByte}, StuffBytes(raw[:])...)

	frames, errs := decodeAll(NewDecoder(), wire)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Valid())
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	decodeAll(d, []byte{StartByte, CmdResponse, ResponseLength, EscByte})
	require.False(t, d.Searching())

	d.Reset()
	assert.True(t, d.Searching())
	assert.Zero(t, d.Buffered())
	assert.Empty(t, d.RawBytes())

	frames, _ := decodeAll(d, EncodeResponse(3, 3))
	assert.Len(t, frames, 1)
}

func TestDecoder_RawBytes(t *testing.T) {
	wire := EncodeResponse(0x2B, 1)
	d := NewDecoder()
	decodeAll(d, wire[:len(wire)-1])
	assert.Equal(t, wire[:len(wire)-1], d.RawBytes())
}

func TestDecoder_DecodeByteAtStampsFrame(t *testing.T) {
	d := NewDecoder()
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	var frame *Frame
	for _, b := range EncodeResponse(0x959930BF, 0.5) {
		f, err := d.DecodeByteAt(b, at)
		require.NoError(t, err)
		if f != nil {
			frame = f
		}
	}
	require.NotNil(t, frame)
	assert.Equal(t, at, frame.Timestamp())
	assert.Contains(t, FormatFrame(frame), "[05:06:07.000]")
}
