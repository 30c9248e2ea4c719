// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/fxamacker/cbor/v2"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Sample is the outcome of one read. Value is nil unless the read
// succeeded. A successful read may still carry NaN or infinity, which
// JSON cannot represent, so JSON output omits the value. In CBOR the
// fields use small integer keys.
type Sample struct {
	ID     uint32   `json:"id" cbor:"1,keyasint"`
	Name   string   `json:"name" cbor:"2,keyasint"`
	Value  *float32 `json:"value,omitempty" cbor:"3,keyasint,omitempty"`
	Unit   string   `json:"unit,omitempty" cbor:"4,keyasint,omitempty"`
	Result string   `json:"result" cbor:"5,keyasint"`
	Time   int64    `json:"time_ms" cbor:"6,keyasint"`
}

// NewSample builds a sample from the outcome of Session.Read
func NewSample(id uint32, value float32, err error, at time.Time) Sample {
	s := Sample{
		ID:     id,
		Name:   rct.FormatObjectID(id),
		Result: rct.Success.String(),
		Time:   at.UnixMilli(),
	}
	if o, ok := rct.LookupObject(id); ok {
		s.Unit = o.Unit
	}

	var resultErr *rct.ResultError
	switch {
	case err == nil:
		s.Value = &value
	case errors.As(err, &resultErr):
		s.Result = resultErr.Result.String()
	default:
		s.Result = err.Error()
	}
	return s
}

// OK reports whether the read succeeded
func (s Sample) OK() bool {
	return s.Value != nil
}

// SampleWriter writes samples in one of the output formats
type SampleWriter struct {
	format string
	out    io.Writer
	json   *json.Encoder
	cbor   *cbor.Encoder
}

// NewSampleWriter creates a writer for format on out
func NewSampleWriter(format string, out io.Writer) (*SampleWriter, error) {
	w := &SampleWriter{format: format, out: out}
	switch format {
	case FormatText:
	case FormatJSON:
		w.json = json.NewEncoder(out)
	case FormatCBOR:
		w.cbor = cbor.NewEncoder(out)
	default:
		return nil, fmt.Errorf("unknown output format %q (use text, json or cbor)", format)
	}
	return w, nil
}

// Write emits one sample: a line of text, a JSON line, or a CBOR data item
func (w *SampleWriter) Write(s Sample) error {
	switch w.format {
	case FormatJSON:
		if s.Value != nil {
			if v := float64(*s.Value); math.IsNaN(v) || math.IsInf(v, 0) {
				s.Value = nil
			}
		}
		return w.json.Encode(s)
	case FormatCBOR:
		return w.cbor.Encode(s)
	}

	if !s.OK() {
		_, err := fmt.Fprintf(w.out, "%-36s %s\n", s.Name, s.Result)
		return err
	}
	_, err := fmt.Fprintf(w.out, "%-36s %s\n", s.Name, rct.FormatValue(s.ID, *s.Value))
	return err
}
