// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatistics_RecordResult(t *testing.T) {
	s := NewStatistics()
	for _, r := range []Result{Success, Success, ChecksumMismatch, Timeout, Aborted, SendFailed,
		ReceiveFailed, DisconnectedByPeer, NotConnected, NoTransactionAvailable, InvalidArgument} {
		s.recordResult(r)
	}

	assert.Equal(t, uint64(2), s.Responses)
	assert.Equal(t, uint64(1), s.CRCErrors)
	assert.Equal(t, uint64(1), s.Timeouts)
	assert.Equal(t, uint64(1), s.Aborted)
	assert.Equal(t, uint64(1), s.SendFailures)
	assert.Equal(t, uint64(2), s.ReceiveFailures)
	assert.Equal(t, uint64(3), s.Rejected)
	assert.Equal(t, uint64(5), s.Errors())
}

func TestStatistics_RecordDecodeError(t *testing.T) {
	s := NewStatistics()
	s.recordDecodeError(fmt.Errorf("%w: 0x01", ErrUnexpectedCommand))
	s.recordDecodeError(ErrUnexpectedStart)
	s.recordDecodeError(fmt.Errorf("unrelated"))
	assert.Equal(t, uint64(2), s.DecodeErrors)
}

func TestStatistics_StringAndReset(t *testing.T) {
	s := NewStatistics()
	s.RequestsSent = 4
	s.recordResult(Success)
	s.recordResult(Timeout)
	s.StaleResponses = 1

	out := s.String()
	assert.Regexp(t, `Requests Sent:\s+4\n`, out)
	assert.Contains(t, out, "Timeouts:")
	assert.Contains(t, out, "Stale Responses:")
	assert.NotContains(t, out, "CRC Errors:")

	s.Reset()
	assert.Zero(t, s.RequestsSent)
	assert.Zero(t, s.Responses)
	assert.False(t, s.StartTime.IsZero())
}
