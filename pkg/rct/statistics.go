// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks request, response and error counts of a Client
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	RequestsSent         uint64
	Responses            uint64
	StaleResponses       uint64
	CRCErrors            uint64
	DecodeErrors         uint64
	Timeouts             uint64
	Aborted              uint64
	Rejected             uint64
	SendFailures         uint64
	ReceiveFailures      uint64
	BytesReceived        uint64
	BootloaderDetections uint64

	// Rates (calculated)
	ResponseRate float64 // responses/sec
	ErrorRate    float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// recordResult counts the terminal result of a transaction
func (s *Statistics) recordResult(result Result) {
	switch result {
	case Success:
		s.Responses++
	case ChecksumMismatch:
		s.CRCErrors++
	case Timeout:
		s.Timeouts++
	case Aborted:
		s.Aborted++
	case SendFailed:
		s.SendFailures++
	case ReceiveFailed, DisconnectedByPeer:
		s.ReceiveFailures++
	case InvalidArgument, NotConnected, NoTransactionAvailable:
		s.Rejected++
	}
	s.LastUpdateTime = time.Now()
}

// recordDecodeError counts a decoder resynchronization
func (s *Statistics) recordDecodeError(err error) {
	if errors.Is(err, ErrUnexpectedStart) || errors.Is(err, ErrUnexpectedCommand) || errors.Is(err, ErrUnexpectedLength) {
		s.DecodeErrors++
	}
}

// Errors returns the total of all error counters
func (s *Statistics) Errors() uint64 {
	return s.CRCErrors + s.DecodeErrors + s.Timeouts + s.SendFailures + s.ReceiveFailures
}

// CalculateRates calculates response and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ResponseRate = float64(s.Responses) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var successPercent float64
	if s.RequestsSent > 0 {
		successPercent = float64(s.Responses) * 100.0 / float64(s.RequestsSent)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Requests Sent:   %8d\n", s.RequestsSent)
	result += fmt.Sprintf("Responses:       %8d (%.1f%%)\n", s.Responses, successPercent)

	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.StaleResponses > 0 {
		result += fmt.Sprintf("Stale Responses: %8d\n", s.StaleResponses)
	}
	if s.SendFailures > 0 || s.ReceiveFailures > 0 {
		result += fmt.Sprintf("I/O Failures:    %8d (send %d, receive %d)\n",
			s.SendFailures+s.ReceiveFailures, s.SendFailures, s.ReceiveFailures)
	}
	if s.Aborted > 0 {
		result += fmt.Sprintf("Aborted:         %8d\n", s.Aborted)
	}
	if s.Rejected > 0 {
		result += fmt.Sprintf("Rejected:        %8d\n", s.Rejected)
	}
	if s.BootloaderDetections > 0 {
		result += fmt.Sprintf("Bootloader Seen: %8d\n", s.BootloaderDetections)
	}

	result += fmt.Sprintf("Bytes Received:  %8d\n", s.BytesReceived)
	result += fmt.Sprintf("Response Rate:   %8.1f resp/sec\n", s.ResponseRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
