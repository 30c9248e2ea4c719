// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rct implements the client side of the RCT Power inverter read
// protocol: framing and escaping, CRC validation and a bounded transaction
// scheduler that reads one float value per object id.
//
// The Client never blocks and never starts goroutines. Its owner drives it
// by calling DriveOutbound and DriveInbound periodically, and calls
// OnConnectionClosed after the transport went away. Submit, DriveOutbound,
// DriveInbound and OnConnectionClosed must all be called from the same
// goroutine, one at a time; the Client does no locking of its own.
//
// Timeouts are polled. A pending read is only declared timed out by the
// next DriveOutbound call after its deadline, so a Timeout result can
// arrive up to one tick period late.
package rct

import "time"

// Protocol framing bytes
const (
	StartByte = '+' // 0x2B
	EscByte   = '-' // 0x2D
)

// Commands and their length codes
const (
	CmdRead     = 0x01
	CmdResponse = 0x05

	ReadLength     = 4 // id
	ResponseLength = 8 // id + float32
)

// Frame sizes (unescaped)
const (
	RequestSize  = 1 + 1 + ReadLength + 2     // command + length + id + crc
	ResponseSize = 1 + 1 + ResponseLength + 2 // command + length + id + value + crc

	// Worst case: start byte plus every raw byte escaped
	MaxWireRequestSize = 1 + 2*RequestSize
)

// CRC-16/CCITT-FALSE configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Scheduler limits
const (
	// MaxScheduledTransactions is the default capacity of the wait queue.
	// The pending transaction does not count against it.
	MaxScheduledTransactions = 8

	// ReceiveBudget caps how long a single DriveInbound call keeps reading.
	ReceiveBudget = 10 * time.Millisecond
)

// BootloaderMagic is the byte pattern the inverter emits while its
// bootloader is active.
const BootloaderMagic = 0x50F705AB

// DefaultPort is the TCP port RCT Power inverters listen on.
const DefaultPort = 8899
