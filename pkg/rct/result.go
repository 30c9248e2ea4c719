// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

// Result is the terminal outcome handed to a transaction callback.
type Result int

// Transaction results
const (
	Success Result = iota
	InvalidArgument
	Aborted
	NoTransactionAvailable
	NotConnected
	DisconnectedByPeer
	SendFailed
	ReceiveFailed
	Timeout
	ChecksumMismatch
)

// String returns the result name
func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case InvalidArgument:
		return "InvalidArgument"
	case Aborted:
		return "Aborted"
	case NoTransactionAvailable:
		return "NoTransactionAvailable"
	case NotConnected:
		return "NotConnected"
	case DisconnectedByPeer:
		return "DisconnectedByPeer"
	case SendFailed:
		return "SendFailed"
	case ReceiveFailed:
		return "ReceiveFailed"
	case Timeout:
		return "Timeout"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	}
	return "<Unknown>"
}

// ResultError is the error form of a non-success Result.
type ResultError struct {
	Result Result
}

func (e *ResultError) Error() string {
	return "rct: transaction failed: " + e.Result.String()
}

// Is makes errors.Is match on the result alone.
func (e *ResultError) Is(target error) bool {
	t, ok := target.(*ResultError)
	return ok && t.Result == e.Result
}

// Sentinel errors for use with errors.Is
var (
	ErrInvalidArgument        = &ResultError{InvalidArgument}
	ErrAborted                = &ResultError{Aborted}
	ErrNoTransactionAvailable = &ResultError{NoTransactionAvailable}
	ErrNotConnected           = &ResultError{NotConnected}
	ErrDisconnectedByPeer     = &ResultError{DisconnectedByPeer}
	ErrSendFailed             = &ResultError{SendFailed}
	ErrReceiveFailed          = &ResultError{ReceiveFailed}
	ErrTimeout                = &ResultError{Timeout}
	ErrChecksumMismatch       = &ResultError{ChecksumMismatch}
)

// Err returns nil for Success and a *ResultError otherwise.
func (r Result) Err() error {
	if r == Success {
		return nil
	}
	return &ResultError{Result: r}
}
