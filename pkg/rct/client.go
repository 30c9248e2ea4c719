// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"errors"
	"fmt"
	"math"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ErrWouldBlock is returned by Transport.Receive when no data is available
// right now. It is a normal outcome, not a failure.
var ErrWouldBlock = errors.New("rct: operation would block")

// Transport is the non-blocking byte stream a Client talks over.
type Transport interface {
	// Send writes all of p or returns an error.
	Send(p []byte) error
	// Receive reads available bytes into p. It returns (0, nil) when the
	// peer closed the stream and ErrWouldBlock when nothing is available.
	Receive(p []byte) (int, error)
	// Connected reports whether the stream is currently usable.
	Connected() bool
}

// DisconnectReason tells the connection layer why the Client gave up on
// the transport.
type DisconnectReason int

// Disconnect reasons
const (
	ReasonSendFailed DisconnectReason = iota
	ReasonReceiveFailed
	ReasonPeerClosed
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonSendFailed:
		return "SocketSendFailed"
	case ReasonReceiveFailed:
		return "SocketReceiveFailed"
	case ReasonPeerClosed:
		return "DisconnectedByPeer"
	}
	return "<Unknown>"
}

// Disconnector is notified about transport-fatal conditions. err is nil
// when the peer closed the stream.
type Disconnector func(reason DisconnectReason, err error)

// Errno extracts the OS error code from err, or -1 if it carries none.
func Errno(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return -1
}

// Clock supplies monotonic time to the Client.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Client
type Option func(*Client)

// WithClock replaces the system clock
func WithClock(clock Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLogger sets the debug logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithDisconnector sets the transport failure callback
func WithDisconnector(d Disconnector) Option {
	return func(c *Client) { c.disconnect = d }
}

// WithQueueCapacity sets how many reads may wait behind the pending one
func WithQueueCapacity(n int) Option {
	return func(c *Client) { c.queueCapacity = n }
}

// WithReceiveBudget sets how long one DriveInbound call may keep reading
func WithReceiveBudget(d time.Duration) Option {
	return func(c *Client) { c.budget = d }
}

// WithStatistics shares a statistics tracker with the Client
func WithStatistics(s *Statistics) Option {
	return func(c *Client) { c.stats = s }
}

// Client schedules reads over a Transport. See the package documentation
// for the calling contract.
type Client struct {
	transport     Transport
	clock         Clock
	log           zerolog.Logger
	disconnect    Disconnector
	budget        time.Duration
	queueCapacity int
	stats         *Statistics

	decoder    *Decoder
	bootloader BootloaderDetector
	queue      *transactionQueue
	pending    *transaction
	deadline   time.Time
	rxBuf      [64]byte
}

// NewClient creates a Client on top of transport
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport:     transport,
		clock:         systemClock{},
		log:           zerolog.Nop(),
		budget:        ReceiveBudget,
		queueCapacity: MaxScheduledTransactions,
		decoder:       NewDecoder(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stats == nil {
		c.stats = NewStatistics()
	}
	c.queue = newTransactionQueue(c.queueCapacity)
	return c
}

func nan() float32 { return float32(math.NaN()) }

func hexID(id uint32) string { return fmt.Sprintf("0x%08X", id) }

// Submit schedules a read of object id. The callback is always invoked
// exactly once: synchronously when the request is rejected, otherwise from
// a later DriveOutbound, DriveInbound or OnConnectionClosed call.
// A nil callback cannot be told anything and the request is dropped.
func (c *Client) Submit(id uint32, timeout time.Duration, cb Callback) {
	if cb == nil {
		c.log.Warn().Str("id", hexID(id)).Msg("read submitted without callback, ignoring")
		return
	}

	var result Result
	switch {
	case timeout < 0:
		result = InvalidArgument
	case !c.transport.Connected():
		result = NotConnected
	default:
		if c.queue.push(transaction{id: id, timeout: timeout, callback: cb}) {
			return
		}
		result = NoTransactionAvailable
	}

	c.log.Debug().Str("id", hexID(id)).Stringer("result", result).Msg("read rejected")
	c.stats.recordResult(result)
	cb(result, nan())
}

// DriveOutbound expires the pending read if its deadline passed, then
// sends the next queued read if nothing is pending.
func (c *Client) DriveOutbound() {
	c.checkPendingTimeout()

	if c.pending != nil {
		return
	}
	t, ok := c.queue.pop()
	if !ok {
		return
	}

	c.pending = &t
	c.deadline = c.clock.Now().Add(t.timeout)

	if err := c.transport.Send(EncodeReadRequest(t.id)); err != nil {
		c.log.Debug().Err(err).Str("id", hexID(t.id)).Msg("send failed")
		c.finishPending(SendFailed, nan())
		c.notifyDisconnect(ReasonSendFailed, err)
		return
	}
	c.stats.RequestsSent++
}

// DriveInbound reads whatever the transport has, for at most the receive
// budget, and resolves the pending read when its response is complete.
// Returns true if any bytes were processed.
func (c *Client) DriveInbound() bool {
	deadline := c.clock.Now().Add(c.budget)
	didWork := false

	for c.clock.Now().Before(deadline) {
		n, err := c.transport.Receive(c.rxBuf[:])
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return didWork
			}
			c.log.Debug().Err(err).Msg("receive failed")
			c.finishPending(ReceiveFailed, nan())
			c.notifyDisconnect(ReasonReceiveFailed, err)
			return didWork
		}
		if n == 0 {
			c.log.Debug().Msg("disconnected by peer")
			c.finishPending(DisconnectedByPeer, nan())
			c.notifyDisconnect(ReasonPeerClosed, nil)
			return didWork
		}

		didWork = true
		for _, b := range c.rxBuf[:n] {
			c.receiveByte(b)
		}
	}

	return didWork
}

// OnConnectionClosed resets all protocol state and aborts every pending
// and queued read.
func (c *Client) OnConnectionClosed() {
	c.decoder.Reset()
	c.bootloader.Reset()
	c.finishAll(Aborted)
}

// Pending returns the id of the read currently on the wire
func (c *Client) Pending() (uint32, bool) {
	if c.pending == nil {
		return 0, false
	}
	return c.pending.id, true
}

// Queued returns the number of reads waiting behind the pending one
func (c *Client) Queued() int {
	return c.queue.Len()
}

// LastBootloaderDetected returns when the bootloader magic was last seen
func (c *Client) LastBootloaderDetected() time.Time {
	return c.bootloader.LastDetected()
}

// Statistics returns the Client's statistics tracker
func (c *Client) Statistics() *Statistics {
	return c.stats
}

func (c *Client) receiveByte(b byte) {
	c.stats.BytesReceived++

	now := c.clock.Now()
	if c.bootloader.Feed(b, now) {
		c.stats.BootloaderDetections++
		c.log.Info().Msg("bootloader magic number detected")
	}

	frame, err := c.decoder.DecodeByteAt(b, now)
	if err != nil {
		c.stats.recordDecodeError(err)
		c.log.Debug().Err(err).Msg("response stream out of sync")
		return
	}
	if frame != nil {
		c.dispatch(frame)
	}
}

// dispatch resolves a complete frame against the pending read. Frames for
// any other id are late answers to reads that already finished and are
// dropped without touching the pending read or its deadline.
func (c *Client) dispatch(frame *Frame) {
	id := frame.ID()

	if c.pending == nil || c.pending.id != id {
		c.stats.StaleResponses++
		c.log.Debug().Str("id", hexID(id)).Msg("response does not match pending read, ignoring")
		return
	}

	if !frame.Valid() {
		c.log.Debug().
			Str("id", hexID(id)).
			Hex("frame", frame.Bytes()).
			Str("actual", fmt.Sprintf("0x%04X", frame.CalculatedCRC())).
			Str("expected", fmt.Sprintf("0x%04X", frame.CRC())).
			Msg("response checksum mismatch")
		c.finishPending(ChecksumMismatch, nan())
		return
	}

	c.log.Debug().Str("id", hexID(id)).Float32("value", frame.Value()).Msg("response received")
	c.finishPending(Success, frame.Value())
}

func (c *Client) checkPendingTimeout() {
	if c.pending != nil && !c.clock.Now().Before(c.deadline) {
		c.log.Debug().Str("id", hexID(c.pending.id)).Msg("read timed out")
		c.finishPending(Timeout, nan())
	}
}

// finishPending clears the pending slot before running the callback, so
// the callback may submit again.
func (c *Client) finishPending(result Result, value float32) {
	t := c.pending
	if t == nil {
		return
	}
	c.pending = nil
	c.deadline = time.Time{}
	c.stats.recordResult(result)
	c.complete(t, result, value)
}

func (c *Client) finishAll(result Result) {
	c.finishPending(result, nan())

	for _, t := range c.queue.drain() {
		c.stats.recordResult(result)
		c.complete(&t, result, nan())
	}
}

// complete finishes t. A transaction is only ever finished from one slot,
// so a second finish is a bookkeeping bug worth a log line.
func (c *Client) complete(t *transaction, result Result, value float32) {
	if !t.finish(result, value) {
		c.log.Debug().Str("id", hexID(t.id)).Stringer("result", result).Msg("BUG: transaction already finished")
	}
}

func (c *Client) notifyDisconnect(reason DisconnectReason, err error) {
	c.log.Debug().Stringer("reason", reason).Int("errno", Errno(err)).Msg("requesting disconnect")
	if c.disconnect != nil {
		c.disconnect(reason, err)
	}
}
