// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/rs/zerolog"
)

// ErrSessionClosed is returned by Read once the session loop has exited
var ErrSessionClosed = errors.New("session closed")

const (
	minReconnectBackoff = 1 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

// EventKind classifies session events
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventBootloader
)

// Event reports a change of the session's connection state
type Event struct {
	Kind   EventKind
	Time   time.Time
	Info   string
	Reason rct.DisconnectReason
	Err    error
}

func (e Event) String() string {
	switch e.Kind {
	case EventConnected:
		return "Connected: " + e.Info
	case EventDisconnected:
		if e.Err != nil {
			return fmt.Sprintf("Disconnected (%s): %v", e.Reason, e.Err)
		}
		return fmt.Sprintf("Disconnected (%s)", e.Reason)
	case EventBootloader:
		return "Bootloader magic detected"
	}
	return "Unknown event"
}

type readRequest struct {
	id      uint32
	timeout time.Duration
	reply   chan readReply
}

type readReply struct {
	result rct.Result
	value  float32
}

type disconnection struct {
	reason rct.DisconnectReason
	err    error
}

// Session owns one rct.Client and the only goroutine that drives it.
// Other goroutines talk to it through Read and Statistics.
type Session struct {
	dial      dialer
	tick      time.Duration
	log       zerolog.Logger
	reconnect bool

	link     Link
	linkInfo string

	requests   chan readRequest
	statsReq   chan chan rct.Statistics
	events     chan Event
	done       chan struct{}
	stats      *rct.Statistics
	bootloader time.Time
}

// NewSession creates a session that opens links with dial. When reconnect
// is set, Run keeps redialing after the link is lost.
func NewSession(dial dialer, tick time.Duration, log zerolog.Logger, reconnect bool) *Session {
	return &Session{
		dial:      dial,
		tick:      tick,
		log:       log,
		reconnect: reconnect,
		requests:  make(chan readRequest),
		statsReq:  make(chan chan rct.Statistics),
		events:    make(chan Event, 32),
		done:      make(chan struct{}),
		stats:     rct.NewStatistics(),
	}
}

// Connect opens the first link so callers can report connection errors
// before starting Run.
func (s *Session) Connect() (string, error) {
	link, info, err := s.dial()
	if err != nil {
		return "", err
	}
	s.link = link
	s.linkInfo = info
	return info, nil
}

// Events delivers connection state changes. Events are dropped when
// nobody keeps up with the channel.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Read submits a read of object id and waits for its result
func (s *Session) Read(ctx context.Context, id uint32, timeout time.Duration) (float32, error) {
	nan := float32(math.NaN())
	req := readRequest{id: id, timeout: timeout, reply: make(chan readReply, 1)}

	select {
	case s.requests <- req:
	case <-s.done:
		return nan, ErrSessionClosed
	case <-ctx.Done():
		return nan, ctx.Err()
	}

	// The loop always answers a submitted request, Aborted at the latest
	select {
	case r := <-req.reply:
		if r.result != rct.Success {
			return nan, r.result.Err()
		}
		return r.value, nil
	case <-ctx.Done():
		return nan, ctx.Err()
	}
}

// Statistics returns a snapshot of the counters of all links so far
func (s *Session) Statistics(ctx context.Context) (rct.Statistics, error) {
	reply := make(chan rct.Statistics, 1)
	select {
	case s.statsReq <- reply:
	case <-s.done:
		return rct.Statistics{}, ErrSessionClosed
	case <-ctx.Done():
		return rct.Statistics{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return rct.Statistics{}, ctx.Err()
	}
}

// Run drives the protocol until ctx is cancelled, or until the link is
// lost when reconnecting is disabled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	backoff := minReconnectBackoff
	for {
		if s.link == nil {
			link, info, err := s.dial()
			if err != nil {
				if !s.reconnect {
					return err
				}
				s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("connect failed")
				if !s.idle(ctx, backoff) {
					return nil
				}
				backoff = min(backoff*2, maxReconnectBackoff)
				continue
			}
			s.link = link
			s.linkInfo = info
		}

		backoff = minReconnectBackoff
		s.emit(Event{Kind: EventConnected, Info: s.linkInfo})
		s.log.Info().Str("link", s.linkInfo).Msg("connected")

		lost := s.serve(ctx, s.link)
		s.link.Close()
		s.link = nil

		if lost == nil {
			return nil
		}
		s.emit(Event{Kind: EventDisconnected, Reason: lost.reason, Err: lost.err})
		s.log.Warn().Stringer("reason", lost.reason).Err(lost.err).Msg("link lost")

		if !s.reconnect {
			if lost.err != nil {
				return fmt.Errorf("link lost (%s): %w", lost.reason, lost.err)
			}
			return fmt.Errorf("link lost (%s)", lost.reason)
		}
		if !s.idle(ctx, backoff) {
			return nil
		}
	}
}

// serve drives a client on link until the client asks for a disconnect or
// ctx ends. Every outstanding read is finished before it returns.
func (s *Session) serve(ctx context.Context, link Link) *disconnection {
	var lost *disconnection
	client := rct.NewClient(link,
		rct.WithLogger(s.log),
		rct.WithStatistics(s.stats),
		rct.WithDisconnector(func(reason rct.DisconnectReason, err error) {
			if lost == nil {
				lost = &disconnection{reason: reason, err: err}
			}
		}),
	)
	defer client.OnConnectionClosed()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for lost == nil {
		select {
		case <-ctx.Done():
			return nil

		case req := <-s.requests:
			client.Submit(req.id, req.timeout, replyTo(req))
			client.DriveOutbound()

		case reply := <-s.statsReq:
			reply <- *s.stats

		case <-ticker.C:
			client.DriveOutbound()
			client.DriveInbound()

			if seen := client.LastBootloaderDetected(); seen.After(s.bootloader) {
				s.bootloader = seen
				s.emit(Event{Kind: EventBootloader, Time: seen})
			}
		}
	}
	return lost
}

// idle waits out a reconnect backoff, answering reads with NotConnected.
// Returns false when ctx ended.
func (s *Session) idle(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case req := <-s.requests:
			replyTo(req)(rct.NotConnected, float32(math.NaN()))
		case reply := <-s.statsReq:
			reply <- *s.stats
		}
	}
}

func (s *Session) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case s.events <- e:
	default:
	}
}

func replyTo(req readRequest) rct.Callback {
	return func(result rct.Result, value float32) {
		req.reply <- readReply{result: result, value: value}
	}
}
