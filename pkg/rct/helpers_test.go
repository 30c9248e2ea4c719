// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"encoding/binary"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// manualClock only moves when told to
type manualClock struct {
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeTransport records sent frames and replays scripted receive chunks
type fakeTransport struct {
	connected bool
	sent      [][]byte
	rx        [][]byte
	sendErr   error
	recvErr   error
	closed    bool

	// onSend, if set, runs after every successful Send
	onSend func(p []byte)
	// onReceive, if set, runs at the start of every Receive
	onReceive func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true}
}

func (f *fakeTransport) Connected() bool { return f.connected }

func (f *fakeTransport) Send(p []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	if f.onSend != nil {
		f.onSend(p)
	}
	return nil
}

func (f *fakeTransport) Receive(p []byte) (int, error) {
	if f.onReceive != nil {
		f.onReceive()
	}
	if f.recvErr != nil {
		return 0, f.recvErr
	}
	if len(f.rx) == 0 {
		if f.closed {
			return 0, nil
		}
		return 0, ErrWouldBlock
	}
	n := copy(p, f.rx[0])
	if n == len(f.rx[0]) {
		f.rx = f.rx[1:]
	} else {
		f.rx[0] = f.rx[0][n:]
	}
	return n, nil
}

// push queues bytes to be received
func (f *fakeTransport) push(b []byte) {
	f.rx = append(f.rx, append([]byte(nil), b...))
}

// lastSentID decodes the object id of the most recent request
func (f *fakeTransport) lastSentID(t *testing.T) uint32 {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	raw, err := UnstuffBytes(f.sent[len(f.sent)-1][1:])
	if err != nil {
		t.Fatalf("unstuff: %v", err)
	}
	return binary.BigEndian.Uint32(raw[2:6])
}

// completion captures callback invocations
type completion struct {
	id     uint32
	result Result
	value  float32
}

type recorder struct {
	calls []completion
}

func (r *recorder) callback(id uint32) Callback {
	return func(result Result, value float32) {
		r.calls = append(r.calls, completion{id: id, result: result, value: value})
	}
}

func (r *recorder) results() []Result {
	out := make([]Result, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.result
	}
	return out
}
