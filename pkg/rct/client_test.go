// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import (
	"bytes"
	"errors"
	"math"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clientEnv struct {
	transport   *fakeTransport
	clock       *manualClock
	client      *Client
	rec         *recorder
	disconnects []DisconnectReason
	errs        []error
}

func newClientEnv(t *testing.T, opts ...Option) *clientEnv {
	env := &clientEnv{
		transport: newFakeTransport(),
		clock:     newManualClock(),
		rec:       &recorder{},
	}
	opts = append([]Option{
		WithClock(env.clock),
		WithDisconnector(func(reason DisconnectReason, err error) {
			env.disconnects = append(env.disconnects, reason)
			env.errs = append(env.errs, err)
		}),
	}, opts...)
	env.client = NewClient(env.transport, opts...)
	return env
}

func (env *clientEnv) submit(id uint32, timeout time.Duration) {
	env.client.Submit(id, timeout, env.rec.callback(id))
}

func TestClient_ReadSuccess(t *testing.T) {
	env := newClientEnv(t)
	env.submit(0x959930BF, time.Second)

	assert.Empty(t, env.transport.sent, "nothing is sent before the first tick")
	env.client.DriveOutbound()

	require.Len(t, env.transport.sent, 1)
	assert.Equal(t, EncodeReadRequest(0x959930BF), env.transport.sent[0])
	id, ok := env.client.Pending()
	require.True(t, ok)
	assert.Equal(t, uint32(0x959930BF), id)

	env.transport.push(EncodeResponse(0x959930BF, 0.5))
	assert.True(t, env.client.DriveInbound())

	require.Len(t, env.rec.calls, 1)
	assert.Equal(t, Success, env.rec.calls[0].result)
	assert.Equal(t, float32(0.5), env.rec.calls[0].value)
	_, ok = env.client.Pending()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), env.client.Statistics().Responses)
}

func TestClient_ResponseSplitAcrossReads(t *testing.T) {
	env := newClientEnv(t)
	env.submit(0x2B2D2B2D, time.Second)
	env.client.DriveOutbound()

	wire := EncodeResponse(0x2B2D2B2D, 12.5)
	for i, b := range wire {
		env.transport.push([]byte{b})
		env.client.DriveInbound()
		if i < len(wire)-1 {
			require.Empty(t, env.rec.calls)
		}
	}
	require.Len(t, env.rec.calls, 1)
	assert.Equal(t, Success, env.rec.calls[0].result)
	assert.Equal(t, float32(12.5), env.rec.calls[0].value)
}

func TestClient_DriveInboundNoData(t *testing.T) {
	env := newClientEnv(t)
	assert.False(t, env.client.DriveInbound())
	assert.Empty(t, env.disconnects)
}

func TestClient_SubmitRejections(t *testing.T) {
	t.Run("negative timeout", func(t *testing.T) {
		env := newClientEnv(t)
		env.submit(1, -time.Millisecond)
		require.Len(t, env.rec.calls, 1)
		assert.Equal(t, InvalidArgument, env.rec.calls[0].result)
		assert.True(t, math.IsNaN(float64(env.rec.calls[0].value)))
		assert.Zero(t, env.client.Queued())
	})

	t.Run("not connected", func(t *testing.T) {
		env := newClientEnv(t)
		env.transport.connected = false
		env.submit(1, time.Second)
		require.Len(t, env.rec.calls, 1)
		assert.Equal(t, NotConnected, env.rec.calls[0].result)
		assert.Zero(t, env.client.Queued())
	})

	t.Run("nil callback", func(t *testing.T) {
		env := newClientEnv(t)
		assert.NotPanics(t, func() { env.client.Submit(1, time.Second, nil) })
		assert.Zero(t, env.client.Queued())
	})

	t.Run("zero timeout accepted", func(t *testing.T) {
		env := newClientEnv(t)
		env.submit(1, 0)
		assert.Empty(t, env.rec.calls)
		assert.Equal(t, 1, env.client.Queued())
	})
}

func TestClient_QueueBound(t *testing.T) {
	env := newClientEnv(t)

	env.submit(0, time.Hour)
	env.client.DriveOutbound()
	_, ok := env.client.Pending()
	require.True(t, ok)

	for i := 1; i <= MaxScheduledTransactions+1; i++ {
		env.submit(uint32(i), time.Hour)
	}

	require.Len(t, env.rec.calls, 1, "only the request beyond capacity completes synchronously")
	assert.Equal(t, uint32(MaxScheduledTransactions+1), env.rec.calls[0].id)
	assert.Equal(t, NoTransactionAvailable, env.rec.calls[0].result)
	assert.Equal(t, MaxScheduledTransactions, env.client.Queued())
}

func TestClient_QueueCapacityOption(t *testing.T) {
	env := newClientEnv(t, WithQueueCapacity(2))
	env.submit(1, time.Hour)
	env.submit(2, time.Hour)
	env.submit(3, time.Hour)

	require.Len(t, env.rec.calls, 1)
	assert.Equal(t, uint32(3), env.rec.calls[0].id)
	assert.Equal(t, NoTransactionAvailable, env.rec.calls[0].result)
}

func TestClient_FIFOOrder(t *testing.T) {
	env := newClientEnv(t)
	values := map[uint32]float32{0x10: 1, 0x20: 2, 0x30: 3}

	// respond correctly to whichever id was sent last
	env.transport.onSend = func(p []byte) {
		id := env.transport.lastSentID(t)
		env.transport.push(EncodeResponse(id, values[id]))
	}

	env.submit(0x10, time.Second)
	env.submit(0x20, time.Second)
	env.submit(0x30, time.Second)

	for i := 0; i < 10 && len(env.rec.calls) < 3; i++ {
		env.client.DriveOutbound()
		env.client.DriveInbound()
	}

	require.Len(t, env.rec.calls, 3)
	for i, id := range []uint32{0x10, 0x20, 0x30} {
		assert.Equal(t, id, env.rec.calls[i].id)
		assert.Equal(t, Success, env.rec.calls[i].result)
		assert.Equal(t, values[id], env.rec.calls[i].value)
	}
}

func TestClient_OnlyOneRequestOnWire(t *testing.T) {
	env := newClientEnv(t)
	env.submit(1, time.Second)
	env.submit(2, time.Second)

	env.client.DriveOutbound()
	env.client.DriveOutbound()
	env.client.DriveOutbound()

	assert.Len(t, env.transport.sent, 1)
	assert.Equal(t, 1, env.client.Queued())
}

func TestClient_Timeout(t *testing.T) {
	env := newClientEnv(t)
	env.submit(1, 100*time.Millisecond)
	env.client.DriveOutbound()

	env.clock.Advance(99 * time.Millisecond)
	env.client.DriveOutbound()
	require.Empty(t, env.rec.calls)

	env.clock.Advance(time.Millisecond)
	env.client.DriveOutbound()
	require.Len(t, env.rec.calls, 1)
	assert.Equal(t, Timeout, env.rec.calls[0].result)
	assert.Equal(t, uint64(1), env.client.Statistics().Timeouts)
}

func TestClient_DeadlineStartsAtPromotion(t *testing.T) {
	env := newClientEnv(t)
	env.submit(1, 100*time.Millisecond)

	// time spent waiting in the queue does not count
	env.clock.Advance(time.Hour)
	env.client.DriveOutbound()

	env.clock.Advance(50 * time.Millisecond)
	env.client.DriveOutbound()
	assert.Empty(t, env.rec.calls)
	_, ok := env.client.Pending()
	assert.True(t, ok)
}

func TestClient_StaleResponseDiscarded(t *testing.T) {
	env := newClientEnv(t)
	env.submit(0xA, 100*time.Millisecond)
	env.submit(0xB, 100*time.Millisecond)

	env.client.DriveOutbound()
	env.clock.Advance(100 * time.Millisecond)
	env.client.DriveOutbound() // A times out, B is promoted and sent

	require.Len(t, env.rec.calls, 1)
	assert.Equal(t, Timeout, env.rec.calls[0].result)
	assert.Equal(t, uint32(0xB), env.transport.lastSentID(t))

	env.transport.push(EncodeResponse(0xA, 1))
	env.client.DriveInbound()

	require.Len(t, env.rec.calls, 1, "late response for A must not complete B")
	id, ok := env.client.Pending()
	require.True(t, ok)
	assert.Equal(t, uint32(0xB), id)
	assert.Equal(t, uint64(1), env.client.Statistics().StaleResponses)

	// the stale frame does not extend B's deadline either
	env.clock.Advance(100 * time.Millisecond)
	env.client.DriveOutbound()
	require.Len(t, env.rec.calls, 2)
	assert.Equal(t, uint32(0xB), env.rec.calls[1].id)
	assert.Equal(t, Timeout, env.rec.calls[1].result)
}

func TestClient_ResponseWithoutPending(t *testing.T) {
	env := newClientEnv(t)
	env.transport.push(EncodeResponse(1, 1))
	assert.True(t, env.client.DriveInbound())
	assert.Empty(t, env.rec.calls)
	assert.Equal(t, uint64(1), env.client.Statistics().StaleResponses)
}

func TestClient_ChecksumMismatch(t *testing.T) {
	for bit := 0; bit < 16; bit++ {
		env := newClientEnv(t)
		env.submit(0x1234, time.Second)
		env.client.DriveOutbound()

		raw := BuildResponse(0x1234, 7)
		raw[10+bit/8] ^= 1 << uint(bit%8)
		env.transport.push(append([]byte{StartByte}, StuffBytes(raw[:])...))
		env.client.DriveInbound()

		require.Len(t, env.rec.calls, 1, "bit=%d", bit)
		assert.Equal(t, ChecksumMismatch, env.rec.calls[0].result, "bit=%d", bit)

		// decoder recovers for the next well-formed frame
		env.submit(0x5678, time.Second)
		env.client.DriveOutbound()
		env.transport.push(EncodeResponse(0x5678, 8))
		env.client.DriveInbound()

		require.Len(t, env.rec.calls, 2, "bit=%d", bit)
		assert.Equal(t, Success, env.rec.calls[1].result, "bit=%d", bit)
		assert.Equal(t, float32(8), env.rec.calls[1].value)
	}
}

func TestClient_GarbageBeforeResponse(t *testing.T) {
	env := newClientEnv(t)
	env.submit(0x99, time.Second)
	env.client.DriveOutbound()

	env.transport.push([]byte{StartByte, 0x01, 0x00, StartByte, CmdResponse, 0x03})
	env.transport.push(EncodeResponse(0x99, 4))
	env.client.DriveInbound()

	require.Len(t, env.rec.calls, 1)
	assert.Equal(t, Success, env.rec.calls[0].result)
	assert.Equal(t, uint64(2), env.client.Statistics().DecodeErrors)
}

func TestClient_Teardown(t *testing.T) {
	env := newClientEnv(t)
	const queued = 5

	env.submit(100, time.Hour)
	env.client.DriveOutbound()
	for i := 0; i < queued; i++ {
		env.submit(uint32(i), time.Hour)
	}

	// leave the decoder mid-frame
	env.transport.push([]byte{StartByte, CmdResponse, ResponseLength, 0x00})
	env.client.DriveInbound()

	env.client.OnConnectionClosed()

	require.Len(t, env.rec.calls, queued+1)
	for _, c := range env.rec.calls {
		assert.Equal(t, Aborted, c.result)
	}
	_, ok := env.client.Pending()
	assert.False(t, ok)
	assert.Zero(t, env.client.Queued())

	// a second teardown has nothing left to abort
	env.client.OnConnectionClosed()
	assert.Len(t, env.rec.calls, queued+1)

	// and the decoder starts clean
	env.submit(7, time.Hour)
	env.client.DriveOutbound()
	env.transport.push(EncodeResponse(7, 1))
	env.client.DriveInbound()
	require.Len(t, env.rec.calls, queued+2)
	assert.Equal(t, Success, env.rec.calls[queued+1].result)
}

func TestClient_SendFailure(t *testing.T) {
	env := newClientEnv(t)
	env.transport.sendErr = syscall.EPIPE
	env.submit(1, time.Second)
	env.client.DriveOutbound()

	require.Len(t, env.rec.calls, 1)
	assert.Equal(t, SendFailed, env.rec.calls[0].result)
	require.Equal(t, []DisconnectReason{ReasonSendFailed}, env.disconnects)
	assert.Equal(t, int(syscall.EPIPE), Errno(env.errs[0]))
	_, ok := env.client.Pending()
	assert.False(t, ok)
}

func TestClient_ReceiveFailure(t *testing.T) {
	env := newClientEnv(t)
	env.submit(1, time.Second)
	env.client.DriveOutbound()

	env.transport.recvErr = syscall.ECONNRESET
	env.client.DriveInbound()

	require.Len(t, env.rec.calls, 1)
	assert.Equal(t, ReceiveFailed, env.rec.calls[0].result)
	assert.Equal(t, []DisconnectReason{ReasonReceiveFailed}, env.disconnects)
	assert.Equal(t, int(syscall.ECONNRESET), Errno(env.errs[0]))
}

func TestClient_PeerClosed(t *testing.T) {
	env := newClientEnv(t)
	env.submit(1, time.Second)
	env.client.DriveOutbound()

	env.transport.closed = true
	env.client.DriveInbound()

	require.Len(t, env.rec.calls, 1)
	assert.Equal(t, DisconnectedByPeer, env.rec.calls[0].result)
	assert.Equal(t, []DisconnectReason{ReasonPeerClosed}, env.disconnects)
	assert.Nil(t, env.errs[0])
	assert.Equal(t, -1, Errno(env.errs[0]))
}

func TestClient_ReceiveBudget(t *testing.T) {
	env := newClientEnv(t)
	reads := 0
	env.transport.onReceive = func() {
		reads++
		env.clock.Advance(3 * time.Millisecond)
		env.transport.push([]byte{0x00})
	}

	assert.True(t, env.client.DriveInbound())
	assert.Equal(t, 4, reads, "reads stop once the 10ms budget is used up")
}

func TestClient_BootloaderDetection(t *testing.T) {
	env := newClientEnv(t)
	assert.True(t, env.client.LastBootloaderDetected().IsZero())

	env.transport.push([]byte{0x00, 0x50, 0xF7, 0x05, 0xAB, 0x11})
	env.client.DriveInbound()

	assert.Equal(t, env.clock.Now(), env.client.LastBootloaderDetected())
	assert.Equal(t, uint64(1), env.client.Statistics().BootloaderDetections)

	env.client.OnConnectionClosed()
	assert.True(t, env.client.LastBootloaderDetected().IsZero())
}

func TestClient_ResubmitFromCallback(t *testing.T) {
	env := newClientEnv(t)
	var second []Result

	env.client.Submit(1, time.Second, func(result Result, value float32) {
		env.client.Submit(2, time.Second, func(result Result, value float32) {
			second = append(second, result)
		})
	})
	env.client.DriveOutbound()
	env.transport.push(EncodeResponse(1, 1))
	env.client.DriveInbound()

	require.Equal(t, 1, env.client.Queued())
	env.client.DriveOutbound()
	assert.Equal(t, uint32(2), env.transport.lastSentID(t))

	env.transport.push(EncodeResponse(2, 2))
	env.client.DriveInbound()
	assert.Equal(t, []Result{Success}, second)
}

func TestClient_EveryTransactionCompletesOnce(t *testing.T) {
	rng := newFuzzRng(t)

	for round := 0; round < getFuzzRounds()/10; round++ {
		env := newClientEnv(t)
		submitted := 0

		env.transport.onSend = func(p []byte) {
			id := env.transport.lastSentID(t)
			switch rng.Intn(4) {
			case 0: // lost
			case 1: // corrupt
				raw := BuildResponse(id, 1)
				raw[11] ^= 0xFF
				env.transport.push(append([]byte{StartByte}, StuffBytes(raw[:])...))
			default:
				env.transport.push(EncodeResponse(id, float32(id)))
			}
		}

		for step := 0; step < 200; step++ {
			switch rng.Intn(5) {
			case 0:
				env.submit(uint32(submitted), time.Duration(rng.Intn(20))*time.Millisecond)
				submitted++
			case 1:
				env.clock.Advance(time.Duration(rng.Intn(10)) * time.Millisecond)
			case 2:
				env.client.DriveInbound()
			default:
				env.client.DriveOutbound()
			}
		}
		env.client.OnConnectionClosed()

		seen := map[uint32]int{}
		for _, c := range env.rec.calls {
			seen[c.id]++
			if c.result == Success {
				assert.Equal(t, float32(c.id), c.value)
			}
		}
		require.Len(t, seen, submitted, "round %d", round)
		for id, n := range seen {
			require.Equal(t, 1, n, "round %d id %d completed %d times", round, id, n)
		}
	}
}

func TestErrno(t *testing.T) {
	assert.Equal(t, -1, Errno(nil))
	assert.Equal(t, -1, Errno(errors.New("plain")))
	assert.Equal(t, int(syscall.ECONNREFUSED), Errno(syscall.ECONNREFUSED))
}

func TestDisconnectReason_String(t *testing.T) {
	assert.Equal(t, "SocketSendFailed", ReasonSendFailed.String())
	assert.Equal(t, "SocketReceiveFailed", ReasonReceiveFailed.String())
	assert.Equal(t, "DisconnectedByPeer", ReasonPeerClosed.String())
	assert.Equal(t, "<Unknown>", DisconnectReason(99).String())
}

func TestClient_SecondFinishIsLogged(t *testing.T) {
	var logs bytes.Buffer
	env := newClientEnv(t, WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)))

	// A queued record whose callback already fired
	require.True(t, env.client.queue.push(transaction{id: 0x00000001}))
	env.client.OnConnectionClosed()

	assert.Contains(t, logs.String(), "BUG: transaction already finished")
	assert.Contains(t, logs.String(), `"id":"0x00000001"`)
	assert.Zero(t, env.client.Queued())
}
