// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rct

import "time"

// Callback receives the terminal result of a read. value is NaN unless
// result is Success. It is invoked exactly once per accepted submission.
type Callback func(result Result, value float32)

// transaction is one logical read request.
type transaction struct {
	id       uint32
	timeout  time.Duration
	callback Callback
}

// finish hands the result to the callback and clears it, so a second
// finish on a copy of the same record cannot fire it again. Returns false
// if the callback had already fired.
func (t *transaction) finish(result Result, value float32) bool {
	cb := t.callback
	if cb == nil {
		return false
	}
	t.callback = nil
	cb(result, value)
	return true
}

// transactionQueue is a fixed-capacity FIFO ring of waiting transactions.
type transactionQueue struct {
	items []transaction
	head  int
	count int
}

func newTransactionQueue(capacity int) *transactionQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &transactionQueue{items: make([]transaction, capacity)}
}

func (q *transactionQueue) Len() int { return q.count }
func (q *transactionQueue) Cap() int { return len(q.items) }

// push appends t at the tail. Returns false when the queue is full.
func (q *transactionQueue) push(t transaction) bool {
	if q.count == len(q.items) {
		return false
	}
	q.items[(q.head+q.count)%len(q.items)] = t
	q.count++
	return true
}

// pop removes and returns the head.
func (q *transactionQueue) pop() (transaction, bool) {
	if q.count == 0 {
		return transaction{}, false
	}
	t := q.items[q.head]
	q.items[q.head] = transaction{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return t, true
}

// drain empties the queue and returns its contents in FIFO order.
func (q *transactionQueue) drain() []transaction {
	out := make([]transaction, 0, q.count)
	for {
		t, ok := q.pop()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}
