// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"rtos.dev/kqueue/pkg/kernel"
)

func (q *Queue) checkReceive(buf []byte, wait kernel.Ticks) bool {
	return kernel.Assertf(!q.isMutex(), "receive on %v, use Take", q) &&
		kernel.Assertf(len(buf) >= q.itemSize, "buffer of %d bytes for %v of %d byte items", len(buf), q, q.itemSize) &&
		q.checkBlockingCall(wait)
}

// Receive moves the oldest item of q into buf, waiting at most wait ticks for
// one to arrive. It returns ErrEmpty if q stayed empty for the whole budget.
func (q *Queue) Receive(buf []byte, wait kernel.Ticks) error {
	if !q.checkReceive(buf, wait) {
		return ErrInvalidConfig
	}
	return q.receive(buf, wait, false)
}

// Peek is like Receive but leaves the item in q.
func (q *Queue) Peek(buf []byte, wait kernel.Ticks) error {
	if !q.checkReceive(buf, wait) {
		return ErrInvalidConfig
	}
	return q.receive(buf, wait, true)
}

func (q *Queue) receive(buf []byte, wait kernel.Ticks, peek bool) error {
	s := q.sched
	var to kernel.TimeOut
	timeoutSet := false
	for {
		s.EnterCritical()
		if q.count > 0 {
			yield := false
			if peek {
				readFrom := q.readFrom
				q.copyDataFromQueue(buf)
				q.readFrom = readFrom

				// The item is still there for other receivers.
				if !q.waitingToReceive.Empty() && s.RemoveFromEventList(&q.waitingToReceive) {
					yield = true
				}
			} else {
				q.copyDataFromQueue(buf)
				q.count--
				if !q.waitingToSend.Empty() && s.RemoveFromEventList(&q.waitingToSend) {
					yield = true
				}
			}
			s.ExitCritical()
			if yield {
				s.Yield()
			}
			return nil
		}
		if wait == 0 {
			s.ExitCritical()
			return ErrEmpty
		}
		if !timeoutSet {
			s.SetTimeOut(&to)
			timeoutSet = true
		}
		s.ExitCritical()

		if q.block(&q.waitingToReceive, &to, &wait, q.isEmpty, nil) == waitTimedOut && q.isEmpty() {
			return ErrEmpty
		}
	}
}

// ReceiveFromISR is Receive for interrupt handlers. It never blocks. woken
// reports whether a task more urgent than the interrupted one was readied.
func (q *Queue) ReceiveFromISR(buf []byte) (woken bool, err error) {
	if !q.checkReceive(buf, 0) {
		return false, ErrInvalidConfig
	}
	return q.receiveFromISR(buf)
}

func (q *Queue) receiveFromISR(buf []byte) (bool, error) {
	s := q.sched
	m := s.MaskInterrupts()
	defer s.UnmaskInterrupts(m)
	if q.count == 0 {
		return false, ErrEmpty
	}
	rxLock := q.rxLock
	q.copyDataFromQueue(buf)
	q.count--
	if rxLock != unlocked {
		q.incrementLock(&q.rxLock)
		return false, nil
	}
	if q.waitingToSend.Empty() {
		return false, nil
	}
	return s.RemoveFromEventList(&q.waitingToSend), nil
}

// PeekFromISR copies the oldest item of q into buf without removing it.
func (q *Queue) PeekFromISR(buf []byte) error {
	if !kernel.Assertf(q.itemSize != 0, "PeekFromISR on %v without items", q) || !q.checkReceive(buf, 0) {
		return ErrInvalidConfig
	}
	s := q.sched
	m := s.MaskInterrupts()
	defer s.UnmaskInterrupts(m)
	if q.count == 0 {
		return ErrEmpty
	}
	readFrom := q.readFrom
	q.copyDataFromQueue(buf)
	q.readFrom = readFrom
	return nil
}
