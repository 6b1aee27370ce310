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

func (q *Queue) checkSend(item []byte, wait kernel.Ticks, pos Position) bool {
	return kernel.Assertf(len(item) >= q.itemSize, "item of %d bytes sent to %v of %d byte items", len(item), q, q.itemSize) &&
		kernel.Assertf(pos >= Back && pos <= Overwrite, "bad position %v", pos) &&
		kernel.Assertf(pos != Overwrite || q.length == 1, "overwrite on %v of length %d", q, q.length) &&
		q.checkBlockingCall(wait)
}

// Send copies item into q at pos, waiting at most wait ticks for room. Only
// the first ItemSize bytes of item are used. It returns ErrFull if q stayed
// full for the whole budget.
func (q *Queue) Send(item []byte, wait kernel.Ticks, pos Position) error {
	if !kernel.Assertf(!q.isMutex(), "Send on %v, use Give", q) || !q.checkSend(item, wait, pos) {
		return ErrInvalidConfig
	}
	return q.send(item, wait, pos)
}

// SendToBack is Send(item, wait, Back).
func (q *Queue) SendToBack(item []byte, wait kernel.Ticks) error {
	return q.Send(item, wait, Back)
}

// SendToFront is Send(item, wait, Front).
func (q *Queue) SendToFront(item []byte, wait kernel.Ticks) error {
	return q.Send(item, wait, Front)
}

// Overwrite replaces the item of a length 1 queue. It never blocks.
func (q *Queue) Overwrite(item []byte) error {
	return q.Send(item, 0, Overwrite)
}

// notifyReceivers signals that an item arrived: through the set q belongs to,
// or to the most urgent task waiting on q. prev is the count before the item
// arrived. It returns true if a context switch is due.
//
// Preconditions: interrupts are masked; q is not locked.
func (q *Queue) notifyReceivers(pos Position, prev int) bool {
	if q.container != nil {
		// Overwriting an item already announced to the set is not news.
		if pos == Overwrite && prev != 0 {
			return false
		}
		return q.notifySetContainer()
	}
	if q.waitingToReceive.Empty() {
		return false
	}
	return q.sched.RemoveFromEventList(&q.waitingToReceive)
}

// send is the generic send, also used to give semaphores and mutexes.
func (q *Queue) send(item []byte, wait kernel.Ticks, pos Position) error {
	s := q.sched
	var to kernel.TimeOut
	timeoutSet := false
	for {
		s.EnterCritical()
		if q.count < q.length || pos == Overwrite {
			prev := q.count
			yield := q.copyDataToQueue(item, pos)
			if q.notifyReceivers(pos, prev) {
				yield = true
			}
			s.ExitCritical()
			if yield {
				s.Yield()
			}
			return nil
		}
		if wait == 0 {
			s.ExitCritical()
			return ErrFull
		}
		if !timeoutSet {
			s.SetTimeOut(&to)
			timeoutSet = true
		}
		s.ExitCritical()

		if q.block(&q.waitingToSend, &to, &wait, q.isFull, nil) == waitTimedOut && q.isFull() {
			return ErrFull
		}
	}
}

// SendFromISR is Send for interrupt handlers. It never blocks. If q is
// locked, waking a receiver is left to the task that unlocks it. woken
// reports whether a task more urgent than the interrupted one was readied.
func (q *Queue) SendFromISR(item []byte, pos Position) (woken bool, err error) {
	if !kernel.Assertf(!q.isMutex(), "SendFromISR on %v", q) || !q.checkSend(item, 0, pos) {
		return false, ErrInvalidConfig
	}
	s := q.sched
	m := s.MaskInterrupts()
	defer s.UnmaskInterrupts(m)
	if q.count >= q.length && pos != Overwrite {
		return false, ErrFull
	}
	txLock := q.txLock
	prev := q.count
	q.copyDataToQueue(item, pos)
	if txLock != unlocked {
		q.incrementLock(&q.txLock)
		return false, nil
	}
	return q.notifyReceivers(pos, prev), nil
}
