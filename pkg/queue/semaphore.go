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
	"fmt"

	"rtos.dev/kqueue/pkg/kernel"
)

// NewBinarySemaphore creates a semaphore that is either available or not. It
// starts out taken.
func NewBinarySemaphore(s Scheduler) (*Queue, error) {
	return Create(s, 1, 0, KindBinarySemaphore)
}

// NewCountingSemaphore creates a semaphore counting up to max, starting at
// initial.
func NewCountingSemaphore(s Scheduler, max, initial int) (*Queue, error) {
	if initial < 0 || initial > max {
		return nil, fmt.Errorf("%w: initial count %d, max %d", ErrInvalidConfig, initial, max)
	}
	q, err := Create(s, max, 0, KindCountingSemaphore)
	if err != nil {
		return nil, err
	}
	q.count = initial
	return q, nil
}

// Take decrements the semaphore, waiting at most wait ticks for it to become
// available. Taking a mutex makes the caller its holder; while the caller
// waits for a mutex, the holder runs at the caller's priority if that is
// higher. It returns ErrEmpty if nothing could be taken within the budget.
func (q *Queue) Take(wait kernel.Ticks) error {
	if q.kind == KindRecursiveMutex {
		return q.TakeRecursive(wait)
	}
	if !kernel.Assertf(q.itemSize == 0, "Take on %v of %d byte items", q, q.itemSize) || !q.checkBlockingCall(wait) {
		return ErrInvalidConfig
	}
	return q.semaphoreTake(wait)
}

func (q *Queue) semaphoreTake(wait kernel.Ticks) error {
	s := q.sched
	var to kernel.TimeOut
	timeoutSet := false
	inherited := false
	for {
		s.EnterCritical()
		if q.count > 0 {
			q.count--
			if q.isMutex() {
				q.mutex.holder = s.IncrementMutexHeldCount()
			}
			yield := false
			if !q.waitingToSend.Empty() && s.RemoveFromEventList(&q.waitingToSend) {
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
			return ErrEmpty
		}
		if !timeoutSet {
			s.SetTimeOut(&to)
			timeoutSet = true
		}
		s.ExitCritical()

		var beforeBlock func()
		if q.isMutex() {
			beforeBlock = func() {
				inherited = s.PriorityInherit(q.mutex.holder)
			}
		}
		if q.block(&q.waitingToReceive, &to, &wait, q.isEmpty, beforeBlock) == waitTimedOut {
			s.EnterCritical()
			if q.count > 0 {
				s.ExitCritical()
				continue
			}
			if inherited {
				// The holder no longer needs to run at this task's
				// priority, but may still need to for the tasks left
				// waiting.
				s.PriorityDisinheritAfterTimeout(q.mutex.holder, s.HighestWaitingPriority(&q.waitingToReceive))
			}
			s.ExitCritical()
			return ErrEmpty
		}
	}
}

// Give increments the semaphore, or releases the mutex. It returns ErrFull if
// the semaphore is at its maximum, and ErrNotHeld if the caller does not hold
// the mutex.
func (q *Queue) Give() error {
	switch q.kind {
	case KindRecursiveMutex:
		return q.GiveRecursive()
	case KindMutex:
		if !q.heldByCaller() {
			return ErrNotHeld
		}
	}
	if !kernel.Assertf(q.itemSize == 0, "Give on %v of %d byte items", q, q.itemSize) {
		return ErrInvalidConfig
	}
	return q.send(nil, 0, Back)
}

// GiveFromISR is Give for interrupt handlers. Mutexes cannot be given from
// interrupt context.
func (q *Queue) GiveFromISR() (woken bool, err error) {
	if !kernel.Assertf(q.itemSize == 0, "GiveFromISR on %v of %d byte items", q, q.itemSize) ||
		!kernel.Assertf(!q.isMutex(), "GiveFromISR on %v", q) {
		return false, ErrInvalidConfig
	}
	s := q.sched
	m := s.MaskInterrupts()
	defer s.UnmaskInterrupts(m)
	if q.count >= q.length {
		return false, ErrFull
	}
	txLock := q.txLock
	prev := q.count
	q.count++
	if txLock != unlocked {
		q.incrementLock(&q.txLock)
		return false, nil
	}
	return q.notifyReceivers(Back, prev), nil
}

// TakeFromISR is Take for interrupt handlers. It never blocks, and mutexes
// cannot be taken from interrupt context.
func (q *Queue) TakeFromISR() (woken bool, err error) {
	if !kernel.Assertf(q.itemSize == 0, "TakeFromISR on %v of %d byte items", q, q.itemSize) ||
		!kernel.Assertf(!q.isMutex(), "TakeFromISR on %v", q) {
		return false, ErrInvalidConfig
	}
	return q.receiveFromISR(nil)
}

// SemaphoreCount returns the count of a semaphore. For a mutex it is 1 when
// the mutex is available.
func (q *Queue) SemaphoreCount() int {
	return q.Count()
}
