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
	"rtos.dev/kqueue/pkg/klist"
)

// lock marks q as locked so that interrupt handlers defer wait list updates.
func (q *Queue) lock() {
	q.sched.EnterCritical()
	if q.rxLock == unlocked {
		q.rxLock = lockedUnmodified
	}
	if q.txLock == unlocked {
		q.txLock = lockedUnmodified
	}
	q.sched.ExitCritical()
}

// unlock performs the wakeups interrupt handlers deferred while q was locked,
// one per counted event, and marks q unlocked.
//
// Preconditions: the scheduler is suspended.
func (q *Queue) unlock() {
	s := q.sched

	// Items added while locked.
	s.EnterCritical()
	for tx := q.txLock; tx > lockedUnmodified; tx-- {
		if q.container != nil {
			if q.notifySetContainer() {
				s.MissedYield()
			}
			continue
		}
		if q.waitingToReceive.Empty() {
			break
		}
		if s.RemoveFromEventList(&q.waitingToReceive) {
			s.MissedYield()
		}
	}
	q.txLock = unlocked
	s.ExitCritical()

	// Items removed while locked.
	s.EnterCritical()
	for rx := q.rxLock; rx > lockedUnmodified; rx-- {
		if q.waitingToSend.Empty() {
			break
		}
		if s.RemoveFromEventList(&q.waitingToSend) {
			s.MissedYield()
		}
	}
	q.rxLock = unlocked
	s.ExitCritical()
}

// incrementLock records one deferred event. The count never exceeds the
// number of tasks, since no more wakeups than that can be useful.
//
// Preconditions: interrupts are masked.
func (q *Queue) incrementLock(l *lockState) {
	if int(*l) < q.sched.TaskCount() {
		*l++
	}
}

// waitResult is the outcome of one pass through the blocking path.
type waitResult int

const (
	// waitRetry means the task blocked and was woken, or the condition it
	// would block on cleared first. The operation is retried.
	waitRetry waitResult = iota

	// waitTimedOut means the wait budget is spent.
	waitTimedOut
)

// block is the slow path shared by all blocking operations. With the
// scheduler suspended and q locked it checks the timeout and whether the
// caller still has to wait, then puts the current task on list for the rest
// of the budget. beforeBlock, if not nil, runs with interrupts masked right
// before the task is placed on list.
func (q *Queue) block(list *klist.List, to *kernel.TimeOut, remaining *kernel.Ticks, mustWait func() bool, beforeBlock func()) waitResult {
	s := q.sched
	s.SuspendAll()
	q.lock()

	if s.CheckForTimeOut(to, remaining) {
		q.unlock()
		s.ResumeAll()
		return waitTimedOut
	}
	if !mustWait() {
		q.unlock()
		s.ResumeAll()
		return waitRetry
	}
	if beforeBlock != nil {
		s.EnterCritical()
		beforeBlock()
		s.ExitCritical()
	}
	s.PlaceOnEventList(list, *remaining)

	// unlock may ready this very task again.
	q.unlock()
	if !s.ResumeAll() {
		s.Yield()
	}
	return waitRetry
}

// checkBlockingCall asserts that a call which may block is not made from an
// interrupt handler.
func (q *Queue) checkBlockingCall(wait kernel.Ticks) bool {
	return kernel.Assertf(wait == 0 || !q.sched.InInterrupt(), "blocking call on %v from interrupt context", q)
}
