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

// NewMutex creates an available mutex with priority inheritance.
func NewMutex(s Scheduler) (*Queue, error) {
	return newMutex(s, KindMutex)
}

// NewRecursiveMutex creates an available mutex that its holder can take
// again. It is released when given as many times as it was taken.
func NewRecursiveMutex(s Scheduler) (*Queue, error) {
	return newMutex(s, KindRecursiveMutex)
}

func newMutex(s Scheduler, kind Kind) (*Queue, error) {
	q, err := Create(s, 1, 0, kind)
	if err != nil {
		return nil, err
	}
	// A mutex starts out given.
	q.count = 1
	return q, nil
}

// MutexHolder returns the task holding the mutex, or nil.
func (q *Queue) MutexHolder() *kernel.Task {
	if !q.isMutex() {
		return nil
	}
	q.sched.EnterCritical()
	defer q.sched.ExitCritical()
	return q.mutex.holder
}

// MutexHolderFromISR is MutexHolder for interrupt handlers.
func (q *Queue) MutexHolderFromISR() *kernel.Task {
	if !q.isMutex() {
		return nil
	}
	m := q.sched.MaskInterrupts()
	defer q.sched.UnmaskInterrupts(m)
	return q.mutex.holder
}

func (q *Queue) heldByCaller() bool {
	holder := q.MutexHolder()
	return holder != nil && holder == q.sched.CurrentTask()
}

// TakeRecursive takes the recursive mutex. If the caller already holds it,
// it only counts the take.
func (q *Queue) TakeRecursive(wait kernel.Ticks) error {
	if !kernel.Assertf(q.kind == KindRecursiveMutex, "TakeRecursive on %v", q) || !q.checkBlockingCall(wait) {
		return ErrInvalidConfig
	}
	if q.heldByCaller() {
		q.mutex.depth++
		return nil
	}
	if err := q.semaphoreTake(wait); err != nil {
		return err
	}
	q.mutex.depth++
	return nil
}

// GiveRecursive undoes one TakeRecursive. The mutex is released by the last
// one. It returns ErrNotHeld if the caller does not hold the mutex.
func (q *Queue) GiveRecursive() error {
	if !kernel.Assertf(q.kind == KindRecursiveMutex, "GiveRecursive on %v", q) {
		return ErrInvalidConfig
	}
	if !q.heldByCaller() {
		return ErrNotHeld
	}
	q.mutex.depth--
	if q.mutex.depth > 0 {
		return nil
	}
	// The holder has the only token, so there is always room for it.
	err := q.send(nil, 0, Back)
	kernel.Assertf(err == nil, "returning %v to its queue: %v", q, err)
	return err
}

// RecursionDepth returns the number of outstanding takes of a recursive
// mutex. Only meaningful to the holder.
func (q *Queue) RecursionDepth() int {
	return q.mutex.depth
}
