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
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"rtos.dev/kqueue/pkg/kernel"
)

// handle names a blocking object inside the items of a queue set. Handles
// are never reused, so an item can only resolve to the member that posted
// it.
type handle uint64

const handleSize = 8

var lastHandle atomic.Uint64

func newHandle() handle {
	return handle(lastHandle.Add(1))
}

// NewSet creates a queue set able to report length events. It must be at
// least as long as all its members together.
func NewSet(s Scheduler, length int) (*Queue, error) {
	return Create(s, length, handleSize, KindSet)
}

// AddToSet makes member report to set instead of waking its own receivers.
// member must be empty and not already in a set. Mutexes cannot be members.
func AddToSet(member, set *Queue) error {
	if !kernel.Assertf(set.kind == KindSet, "AddToSet to %v", set) ||
		!kernel.Assertf(member.kind != KindSet && !member.isMutex(), "AddToSet of %v", member) ||
		!kernel.Assertf(member.sched == set.sched, "%v and %v run on different schedulers", member, set) {
		return ErrInvalidConfig
	}
	s := set.sched
	s.EnterCritical()
	defer s.ExitCritical()
	switch {
	case member.container != nil:
		return fmt.Errorf("%w: %v is already in a set", ErrInvalidConfig, member)
	case member.count != 0:
		return fmt.Errorf("%w: %v is not empty", ErrInvalidConfig, member)
	case set.members+member.length > set.length:
		return fmt.Errorf("%w: %v has room for %d more events, %v needs %d", ErrInvalidConfig, set, set.length-set.members, member, member.length)
	}
	member.container = set
	set.members += member.length
	if set.memberTable == nil {
		set.memberTable = make(map[handle]*Queue)
	}
	set.memberTable[member.handle] = member
	return nil
}

// RemoveFromSet undoes AddToSet. member must be empty, so that set holds no
// events for it.
func RemoveFromSet(member, set *Queue) error {
	s := set.sched
	s.EnterCritical()
	defer s.ExitCritical()
	switch {
	case member.container != set:
		return fmt.Errorf("%w: %v is not in %v", ErrInvalidConfig, member, set)
	case member.count != 0:
		return fmt.Errorf("%w: %v is not empty", ErrInvalidConfig, member)
	}
	member.container = nil
	set.members -= member.length
	delete(set.memberTable, member.handle)
	return nil
}

// Container returns the set q belongs to, or nil.
func (q *Queue) Container() *Queue {
	q.sched.EnterCritical()
	defer q.sched.ExitCritical()
	return q.container
}

// SelectFromSet waits at most wait ticks for a member of set to have data,
// and returns that member. The caller then receives from (or takes) the
// member with a zero wait. The member is nil if it left the set after it was
// announced, which only happens if it was drained without being selected.
func SelectFromSet(set *Queue, wait kernel.Ticks) (*Queue, error) {
	if !kernel.Assertf(set.kind == KindSet, "SelectFromSet on %v", set) {
		return nil, ErrInvalidConfig
	}
	var buf [handleSize]byte
	if err := set.Receive(buf[:], wait); err != nil {
		return nil, err
	}
	set.sched.EnterCritical()
	defer set.sched.ExitCritical()
	return set.member(buf[:]), nil
}

// SelectFromSetFromISR is SelectFromSet for interrupt handlers. It returns
// nil if no member has data.
func SelectFromSetFromISR(set *Queue) *Queue {
	if !kernel.Assertf(set.kind == KindSet, "SelectFromSetFromISR on %v", set) {
		return nil
	}
	var buf [handleSize]byte
	if _, err := set.ReceiveFromISR(buf[:]); err != nil {
		return nil
	}
	m := set.sched.MaskInterrupts()
	defer set.sched.UnmaskInterrupts(m)
	return set.member(buf[:])
}

// member resolves a set item.
//
// Preconditions: interrupts are masked.
func (q *Queue) member(item []byte) *Queue {
	return q.memberTable[handle(binary.LittleEndian.Uint64(item))]
}

// notifySetContainer posts q's handle to the set q belongs to. It returns
// true if a context switch is due.
//
// Preconditions: interrupts are masked; q.container is not nil.
func (q *Queue) notifySetContainer() bool {
	set := q.container
	if set.count >= set.length {
		// AddToSet keeps the set long enough for all its members.
		return false
	}
	var item [handleSize]byte
	binary.LittleEndian.PutUint64(item[:], uint64(q.handle))
	txLock := set.txLock
	prev := set.count
	set.copyDataToQueue(item[:], Back)
	if txLock != unlocked {
		set.incrementLock(&set.txLock)
		return false
	}
	return set.notifyReceivers(Back, prev)
}
