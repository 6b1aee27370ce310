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

// Package queue implements the blocking objects of the kernel: bounded FIFO
// queues of fixed size items, and the semaphores, mutexes and queue sets
// built on top of them.
//
// Every object is a ring buffer of count items plus two priority ordered
// lists of tasks: those waiting to send and those waiting to receive. The
// buffer, the count and the wait lists are only touched with interrupts
// masked (Scheduler.EnterCritical or Scheduler.MaskInterrupts).
//
// A task that has to block suspends the scheduler and locks the object.
// While an object is locked, interrupt handlers still move data in and out of
// the buffer but do not touch the wait lists. They count the events instead,
// and the task that unlocks the object performs the deferred wakeups. This
// keeps the time spent with interrupts masked short and bounded.
package queue

import (
	"errors"
	"fmt"
	"math"

	"rtos.dev/kqueue/pkg/kernel"
	"rtos.dev/kqueue/pkg/klist"
	"rtos.dev/kqueue/pkg/log"
)

// Errors returned by queue operations.
var (
	// ErrFull is returned when an item cannot be sent within the wait budget.
	ErrFull = errors.New("queue full")

	// ErrEmpty is returned when nothing can be received or taken within the
	// wait budget.
	ErrEmpty = errors.New("queue empty")

	// ErrNotHeld is returned when a mutex is given by a task that does not
	// hold it.
	ErrNotHeld = errors.New("mutex not held by caller")

	// ErrInvalidConfig is returned for bad creation parameters and, with
	// assertions in log mode, for contract violations.
	ErrInvalidConfig = errors.New("invalid queue configuration")
)

// Scheduler is the part of the kernel the blocking objects rely on.
// *kernel.Kernel implements it.
type Scheduler interface {
	// CurrentTask returns the running task.
	CurrentTask() *kernel.Task

	// InInterrupt returns true when called from an interrupt handler.
	InInterrupt() bool

	// EnterCritical and ExitCritical mask and unmask interrupts from task
	// context.
	EnterCritical()
	ExitCritical()

	// MaskInterrupts and UnmaskInterrupts are the interrupt context forms.
	MaskInterrupts() kernel.InterruptMask
	UnmaskInterrupts(kernel.InterruptMask)

	// SuspendAll and ResumeAll suspend and resume the scheduler. ResumeAll
	// returns true if it already switched tasks.
	SuspendAll()
	ResumeAll() bool

	// Yield gives the processor to the most urgent ready task.
	Yield()

	// MissedYield records that a context switch is due.
	MissedYield()

	SetTimeOut(to *kernel.TimeOut)
	CheckForTimeOut(to *kernel.TimeOut, remaining *kernel.Ticks) bool

	// PlaceOnEventList blocks the current task on list for at most ticks.
	PlaceOnEventList(list *klist.List, ticks kernel.Ticks)

	// RemoveFromEventList readies the most urgent task waiting on list, and
	// returns true if it should preempt the current task.
	RemoveFromEventList(list *klist.List) bool

	HighestWaitingPriority(list *klist.List) kernel.Priority
	TaskCount() int

	PriorityInherit(holder *kernel.Task) bool
	PriorityDisinherit(holder *kernel.Task) bool
	PriorityDisinheritAfterTimeout(holder *kernel.Task, highestWaiting kernel.Priority)
	IncrementMutexHeldCount() *kernel.Task
}

var _ Scheduler = (*kernel.Kernel)(nil)

// Kind is the specialization of a blocking object.
type Kind int

// Kinds.
const (
	KindBase Kind = iota
	KindSet
	KindMutex
	KindCountingSemaphore
	KindBinarySemaphore
	KindRecursiveMutex
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBase:
		return "queue"
	case KindSet:
		return "set"
	case KindMutex:
		return "mutex"
	case KindCountingSemaphore:
		return "counting-semaphore"
	case KindBinarySemaphore:
		return "binary-semaphore"
	case KindRecursiveMutex:
		return "recursive-mutex"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Position selects where Send puts an item.
type Position int

// Positions.
const (
	// Back appends the item.
	Back Position = iota

	// Front makes the item the next one received.
	Front

	// Overwrite replaces the item of a length 1 queue, or sends it if the
	// queue is empty. It never blocks.
	Overwrite
)

// String implements fmt.Stringer.
func (p Position) String() string {
	switch p {
	case Back:
		return "back"
	case Front:
		return "front"
	case Overwrite:
		return "overwrite"
	default:
		return fmt.Sprintf("Position(%d)", int(p))
	}
}

// lockState counts the events that happened while an object was locked.
type lockState int32

const (
	unlocked         lockState = -1
	lockedUnmodified lockState = 0
)

// mutexState is the state only mutex kinds use.
type mutexState struct {
	// holder is the task holding the mutex, nil if it is available.
	holder *kernel.Task

	// depth is the number of outstanding recursive takes. It is only
	// touched by the holder.
	depth int
}

// Queue is a blocking object.
type Queue struct {
	sched    Scheduler
	kind     Kind
	length   int
	itemSize int

	// storage is the ring buffer, length*itemSize bytes. writeTo is the
	// offset the next back insert goes to, readFrom the offset of the item
	// received last.
	storage  []byte
	writeTo  int
	readFrom int

	// count is the number of items in storage, or the semaphore count.
	count int

	waitingToSend    klist.List
	waitingToReceive klist.List

	rxLock lockState
	txLock lockState

	mutex mutexState

	// container is the set q is a member of.
	container *Queue

	// members is the total length of the members of a set.
	members int

	// memberTable resolves the handles in a set's items to its members. It
	// is only used by sets, and guarded by the interrupt mask.
	memberTable map[handle]*Queue

	// handle identifies q in set items.
	handle handle

	registry *Registry
	number   uint32
	static   bool
	deleted  bool
}

// Create creates a blocking object of the given kind holding length items of
// itemSize bytes each.
func Create(s Scheduler, length, itemSize int, kind Kind) (*Queue, error) {
	if err := checkGeometry(length, itemSize); err != nil {
		return nil, err
	}
	q := &Queue{
		sched:    s,
		kind:     kind,
		length:   length,
		itemSize: itemSize,
	}
	if itemSize > 0 {
		q.storage = make([]byte, length*itemSize)
	}
	q.init()
	return q, nil
}

// CreateStatic is like Create but uses the caller's storage for the ring
// buffer. storage must hold at least length*itemSize bytes.
func CreateStatic(s Scheduler, length, itemSize int, storage []byte, kind Kind) (*Queue, error) {
	if err := checkGeometry(length, itemSize); err != nil {
		return nil, err
	}
	if need := length * itemSize; len(storage) < need {
		return nil, fmt.Errorf("%w: storage of %d bytes, need %d", ErrInvalidConfig, len(storage), need)
	}
	q := &Queue{
		sched:    s,
		kind:     kind,
		length:   length,
		itemSize: itemSize,
		static:   true,
	}
	if itemSize > 0 {
		q.storage = storage[:length*itemSize]
	}
	q.init()
	return q, nil
}

func checkGeometry(length, itemSize int) error {
	if length <= 0 {
		return fmt.Errorf("%w: length %d", ErrInvalidConfig, length)
	}
	if itemSize < 0 {
		return fmt.Errorf("%w: item size %d", ErrInvalidConfig, itemSize)
	}
	if itemSize != 0 && length > math.MaxInt/itemSize {
		return fmt.Errorf("%w: %d items of %d bytes overflow", ErrInvalidConfig, length, itemSize)
	}
	return nil
}

func (q *Queue) init() {
	q.waitingToSend.Init()
	q.waitingToReceive.Init()
	q.rxLock = unlocked
	q.txLock = unlocked
	q.writeTo = 0
	q.readFrom = (q.length - 1) * q.itemSize
	q.handle = newHandle()
	log.Debugf("queue: created %v, length %d, item size %d", q, q.length, q.itemSize)
}

// New creates a queue of length items of itemSize bytes.
func New(s Scheduler, length, itemSize int) (*Queue, error) {
	return Create(s, length, itemSize, KindBase)
}

// Reset empties q. A task waiting to send is released since there is room
// now; tasks waiting to receive keep waiting.
func (q *Queue) Reset() {
	s := q.sched
	s.EnterCritical()
	if q.isMutex() && q.mutex.holder != nil {
		s.ExitCritical()
		kernel.Assertf(false, "reset of %v held by %v", q, q.mutex.holder)
		return
	}
	q.writeTo = 0
	q.readFrom = (q.length - 1) * q.itemSize
	q.count = 0
	if q.isMutex() {
		q.count = 1
		q.mutex.depth = 0
	}
	q.rxLock = unlocked
	q.txLock = unlocked
	yield := false
	if !q.waitingToSend.Empty() && s.RemoveFromEventList(&q.waitingToSend) {
		yield = true
	}
	s.ExitCritical()
	if yield {
		s.Yield()
	}
}

// Delete releases q. q must not be a held mutex, a set member, or have tasks
// waiting on it; it must not be used afterwards.
func (q *Queue) Delete() error {
	s := q.sched
	s.EnterCritical()
	held := q.isMutex() && q.mutex.holder != nil
	member := q.container != nil
	waiters := !q.waitingToSend.Empty() || !q.waitingToReceive.Empty()
	s.ExitCritical()
	if !kernel.Assertf(!held, "delete of %v held by %v", q, q.mutex.holder) ||
		!kernel.Assertf(!member, "delete of %v while in a set", q) ||
		!kernel.Assertf(!waiters, "delete of %v with waiting tasks", q) {
		return ErrInvalidConfig
	}
	if q.registry != nil {
		q.registry.Unregister(q)
	}
	log.Debugf("queue: deleting %v", q)
	q.storage = nil
	q.deleted = true
	return nil
}

// String implements fmt.Stringer.
func (q *Queue) String() string {
	if q.registry != nil {
		if name, ok := q.registry.Name(q); ok {
			return fmt.Sprintf("%v %q", q.kind, name)
		}
	}
	return fmt.Sprintf("%v#%d", q.kind, q.handle)
}

func (q *Queue) isMutex() bool {
	return q.kind == KindMutex || q.kind == KindRecursiveMutex
}

// isFull and isEmpty are used in the locked window, where interrupts may
// still change count.
func (q *Queue) isFull() bool {
	q.sched.EnterCritical()
	defer q.sched.ExitCritical()
	return q.count == q.length
}

func (q *Queue) isEmpty() bool {
	q.sched.EnterCritical()
	defer q.sched.ExitCritical()
	return q.count == 0
}

// copyDataToQueue stores item at pos and bumps the count. For a mutex it
// releases the holder instead, and returns true if that lowered the holder's
// priority.
//
// Preconditions: interrupts are masked.
func (q *Queue) copyDataToQueue(item []byte, pos Position) bool {
	yield := false
	switch {
	case q.itemSize == 0:
		if q.isMutex() {
			if q.mutex.holder != nil {
				yield = q.sched.PriorityDisinherit(q.mutex.holder)
			}
			q.mutex.holder = nil
		}
	case pos == Back:
		copy(q.storage[q.writeTo:q.writeTo+q.itemSize], item)
		q.writeTo += q.itemSize
		if q.writeTo >= len(q.storage) {
			q.writeTo = 0
		}
	default:
		copy(q.storage[q.readFrom:q.readFrom+q.itemSize], item)
		q.readFrom -= q.itemSize
		if q.readFrom < 0 {
			q.readFrom = len(q.storage) - q.itemSize
		}
	}
	if pos == Overwrite && q.count > 0 {
		// The replaced item is gone.
		q.count--
	}
	q.count++
	return yield
}

// copyDataFromQueue copies the oldest item into buf.
//
// Preconditions: interrupts are masked; q is not empty.
func (q *Queue) copyDataFromQueue(buf []byte) {
	if q.itemSize == 0 {
		return
	}
	q.readFrom += q.itemSize
	if q.readFrom >= len(q.storage) {
		q.readFrom = 0
	}
	copy(buf[:q.itemSize], q.storage[q.readFrom:q.readFrom+q.itemSize])
}

// Count returns the number of items in q.
func (q *Queue) Count() int {
	q.sched.EnterCritical()
	defer q.sched.ExitCritical()
	return q.count
}

// SpacesAvailable returns the number of free slots in q.
func (q *Queue) SpacesAvailable() int {
	q.sched.EnterCritical()
	defer q.sched.ExitCritical()
	return q.length - q.count
}

// IsEmpty returns true if q holds no items.
func (q *Queue) IsEmpty() bool {
	return q.isEmpty()
}

// IsFull returns true if q has no free slot.
func (q *Queue) IsFull() bool {
	return q.isFull()
}

// CountFromISR is Count for interrupt handlers.
func (q *Queue) CountFromISR() int {
	m := q.sched.MaskInterrupts()
	defer q.sched.UnmaskInterrupts(m)
	return q.count
}

// IsEmptyFromISR is IsEmpty for interrupt handlers.
func (q *Queue) IsEmptyFromISR() bool {
	return q.CountFromISR() == 0
}

// IsFullFromISR is IsFull for interrupt handlers.
func (q *Queue) IsFullFromISR() bool {
	return q.CountFromISR() == q.length
}

// Length returns the capacity of q in items.
func (q *Queue) Length() int {
	return q.length
}

// ItemSize returns the size of an item in bytes.
func (q *Queue) ItemSize() int {
	return q.itemSize
}

// Kind returns the specialization of q.
func (q *Queue) Kind() Kind {
	return q.kind
}

// Static returns true if q uses caller provided storage.
func (q *Queue) Static() bool {
	return q.static
}

// Number returns the trace number of q.
func (q *Queue) Number() uint32 {
	return q.number
}

// SetNumber sets the trace number of q.
func (q *Queue) SetNumber(n uint32) {
	q.number = n
}
