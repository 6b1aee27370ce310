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

package kernel

import (
	"fmt"

	"rtos.dev/kqueue/pkg/klist"
)

// Task is a kernel task. Its function runs on a dedicated goroutine that only
// executes while the task holds the processor.
type Task struct {
	k    *Kernel
	id   uint64
	name string
	fn   func(t *Task)

	// priority is the effective priority, possibly raised by priority
	// inheritance. basePriority is the priority last assigned by Spawn or
	// SetPriority.
	//
	// +checklocks:k.mu
	priority Priority
	// +checklocks:k.mu
	basePriority Priority

	// mutexesHeld counts mutexes currently held by the task. Inherited
	// priority is only dropped once it reaches zero.
	//
	// +checklocks:k.mu
	mutexesHeld int

	// stateNode links the task into a ready, delayed or suspended list.
	stateNode klist.Node

	// eventNode links the task into an event list (the wait list of a
	// blocking object) or into the pending ready list.
	eventNode klist.Node

	// resume is signaled when the task is given the processor.
	resume chan struct{}
}

func (t *Task) run() {
	<-t.resume
	t.fn(t)
	if t == t.k.idle {
		return
	}
	t.k.exit(t)
}

// ID returns the task's unique identifier.
func (t *Task) ID() uint64 {
	return t.id
}

// Name returns the task's name.
func (t *Task) Name() string {
	return t.name
}

// Kernel returns the kernel the task belongs to.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// String implements fmt.Stringer.
func (t *Task) String() string {
	if t == nil {
		return "<nil task>"
	}
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

// Priority returns the task's effective priority.
func (t *Task) Priority() Priority {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.priority
}

// BasePriority returns the task's priority ignoring inheritance.
func (t *Task) BasePriority() Priority {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.basePriority
}

// MutexesHeld returns the number of mutexes the task holds.
func (t *Task) MutexesHeld() int {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.mutexesHeld
}

// PriorityOf returns t's effective priority.
//
// Preconditions: interrupts are masked.
func (k *Kernel) PriorityOf(t *Task) Priority {
	return t.priority
}

// Delay blocks the calling task for the given number of ticks. Delay(0) only
// yields to other ready tasks of the same priority.
func (t *Task) Delay(ticks Ticks) {
	k := t.k
	k.mu.Lock()
	Assertf(k.current == t, "Delay called by %v, current task is %v", t, k.current)
	Assertf(k.schedulerSuspended == 0, "Delay called with the scheduler suspended")
	if ticks > 0 {
		k.addCurrentToDelayedLocked(ticks)
	}
	k.mu.Unlock()
	k.Yield()
}

// SetPriority changes t's base priority. An inherited priority is only
// overridden if the new priority is higher.
func (k *Kernel) SetPriority(t *Task, prio Priority) error {
	if int(prio) >= k.cfg.MaxPriorities {
		return fmt.Errorf("task %v: %w: %d", t, ErrInvalidPriority, prio)
	}
	k.mu.Lock()
	cur := k.current
	yield := false
	if cur != nil && t != cur && prio > cur.priority && t.stateNode.Container() == &k.ready[t.priority] {
		yield = true
	} else if t == cur && prio < t.priority {
		yield = true
	}
	if t.basePriority == t.priority || prio > t.priority {
		if !t.eventNode.Linked() {
			t.eventNode.SetKey(k.eventKey(prio))
		}
		k.setEffectivePriorityLocked(t, prio)
	}
	t.basePriority = prio
	suspended := k.schedulerSuspended != 0
	k.mu.Unlock()

	if yield && !suspended {
		k.Yield()
	}
	return nil
}
