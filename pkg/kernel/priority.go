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

// This file holds the scheduler side of mutex priority inheritance. The
// mutex side (when to call these) lives with the blocking objects.

// PriorityInherit raises holder to the current task's priority if the
// current task is more urgent. It returns true if holder now runs at an
// inherited priority on behalf of the current task, either because it was
// raised here or because an earlier inheritance already covers it.
//
// Preconditions: interrupts are masked.
func (k *Kernel) PriorityInherit(holder *Task) bool {
	if holder == nil {
		return false
	}
	cur := k.current
	if holder.priority < cur.priority {
		if !holder.eventNode.Linked() {
			holder.eventNode.SetKey(k.eventKey(cur.priority))
		}
		k.setEffectivePriorityLocked(holder, cur.priority)
		return true
	}
	return holder.basePriority < cur.priority
}

// PriorityDisinherit is called when holder, the current task, releases a
// mutex. Once holder holds no mutex at all it drops back to its base
// priority. It returns true if that happened, in which case the caller must
// yield since a task that was outranked by the boost may now run.
//
// Preconditions: interrupts are masked.
func (k *Kernel) PriorityDisinherit(holder *Task) bool {
	if holder == nil {
		return false
	}
	Assertf(holder == k.current, "mutex released by %v, which is not the current task %v", holder, k.current)
	Assertf(holder.mutexesHeld > 0, "mutex released by %v, which holds none", holder)
	if holder.mutexesHeld > 0 {
		holder.mutexesHeld--
	}
	if holder.priority == holder.basePriority || holder.mutexesHeld != 0 {
		return false
	}
	k.setEffectivePriorityLocked(holder, holder.basePriority)
	holder.eventNode.SetKey(k.eventKey(holder.priority))
	return true
}

// PriorityDisinheritAfterTimeout is called when a task that boosted holder
// gives up waiting. holder's priority is lowered to the larger of its base
// priority and highestWaiting, the priority of the most urgent task still
// waiting. If holder holds more than one mutex nothing is done, since it is
// unknown which of them the remaining boost is owed to.
//
// Preconditions: interrupts are masked.
func (k *Kernel) PriorityDisinheritAfterTimeout(holder *Task, highestWaiting Priority) {
	if holder == nil {
		return
	}
	Assertf(holder.mutexesHeld > 0, "disinherit after timeout on %v, which holds no mutex", holder)
	target := DisinheritTarget(holder.basePriority, highestWaiting)
	if holder.priority == target || holder.mutexesHeld != 1 {
		return
	}
	Assertf(holder != k.current, "disinherit after timeout on the current task %v", holder)
	if !holder.eventNode.Linked() {
		holder.eventNode.SetKey(k.eventKey(target))
	}
	k.setEffectivePriorityLocked(holder, target)
}

// DisinheritTarget is the priority a holder returns to when a boost is
// unwound: never below its base, never below the most urgent waiter.
func DisinheritTarget(base, highestWaiting Priority) Priority {
	if highestWaiting > base {
		return highestWaiting
	}
	return base
}

// IncrementMutexHeldCount records that the current task took a mutex and
// returns it.
//
// Preconditions: interrupts are masked.
func (k *Kernel) IncrementMutexHeldCount() *Task {
	cur := k.current
	if cur != nil {
		cur.mutexesHeld++
	}
	return cur
}
