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
	"rtos.dev/kqueue/pkg/klist"
)

// TimeOut records when a blocking call started waiting.
type TimeOut struct {
	entered Ticks
}

// InterruptMask is the state returned by MaskInterrupts.
type InterruptMask struct{}

// CurrentTask returns the task holding the processor.
//
// Preconditions: called from task context, or with interrupts masked. Only
// the current task switches tasks, so either is enough to read a stable value.
func (k *Kernel) CurrentTask() *Task {
	return k.current
}

// EnterCritical masks interrupts on behalf of a task. Critical sections do not
// nest.
func (k *Kernel) EnterCritical() {
	k.mu.Lock()
}

// ExitCritical ends a critical section started by EnterCritical.
func (k *Kernel) ExitCritical() {
	k.mu.Unlock()
}

// MaskInterrupts is the interrupt-context form of EnterCritical.
func (k *Kernel) MaskInterrupts() InterruptMask {
	k.mu.Lock()
	return InterruptMask{}
}

// UnmaskInterrupts restores the state saved by MaskInterrupts.
func (k *Kernel) UnmaskInterrupts(InterruptMask) {
	k.mu.Unlock()
}

// InInterrupt returns true while a handler started by Interrupt is running.
// Handlers running on their own goroutines are not tracked.
func (k *Kernel) InInterrupt() bool {
	return k.inInterrupt.Load()
}

// Interrupt runs isr in interrupt context on the calling task's goroutine, as
// if a hardware interrupt fired at this point. isr returns whether it woke a
// task that should preempt the current one; if so, and the scheduler is not
// suspended, the caller is preempted on return.
func (k *Kernel) Interrupt(isr func() bool) {
	k.inInterrupt.Store(true)
	woken := isr()
	k.inInterrupt.Store(false)

	k.mu.Lock()
	if woken {
		k.yieldPending = true
		k.wakeIdleLocked()
	}
	yield := k.yieldPending && k.schedulerSuspended == 0 && k.started
	k.mu.Unlock()
	if yield {
		k.Yield()
	}
}

// YieldFromISR records that an interrupt handler woke a task that should run
// as soon as possible. Handlers call it on exit with the flag accumulated from
// the FromISR calls they made.
func (k *Kernel) YieldFromISR(woken bool) {
	if !woken {
		return
	}
	k.mu.Lock()
	k.yieldPending = true
	k.wakeIdleLocked()
	k.mu.Unlock()
}

// SuspendAll suspends the scheduler. While suspended, no context switch
// happens and tasks readied by interrupts are parked on the pending ready
// list. Calls nest.
func (k *Kernel) SuspendAll() {
	k.mu.Lock()
	k.schedulerSuspended++
	k.mu.Unlock()
}

// ResumeAll undoes one SuspendAll. When the scheduler becomes unsuspended,
// pending ready tasks and pended ticks are processed, and if any of that (or
// an earlier MissedYield) calls for a context switch it happens here.
// ResumeAll returns true if it yielded.
func (k *Kernel) ResumeAll() bool {
	k.mu.Lock()
	Assertf(k.schedulerSuspended > 0, "ResumeAll without SuspendAll")
	if k.schedulerSuspended == 0 {
		k.mu.Unlock()
		return false
	}
	k.schedulerSuspended--
	if k.schedulerSuspended > 0 {
		k.mu.Unlock()
		return false
	}

	for !k.pendingReady.Empty() {
		t := k.pendingReady.HeadOwner().(*Task)
		k.pendingReady.Remove(&t.eventNode)
		if t.stateNode.Linked() {
			klist.Remove(&t.stateNode)
		}
		k.addReadyLocked(t)
		if t.priority > k.current.priority {
			k.yieldPending = true
		}
	}
	if k.pendedTicks > 0 {
		n := k.pendedTicks
		k.pendedTicks = 0
		k.advanceLocked(k.tick + n)
	}
	yield := k.yieldPending
	k.mu.Unlock()

	if yield {
		k.Yield()
		return true
	}
	return false
}

// Yield gives the processor to the most urgent ready task. Among tasks of the
// same priority the processor is shared round robin. If the calling task is
// not ready (it just blocked), it sleeps until it is made ready again and
// selected. With the scheduler suspended the switch is deferred to ResumeAll.
//
// Preconditions: called by the current task.
func (k *Kernel) Yield() {
	k.mu.Lock()
	if k.schedulerSuspended > 0 {
		k.yieldPending = true
		k.mu.Unlock()
		return
	}
	k.yieldPending = false
	cur := k.current
	next := k.selectLocked()
	if next == cur {
		k.mu.Unlock()
		return
	}
	k.current = next
	k.mu.Unlock()

	next.resume <- struct{}{}
	<-cur.resume
}

// MissedYield records that a context switch is due once the scheduler is
// resumed.
//
// Preconditions: interrupts are masked.
func (k *Kernel) MissedYield() {
	k.yieldPending = true
}

// selectLocked picks the next task to run.
//
// +checklocks:k.mu
func (k *Kernel) selectLocked() *Task {
	for p := len(k.ready) - 1; p >= 0; p-- {
		if !k.ready[p].Empty() {
			return k.ready[p].NextOwner().(*Task)
		}
	}
	return nil
}

// +checklocks:k.mu
func (k *Kernel) addReadyLocked(t *Task) {
	k.ready[t.priority].InsertTail(&t.stateNode)
}

// setEffectivePriorityLocked changes t's effective priority, moving it between
// ready lists if it is ready.
//
// +checklocks:k.mu
func (k *Kernel) setEffectivePriorityLocked(t *Task, prio Priority) {
	if t.stateNode.Container() == &k.ready[t.priority] {
		k.ready[t.priority].Remove(&t.stateNode)
		t.priority = prio
		k.addReadyLocked(t)
		return
	}
	t.priority = prio
}

// addCurrentToDelayedLocked takes the current task off the ready lists and
// arms its wake-up.
//
// +checklocks:k.mu
func (k *Kernel) addCurrentToDelayedLocked(ticks Ticks) {
	t := k.current
	if t.stateNode.Linked() {
		klist.Remove(&t.stateNode)
	}
	if ticks == MaxDelay {
		k.suspended.InsertTail(&t.stateNode)
		return
	}
	wake := k.tick + ticks
	if wake < k.tick {
		// Overflow; treat as an indefinite wait.
		k.suspended.InsertTail(&t.stateNode)
		return
	}
	t.stateNode.SetKey(klist.Key(wake))
	k.delayed.InsertSorted(&t.stateNode)
}

// PlaceOnEventList blocks the current task on list, ordered by priority, and
// arms a timeout of the given number of ticks (MaxDelay for none). The task
// stops running at the next Yield.
//
// Preconditions: the scheduler is suspended or the caller otherwise
// guarantees list is not modified concurrently.
func (k *Kernel) PlaceOnEventList(list *klist.List, ticks Ticks) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.current
	Assertf(!t.eventNode.Linked(), "task %v is already on an event list", t)
	t.eventNode.SetKey(k.eventKey(t.priority))
	list.InsertSorted(&t.eventNode)
	k.addCurrentToDelayedLocked(ticks)
}

// RemoveFromEventList readies the most urgent task waiting on list and
// returns true if it outranks the current task. If the scheduler is suspended
// the task goes to the pending ready list instead.
//
// Preconditions: interrupts are masked; list is not empty.
func (k *Kernel) RemoveFromEventList(list *klist.List) bool {
	t := list.HeadOwner().(*Task)
	list.Remove(&t.eventNode)
	if k.schedulerSuspended == 0 {
		if t.stateNode.Linked() {
			klist.Remove(&t.stateNode)
		}
		k.addReadyLocked(t)
	} else {
		k.pendingReady.InsertTail(&t.eventNode)
	}
	k.wakeIdleLocked()
	if cur := k.current; cur == nil || t.priority > cur.priority {
		k.yieldPending = true
		return true
	}
	return false
}

// SetTimeOut records the current time in to.
//
// Preconditions: interrupts are masked.
func (k *Kernel) SetTimeOut(to *TimeOut) {
	to.entered = k.tick
}

// CheckForTimeOut returns true if the wait that started at to has used up
// *remaining ticks. Otherwise it charges the elapsed time against *remaining
// and restarts to at the current tick.
func (k *Kernel) CheckForTimeOut(to *TimeOut, remaining *Ticks) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if *remaining == MaxDelay {
		return false
	}
	elapsed := k.tick - to.entered
	if elapsed < *remaining {
		*remaining -= elapsed
		to.entered = k.tick
		return false
	}
	*remaining = 0
	return true
}

// Tick is the tick interrupt. It advances time by one tick and readies tasks
// whose timeout expired.
func (k *Kernel) Tick() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.schedulerSuspended > 0 {
		k.pendedTicks++
		return
	}
	k.advanceLocked(k.tick + 1)
	k.wakeIdleLocked()
}

// advanceLocked moves time forward to now and readies expired tasks. A task
// that times out while on an event list is removed from it.
//
// +checklocks:k.mu
func (k *Kernel) advanceLocked(now Ticks) {
	if now > k.tick {
		k.tick = now
		k.lastTick.Store(uint64(now))
	}
	for !k.delayed.Empty() && Ticks(k.delayed.HeadKey()) <= k.tick {
		t := k.delayed.HeadOwner().(*Task)
		k.delayed.Remove(&t.stateNode)
		if t.eventNode.Linked() {
			klist.Remove(&t.eventNode)
		}
		k.addReadyLocked(t)
		if cur := k.current; cur != nil && t.priority > cur.priority {
			k.yieldPending = true
		}
	}
}

// +checklocks:k.mu
func (k *Kernel) wakeIdleLocked() {
	select {
	case k.irq <- struct{}{}:
	default:
	}
}
