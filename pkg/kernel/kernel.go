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

// Package kernel is a single-processor, priority-preemptive task scheduler
// that runs kernel tasks as goroutines.
//
// Exactly one task holds the virtual processor at a time. A task gives it up
// only inside kernel calls (Yield, Delay, blocking on an event list, exiting),
// so everything a task does between kernel calls is atomic with respect to
// other tasks. Interrupt handlers are modeled as code that runs outside the
// task set, either on other goroutines or through Interrupt, and that
// serializes against tasks only through the interrupt mask.
//
// Lock ordering and naming:
//
//	Kernel.mu is the interrupt mask. EnterCritical and MaskInterrupts both
//	acquire it. Methods whose documentation says "Preconditions: interrupts
//	are masked" must be called with it held; all other methods acquire it
//	themselves and must not be called with it held.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rtos.dev/kqueue/pkg/klist"
	"rtos.dev/kqueue/pkg/log"
)

// Priority is a task scheduling priority. Larger values are more urgent.
type Priority uint32

// IdlePriority is the priority of the idle task and the lowest priority a task
// can have.
const IdlePriority Priority = 0

// Ticks counts kernel ticks.
type Ticks uint64

// MaxDelay as a wait budget blocks without a timeout.
const MaxDelay = ^Ticks(0)

// DefaultMaxPriorities is used when Config.MaxPriorities is zero.
const DefaultMaxPriorities = 8

// ErrInvalidPriority is returned for priorities outside [0, MaxPriorities).
var ErrInvalidPriority = errors.New("invalid task priority")

// ErrStarted is returned by Run if the kernel is already running.
var ErrStarted = errors.New("kernel already started")

// Config configures a Kernel.
type Config struct {
	// MaxPriorities is the number of distinct priorities.
	MaxPriorities int

	// TickPeriod is the wall-clock length of one tick. It is used by Clock
	// and by real-time tick sources.
	TickPeriod time.Duration

	// VirtualTime makes the idle task jump straight to the next timeout
	// instead of waiting for Tick to be called.
	VirtualTime bool
}

// Kernel is the scheduler.
type Kernel struct {
	cfg Config

	// mu is the interrupt mask.
	mu sync.Mutex

	// ready holds one list of ready tasks per priority, linked through
	// Task.stateNode.
	//
	// +checklocks:mu
	ready []klist.List

	// delayed holds tasks blocked with a timeout, keyed by wake tick.
	//
	// +checklocks:mu
	delayed klist.List

	// suspended holds tasks blocked without a timeout.
	//
	// +checklocks:mu
	suspended klist.List

	// pendingReady holds tasks removed from an event list while the
	// scheduler was suspended, linked through Task.eventNode. They are moved
	// to the ready lists by ResumeAll.
	//
	// +checklocks:mu
	pendingReady klist.List

	// current is the task holding the processor. It is written with mu held,
	// and only by the current task itself.
	current *Task

	// +checklocks:mu
	schedulerSuspended int

	// +checklocks:mu
	yieldPending bool

	// +checklocks:mu
	tick Ticks

	// lastTick mirrors tick for readers that may not take mu, such as log
	// emitters that run inside critical sections.
	lastTick atomic.Uint64

	// pendedTicks counts ticks that arrived while the scheduler was
	// suspended.
	//
	// +checklocks:mu
	pendedTicks Ticks

	// numTasks counts tasks that exist, including the idle task.
	//
	// +checklocks:mu
	numTasks int

	// live counts spawned tasks that have not returned.
	//
	// +checklocks:mu
	live int

	// +checklocks:mu
	started bool

	// +checklocks:mu
	nextID uint64

	idle *Task

	// inInterrupt is set while Interrupt runs a handler.
	inInterrupt atomic.Bool

	// irq wakes the idle task when an interrupt readies work.
	irq chan struct{}

	// stop is closed when Run gives up on the context.
	stop     chan struct{}
	stopOnce sync.Once

	// done is closed by the idle task when no spawned task is left.
	done chan struct{}
}

// New creates a kernel. Tasks may be spawned before Run.
func New(cfg Config) *Kernel {
	if cfg.MaxPriorities <= 0 {
		cfg.MaxPriorities = DefaultMaxPriorities
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = time.Millisecond
	}
	k := &Kernel{
		cfg:   cfg,
		ready: make([]klist.List, cfg.MaxPriorities),
		irq:   make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for i := range k.ready {
		k.ready[i].Init()
	}
	k.delayed.Init()
	k.suspended.Init()
	k.pendingReady.Init()
	return k
}

// MaxPriorities returns the number of priorities.
func (k *Kernel) MaxPriorities() int {
	return k.cfg.MaxPriorities
}

// Spawn creates a task that runs fn at priority prio. The task becomes ready
// immediately. When the kernel is already running, Spawn must be called from
// a task, which is preempted if the new task outranks it.
func (k *Kernel) Spawn(name string, prio Priority, fn func(t *Task)) (*Task, error) {
	if int(prio) >= k.cfg.MaxPriorities {
		return nil, fmt.Errorf("task %q: %w: %d, max is %d", name, ErrInvalidPriority, prio, k.cfg.MaxPriorities-1)
	}
	k.mu.Lock()
	t := k.newTaskLocked(name, prio, fn)
	k.live++
	preempt := k.started && k.current != nil && prio > k.current.priority
	k.mu.Unlock()

	log.Debugf("kernel: spawned task %q (id %d) at priority %d", name, t.id, prio)
	go t.run()
	if preempt {
		k.Yield()
	}
	return t, nil
}

// +checklocks:k.mu
func (k *Kernel) newTaskLocked(name string, prio Priority, fn func(t *Task)) *Task {
	k.nextID++
	t := &Task{
		k:            k,
		id:           k.nextID,
		name:         name,
		fn:           fn,
		priority:     prio,
		basePriority: prio,
		resume:       make(chan struct{}, 1),
	}
	t.stateNode.Init(t)
	t.eventNode.Init(t)
	t.eventNode.SetKey(k.eventKey(prio))
	k.numTasks++
	k.addReadyLocked(t)
	return t
}

// Run starts scheduling and blocks until every spawned task has returned, or
// until ctx is done. In the latter case tasks that are still blocked are
// abandoned.
func (k *Kernel) Run(ctx context.Context) error {
	k.mu.Lock()
	if k.started {
		k.mu.Unlock()
		return ErrStarted
	}
	k.started = true
	k.idle = k.newTaskLocked("idle", IdlePriority, k.idleLoop)
	first := k.selectLocked()
	k.current = first
	live := k.live
	k.mu.Unlock()

	log.Infof("kernel: starting with %d tasks, %d priorities, virtual time %t", live, k.cfg.MaxPriorities, k.cfg.VirtualTime)
	go k.idle.run()
	first.resume <- struct{}{}

	select {
	case <-k.done:
		log.Infof("kernel: all tasks returned at tick %d", k.Now())
		return nil
	case <-ctx.Done():
		k.stopOnce.Do(func() { close(k.stop) })
		log.Warningf("kernel: giving up with tasks still running: %v", ctx.Err())
		return ctx.Err()
	}
}

// idleLoop is the body of the idle task. It runs whenever no other task is
// ready, and is responsible for making time pass when nobody else will.
func (k *Kernel) idleLoop(t *Task) {
	for {
		k.mu.Lock()
		if k.live == 0 {
			k.mu.Unlock()
			close(k.done)
			return
		}
		if k.otherReadyLocked() {
			k.mu.Unlock()
			k.Yield()
			continue
		}
		if k.cfg.VirtualTime && !k.delayed.Empty() && k.schedulerSuspended == 0 {
			k.advanceLocked(Ticks(k.delayed.HeadKey()))
			k.mu.Unlock()
			k.Yield()
			continue
		}
		k.mu.Unlock()

		select {
		case <-k.irq:
		case <-k.stop:
			return
		}
	}
}

// otherReadyLocked returns true if a task other than idle is ready.
//
// +checklocks:k.mu
func (k *Kernel) otherReadyLocked() bool {
	for p := len(k.ready) - 1; p > int(IdlePriority); p-- {
		if !k.ready[p].Empty() {
			return true
		}
	}
	return k.ready[IdlePriority].Len() > 1
}

// exit retires t, which has just returned from its function, and hands the
// processor to the next task.
func (k *Kernel) exit(t *Task) {
	k.mu.Lock()
	if t.eventNode.Linked() {
		klist.Remove(&t.eventNode)
	}
	if t.stateNode.Linked() {
		klist.Remove(&t.stateNode)
	}
	held := t.mutexesHeld
	k.numTasks--
	k.live--
	if k.live == 0 {
		k.wakeIdleLocked()
	}
	next := k.selectLocked()
	k.current = next
	k.mu.Unlock()

	if held != 0 {
		log.Warningf("kernel: task %q exited holding %d mutexes", t.name, held)
	}
	log.Debugf("kernel: task %q (id %d) exited", t.name, t.id)
	next.resume <- struct{}{}
}

// Now returns the current tick count.
func (k *Kernel) Now() Ticks {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tick
}

// LastTick returns the tick count without masking interrupts. It may lag
// behind Now while a tick is being processed.
func (k *Kernel) LastTick() uint64 {
	return k.lastTick.Load()
}

// TickPeriod returns the configured wall-clock length of a tick.
func (k *Kernel) TickPeriod() time.Duration {
	return k.cfg.TickPeriod
}

// DurationToTicks converts d to ticks, rounding up.
func (k *Kernel) DurationToTicks(d time.Duration) Ticks {
	if d <= 0 {
		return 0
	}
	return Ticks((d + k.cfg.TickPeriod - 1) / k.cfg.TickPeriod)
}

// eventKey is the event list key for a task at priority p. Event lists are
// sorted ascending, so more urgent tasks get smaller keys.
func (k *Kernel) eventKey(p Priority) klist.Key {
	return klist.Key(k.cfg.MaxPriorities) - klist.Key(p)
}

// HighestWaitingPriority returns the priority encoded in the head of an event
// list, or IdlePriority if the list is empty.
//
// Preconditions: interrupts are masked.
func (k *Kernel) HighestWaitingPriority(list *klist.List) Priority {
	if list.Empty() {
		return IdlePriority
	}
	return Priority(klist.Key(k.cfg.MaxPriorities) - list.HeadKey())
}

// TaskCount returns the number of tasks that exist, including idle.
//
// Preconditions: interrupts are masked.
func (k *Kernel) TaskCount() int {
	return k.numTasks
}
