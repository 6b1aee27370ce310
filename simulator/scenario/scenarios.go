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

package scenario

import (
	"errors"

	"github.com/cenkalti/backoff"
	"rtos.dev/kqueue/pkg/kernel"
	"rtos.dev/kqueue/pkg/queue"
)

func init() {
	register(&Scenario{
		Name:        "fifo",
		Description: "fill a queue of three items past capacity, then drain it past empty",
		setup:       fifo,
	})
	register(&Scenario{
		Name:        "inversion",
		Description: "a low priority mutex holder inherits the priority of a blocked high priority task",
		setup:       inversion,
	})
	register(&Scenario{
		Name:        "isr",
		Description: "interrupts feed a queue that a high priority handler task drains",
		setup:       isr,
	})
	register(&Scenario{
		Name:        "queueset",
		Description: "one task waits on two queues and a semaphore at once",
		setup:       queueSet,
	})
	register(&Scenario{
		Name:        "recursive",
		Description: "nested takes of a recursive mutex while another task waits for it",
		setup:       recursive,
	})
	register(&Scenario{
		Name:        "backoff",
		Description: "a consumer retries timed out receives with growing wait budgets",
		setup:       retryBackoff,
	})
}

func fifo(env *Env) error {
	q, err := queue.New(env.Kernel, 3, 4)
	if err != nil {
		return err
	}
	env.Name(q, "fifo")
	env.Spawn("producer", 2, func(t *kernel.Task) {
		for _, item := range []string{"AAAA", "BBBB", "CCCC", "DDDD"} {
			err := q.SendToBack([]byte(item), 0)
			env.Record(t, "send %s: %s", item, errString(err))
			env.Checkf((err == nil) == (item != "DDDD"), "send %s: %v", item, err)
		}
	})
	env.Spawn("consumer", 1, func(t *kernel.Task) {
		buf := make([]byte, 4)
		for _, want := range []string{"AAAA", "BBBB", "CCCC"} {
			err := q.Receive(buf, 0)
			env.Record(t, "receive %s: %s", buf, errString(err))
			env.Checkf(err == nil && string(buf) == want, "receive = %q, %v, want %q", buf, err, want)
		}
		err := q.Receive(buf, 0)
		env.Record(t, "receive: %s", errString(err))
		env.Checkf(errors.Is(err, queue.ErrEmpty), "receive from an empty queue = %v", err)
	})
	return nil
}

func inversion(env *Env) error {
	m, err := queue.NewMutex(env.Kernel)
	if err != nil {
		return err
	}
	env.Name(m, "shared")
	env.Spawn("low", 1, func(low *kernel.Task) {
		err := m.Take(kernel.MaxDelay)
		env.Record(low, "take: %s", errString(err))
		env.Spawn("high", 3, func(high *kernel.Task) {
			err := m.Take(kernel.MaxDelay)
			env.Record(high, "take: %s", errString(err))
			env.Checkf(err == nil, "high: take: %v", err)
			env.Checkf(m.Give() == nil, "high: give failed")
		})
		env.Record(low, "running at priority %d", low.Priority())
		env.Checkf(low.Priority() == 3, "holder runs at %d while high waits, want 3", low.Priority())
		env.Spawn("medium", 2, func(medium *kernel.Task) {
			env.Record(medium, "running")
		})
		err = m.Give()
		env.Record(low, "give: %s, back at priority %d", errString(err), low.Priority())
		env.Checkf(low.Priority() == low.BasePriority(), "holder kept priority %d after release", low.Priority())
	})
	return nil
}

func isr(env *Env) error {
	k := env.Kernel
	q, err := queue.New(k, 4, 1)
	if err != nil {
		return err
	}
	env.Name(q, "rx")
	const n = 3
	env.Spawn("handler", 3, func(t *kernel.Task) {
		buf := make([]byte, 1)
		for i := 1; i <= n; i++ {
			err := q.Receive(buf, kernel.MaxDelay)
			env.Record(t, "got %d: %s", buf[0], errString(err))
			env.Checkf(err == nil && buf[0] == byte(i), "receive = %d, %v, want %d", buf[0], err, i)
		}
	})
	env.Spawn("device", 1, func(t *kernel.Task) {
		for i := 1; i <= n; i++ {
			t.Delay(2)
			k.Interrupt(func() bool {
				woken, err := q.SendFromISR([]byte{byte(i)}, queue.Back)
				env.Checkf(err == nil, "SendFromISR: %v", err)
				return woken
			})
			env.Record(t, "interrupt %d done", i)
		}
	})
	return nil
}

func queueSet(env *Env) error {
	k := env.Kernel
	set, err := queue.NewSet(k, 5)
	if err != nil {
		return err
	}
	env.Name(set, "events")
	a, err := queue.New(k, 2, 1)
	if err != nil {
		return err
	}
	b, err := queue.New(k, 2, 1)
	if err != nil {
		return err
	}
	button, err := queue.NewBinarySemaphore(k)
	if err != nil {
		return err
	}
	for name, member := range map[string]*queue.Queue{"sensor.a": a, "sensor.b": b, "button": button} {
		if err := queue.AddToSet(env.Name(member, name), set); err != nil {
			return err
		}
	}

	const events = 5
	env.Spawn("selector", 3, func(t *kernel.Task) {
		buf := make([]byte, 1)
		for i := 0; i < events; i++ {
			member, err := queue.SelectFromSet(set, kernel.MaxDelay)
			if err != nil {
				env.Checkf(false, "select: %v", err)
				return
			}
			name, _ := env.Registry.Name(member)
			if member == button {
				err := button.Take(0)
				env.Record(t, "%s pressed: %s", name, errString(err))
				env.Checkf(err == nil, "take %s: %v", name, err)
				continue
			}
			err = member.Receive(buf, 0)
			env.Record(t, "%s: %d", name, buf[0])
			env.Checkf(err == nil, "receive from %s: %v", name, err)
		}
	})
	env.Spawn("producer", 1, func(t *kernel.Task) {
		for _, step := range []struct {
			q    *queue.Queue
			item byte
		}{{a, 1}, {b, 2}, {button, 0}, {a, 3}, {b, 4}} {
			var err error
			if step.q == button {
				err = button.Give()
			} else {
				err = step.q.SendToBack([]byte{step.item}, 0)
			}
			env.Checkf(err == nil, "produce to %v: %v", step.q, err)
		}
	})
	return nil
}

func recursive(env *Env) error {
	m, err := queue.NewRecursiveMutex(env.Kernel)
	if err != nil {
		return err
	}
	env.Name(m, "config")
	const depth = 3
	env.Spawn("owner", 1, func(owner *kernel.Task) {
		for i := 0; i < depth; i++ {
			env.Checkf(m.TakeRecursive(0) == nil, "owner: take %d failed", i+1)
		}
		env.Record(owner, "took mutex %d times", m.RecursionDepth())
		env.Spawn("waiter", 2, func(waiter *kernel.Task) {
			err := m.TakeRecursive(kernel.MaxDelay)
			env.Record(waiter, "take: %s", errString(err))
			env.Checkf(err == nil, "waiter: take: %v", err)
			env.Checkf(m.GiveRecursive() == nil, "waiter: give failed")
		})
		env.Record(owner, "holding at priority %d", owner.Priority())
		for i := depth; i > 0; i-- {
			err := m.GiveRecursive()
			env.Checkf(err == nil, "owner: give: %v", err)
			if i > 1 {
				env.Record(owner, "gave, still held %d times", m.RecursionDepth())
			}
		}
		env.Record(owner, "released")
		env.Checkf(errors.Is(m.GiveRecursive(), queue.ErrNotHeld), "owner: extra give succeeded")
	})
	return nil
}

func retryBackoff(env *Env) error {
	k := env.Kernel
	q, err := queue.New(k, 1, 1)
	if err != nil {
		return err
	}
	env.Name(q, "mailbox")
	tick := k.TickPeriod()
	env.Spawn("consumer", 2, func(t *kernel.Task) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 10 * tick
		b.RandomizationFactor = 0
		b.Multiplier = 2
		b.MaxInterval = 100 * tick
		b.MaxElapsedTime = 1000 * tick
		b.Clock = k.Clock()
		b.Reset()

		buf := make([]byte, 1)
		for attempt := 1; ; attempt++ {
			budget := b.NextBackOff()
			if budget == backoff.Stop {
				env.Record(t, "giving up")
				env.Checkf(false, "nothing received within %v", b.MaxElapsedTime)
				return
			}
			wait := k.DurationToTicks(budget)
			if err := q.Receive(buf, wait); err != nil {
				env.Record(t, "attempt %d: nothing within %d ticks", attempt, wait)
				continue
			}
			env.Record(t, "attempt %d: got %d", attempt, buf[0])
			return
		}
	})
	env.Spawn("producer", 1, func(t *kernel.Task) {
		t.Delay(k.DurationToTicks(50 * tick))
		err := q.SendToBack([]byte{42}, 0)
		env.Record(t, "send: %s", errString(err))
	})
	return nil
}
