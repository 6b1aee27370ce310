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
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"rtos.dev/kqueue/pkg/kernel"
	"rtos.dev/kqueue/pkg/klist"
)

func newKernel() *kernel.Kernel {
	return kernel.New(kernel.Config{VirtualTime: true})
}

func runKernel(t *testing.T, k *kernel.Kernel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := k.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

// spawn may be called from tasks, so it must not use t.Fatal.
func spawn(t *testing.T, k *kernel.Kernel, name string, prio kernel.Priority, fn func(*kernel.Task)) *kernel.Task {
	task, err := k.Spawn(name, prio, fn)
	if err != nil {
		t.Errorf("Spawn(%q) failed: %v", name, err)
	}
	return task
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func mustQueue(t *testing.T, s Scheduler, length, itemSize int) *Queue {
	t.Helper()
	q, err := New(s, length, itemSize)
	if err != nil {
		t.Fatalf("New(%d, %d) failed: %v", length, itemSize, err)
	}
	return q
}

// withAssertLog makes contract violations return errors instead of
// panicking for the rest of the test.
func withAssertLog(t *testing.T) {
	kernel.SetAssertMode(kernel.AssertLog, 0)
	t.Cleanup(func() { kernel.SetAssertMode(kernel.AssertFatal, 0) })
}

// hookedScheduler runs beforePlace once, right before the next task is put
// on an event list. At that point the object is locked and the scheduler is
// suspended.
type hookedScheduler struct {
	*kernel.Kernel
	beforePlace func()
}

func (h *hookedScheduler) PlaceOnEventList(list *klist.List, ticks kernel.Ticks) {
	if f := h.beforePlace; f != nil {
		h.beforePlace = nil
		f()
	}
	h.Kernel.PlaceOnEventList(list, ticks)
}

// interruptScheduler claims to always run in interrupt context.
type interruptScheduler struct {
	*kernel.Kernel
}

func (interruptScheduler) InInterrupt() bool { return true }

func TestCreateInvalid(t *testing.T) {
	k := newKernel()
	for _, tc := range []struct {
		name     string
		length   int
		itemSize int
	}{
		{"zero length", 0, 4},
		{"negative length", -1, 4},
		{"negative item size", 4, -1},
		{"overflow", math.MaxInt/2 + 1, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(k, tc.length, tc.itemSize); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New(%d, %d) = %v, want ErrInvalidConfig", tc.length, tc.itemSize, err)
			}
		})
	}
	if _, err := CreateStatic(k, 4, 4, make([]byte, 15), KindBase); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("CreateStatic with short storage = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewCountingSemaphore(k, 2, 3); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewCountingSemaphore(2, 3) = %v, want ErrInvalidConfig", err)
	}
}

func TestFIFO(t *testing.T) {
	q := mustQueue(t, newKernel(), 3, 4)
	for _, item := range []string{"AAAA", "BBBB", "CCCC"} {
		if err := q.SendToBack([]byte(item), 0); err != nil {
			t.Fatalf("SendToBack(%q) failed: %v", item, err)
		}
	}
	if err := q.SendToBack([]byte("DDDD"), 0); !errors.Is(err, ErrFull) {
		t.Errorf("SendToBack on a full queue = %v, want ErrFull", err)
	}
	if !q.IsFull() || q.SpacesAvailable() != 0 {
		t.Errorf("IsFull = %t, SpacesAvailable = %d, want full", q.IsFull(), q.SpacesAvailable())
	}
	var got []string
	buf := make([]byte, 4)
	for q.Count() > 0 {
		if err := q.Receive(buf, 0); err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		got = append(got, string(buf))
	}
	if diff := cmp.Diff([]string{"AAAA", "BBBB", "CCCC"}, got); diff != "" {
		t.Errorf("received items mismatch (-want +got):\n%s", diff)
	}
	if err := q.Receive(buf, 0); !errors.Is(err, ErrEmpty) {
		t.Errorf("Receive on an empty queue = %v, want ErrEmpty", err)
	}
}

func TestSendToFront(t *testing.T) {
	q := mustQueue(t, newKernel(), 4, 1)
	for _, step := range []struct {
		b   byte
		pos Position
	}{{1, Back}, {2, Back}, {3, Front}, {4, Front}} {
		if err := q.Send([]byte{step.b}, 0, step.pos); err != nil {
			t.Fatalf("Send(%d, %v) failed: %v", step.b, step.pos, err)
		}
	}
	var got []byte
	buf := make([]byte, 1)
	for q.Receive(buf, 0) == nil {
		got = append(got, buf[0])
	}
	if diff := cmp.Diff([]byte{4, 3, 1, 2}, got); diff != "" {
		t.Errorf("received items mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripItemSizes(t *testing.T) {
	k := newKernel()
	for size := 1; size <= 64; size++ {
		q := mustQueue(t, k, 5, size)
		var pending [][]byte
		next := byte(0)
		// Enough rounds to wrap the ring several times, front and back.
		for round := 0; round < 6; round++ {
			for i := 0; i < 3; i++ {
				item := make([]byte, size)
				for j := range item {
					item[j] = next + byte(j)
				}
				next++
				pos := Back
				if (round+i)%4 == 3 {
					pos = Front
				}
				if err := q.Send(item, 0, pos); err != nil {
					t.Fatalf("size %d: Send failed: %v", size, err)
				}
				if pos == Front {
					pending = append([][]byte{item}, pending...)
				} else {
					pending = append(pending, item)
				}
			}
			for i := 0; i < 3; i++ {
				buf := make([]byte, size)
				if err := q.Receive(buf, 0); err != nil {
					t.Fatalf("size %d: Receive failed: %v", size, err)
				}
				if !bytes.Equal(buf, pending[0]) {
					t.Fatalf("size %d: got %v, want %v", size, buf, pending[0])
				}
				pending = pending[1:]
			}
		}
	}
}

func TestPeek(t *testing.T) {
	q := mustQueue(t, newKernel(), 2, 1)
	if err := q.SendToBack([]byte{7}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	buf := make([]byte, 1)
	for i := 0; i < 2; i++ {
		if err := q.Peek(buf, 0); err != nil || buf[0] != 7 {
			t.Errorf("Peek = %v, %d, want nil, 7", err, buf[0])
		}
	}
	if err := q.PeekFromISR(buf); err != nil || buf[0] != 7 {
		t.Errorf("PeekFromISR = %v, %d, want nil, 7", err, buf[0])
	}
	if q.Count() != 1 {
		t.Errorf("Count = %d after peeking, want 1", q.Count())
	}
}

func TestOverwrite(t *testing.T) {
	q := mustQueue(t, newKernel(), 1, 1)
	for _, b := range []byte{1, 2, 3} {
		if err := q.Overwrite([]byte{b}); err != nil {
			t.Fatalf("Overwrite(%d) failed: %v", b, err)
		}
	}
	if q.Count() != 1 {
		t.Errorf("Count = %d, want 1", q.Count())
	}
	buf := make([]byte, 1)
	if err := q.Receive(buf, 0); err != nil || buf[0] != 3 {
		t.Errorf("Receive = %v, %d, want nil, 3", err, buf[0])
	}
}

func TestOverwriteNeedsLengthOne(t *testing.T) {
	withAssertLog(t)
	q := mustQueue(t, newKernel(), 2, 1)
	if err := q.Overwrite([]byte{1}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Overwrite on a queue of length 2 = %v, want ErrInvalidConfig", err)
	}
}

func TestShortItem(t *testing.T) {
	withAssertLog(t)
	q := mustQueue(t, newKernel(), 2, 4)
	if err := q.SendToBack([]byte{1}, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SendToBack of a short item = %v, want ErrInvalidConfig", err)
	}
	if err := q.Receive(make([]byte, 2), 0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Receive into a short buffer = %v, want ErrInvalidConfig", err)
	}
}

func TestCreateStatic(t *testing.T) {
	storage := make([]byte, 8)
	q, err := CreateStatic(newKernel(), 2, 4, storage, KindBase)
	if err != nil {
		t.Fatalf("CreateStatic failed: %v", err)
	}
	if !q.Static() {
		t.Errorf("Static = false, want true")
	}
	if err := q.SendToBack([]byte("wxyz"), 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	if got := string(storage[:4]); got != "wxyz" {
		t.Errorf("storage holds %q, want %q", got, "wxyz")
	}
}

func TestBlockingReceive(t *testing.T) {
	k := newKernel()
	q := mustQueue(t, k, 2, 1)
	var events []string
	spawn(t, k, "receiver", 2, func(*kernel.Task) {
		buf := make([]byte, 1)
		if err := q.Receive(buf, kernel.MaxDelay); err != nil {
			t.Errorf("Receive failed: %v", err)
		}
		events = append(events, fmt.Sprintf("received %d", buf[0]))
	})
	spawn(t, k, "sender", 1, func(*kernel.Task) {
		if err := q.SendToBack([]byte{42}, 0); err != nil {
			t.Errorf("SendToBack failed: %v", err)
		}
		events = append(events, "sent")
	})
	runKernel(t, k)
	if diff := cmp.Diff([]string{"received 42", "sent"}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestReceiveTimeout(t *testing.T) {
	k := newKernel()
	q := mustQueue(t, k, 1, 1)
	var err error
	spawn(t, k, "receiver", 1, func(*kernel.Task) {
		err = q.Receive(make([]byte, 1), 5)
	})
	runKernel(t, k)
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("Receive = %v, want ErrEmpty", err)
	}
	if got := k.Now(); got != 5 {
		t.Errorf("timed out at tick %d, want 5", got)
	}
}

func TestSendBlocksUntilSpace(t *testing.T) {
	k := newKernel()
	q := mustQueue(t, k, 1, 1)
	if err := q.SendToBack([]byte{1}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	var sentAt kernel.Ticks
	spawn(t, k, "sender", 2, func(*kernel.Task) {
		if err := q.SendToBack([]byte{2}, 10); err != nil {
			t.Errorf("SendToBack failed: %v", err)
		}
		sentAt = k.Now()
	})
	spawn(t, k, "receiver", 1, func(task *kernel.Task) {
		task.Delay(3)
		buf := make([]byte, 1)
		if err := q.Receive(buf, 0); err != nil || buf[0] != 1 {
			t.Errorf("Receive = %v, %d, want nil, 1", err, buf[0])
		}
	})
	runKernel(t, k)
	if sentAt != 3 {
		t.Errorf("sent at tick %d, want 3", sentAt)
	}
	buf := make([]byte, 1)
	if err := q.Receive(buf, 0); err != nil || buf[0] != 2 {
		t.Errorf("Receive = %v, %d, want nil, 2", err, buf[0])
	}
}

func TestSendTimeout(t *testing.T) {
	k := newKernel()
	q := mustQueue(t, k, 1, 1)
	if err := q.SendToBack([]byte{1}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	var err error
	spawn(t, k, "sender", 1, func(*kernel.Task) {
		err = q.SendToBack([]byte{2}, 4)
	})
	runKernel(t, k)
	if !errors.Is(err, ErrFull) {
		t.Errorf("SendToBack = %v, want ErrFull", err)
	}
	if got := k.Now(); got != 4 {
		t.Errorf("timed out at tick %d, want 4", got)
	}
}

func TestReceiversWakeByPriority(t *testing.T) {
	k := newKernel()
	q := mustQueue(t, k, 3, 1)
	var got []string
	for _, prio := range []kernel.Priority{2, 4, 3} {
		spawn(t, k, fmt.Sprintf("r%d", prio), prio, func(task *kernel.Task) {
			if err := q.Receive(make([]byte, 1), kernel.MaxDelay); err != nil {
				t.Errorf("%v: Receive failed: %v", task, err)
			}
			got = append(got, task.Name())
		})
	}
	spawn(t, k, "sender", 1, func(*kernel.Task) {
		for i := 0; i < 3; i++ {
			if err := q.SendToBack([]byte{byte(i)}, 0); err != nil {
				t.Errorf("SendToBack failed: %v", err)
			}
		}
	})
	runKernel(t, k)
	if diff := cmp.Diff([]string{"r4", "r3", "r2"}, got); diff != "" {
		t.Errorf("wake order mismatch (-want +got):\n%s", diff)
	}
}

func TestEqualPriorityReceiversFIFO(t *testing.T) {
	k := newKernel()
	q := mustQueue(t, k, 2, 1)
	got := make(map[string]byte)
	for _, name := range []string{"first", "second"} {
		spawn(t, k, name, 2, func(task *kernel.Task) {
			buf := make([]byte, 1)
			if err := q.Receive(buf, kernel.MaxDelay); err != nil {
				t.Errorf("%v: Receive failed: %v", task, err)
			}
			got[task.Name()] = buf[0]
		})
	}
	spawn(t, k, "sender", 1, func(*kernel.Task) {
		for _, b := range []byte{10, 20} {
			if err := q.SendToBack([]byte{b}, 0); err != nil {
				t.Errorf("SendToBack failed: %v", err)
			}
		}
	})
	runKernel(t, k)
	if diff := cmp.Diff(map[string]byte{"first": 10, "second": 20}, got); diff != "" {
		t.Errorf("received items mismatch (-want +got):\n%s", diff)
	}
}

func TestReset(t *testing.T) {
	k := newKernel()
	q := mustQueue(t, k, 1, 1)
	if err := q.SendToBack([]byte{1}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	var events []string
	spawn(t, k, "sender", 2, func(*kernel.Task) {
		if err := q.SendToBack([]byte{2}, kernel.MaxDelay); err != nil {
			t.Errorf("SendToBack failed: %v", err)
		}
		events = append(events, "sent")
	})
	spawn(t, k, "resetter", 1, func(*kernel.Task) {
		q.Reset()
		events = append(events, "reset")
	})
	runKernel(t, k)
	if diff := cmp.Diff([]string{"sent", "reset"}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	buf := make([]byte, 1)
	if err := q.Receive(buf, 0); err != nil || buf[0] != 2 {
		t.Errorf("Receive = %v, %d, want nil, 2", err, buf[0])
	}
}

// An interrupt that sends while a task is in the middle of blocking must not
// touch the wait list. The task that unlocks the queue wakes one receiver
// per item.
func TestInterruptWhileLockedDefersWakeups(t *testing.T) {
	k := newKernel()
	h := &hookedScheduler{Kernel: k}
	q := mustQueue(t, h, 4, 1)
	var got []string
	receive := func(task *kernel.Task) {
		buf := make([]byte, 1)
		if err := q.Receive(buf, kernel.MaxDelay); err != nil {
			t.Errorf("%v: Receive failed: %v", task, err)
		}
		got = append(got, fmt.Sprintf("%s:%d", task.Name(), buf[0]))
	}
	spawn(t, k, "r1", 3, receive)
	spawn(t, k, "r2", 3, receive)
	spawn(t, k, "r3", 2, func(task *kernel.Task) {
		h.beforePlace = func() {
			k.Interrupt(func() bool {
				for _, b := range []byte{1, 2} {
					woken, err := q.SendFromISR([]byte{b}, Back)
					if err != nil || woken {
						t.Errorf("SendFromISR(%d) = %t, %v, want false, nil", b, woken, err)
					}
				}
				return false
			})
			if q.txLock != 2 {
				t.Errorf("txLock = %d, want 2", q.txLock)
			}
			if n := q.waitingToReceive.Len(); n != 2 {
				t.Errorf("%d tasks waiting to receive, want 2", n)
			}
		}
		receive(task)
	})
	spawn(t, k, "sender", 1, func(*kernel.Task) {
		if err := q.SendToBack([]byte{3}, 0); err != nil {
			t.Errorf("SendToBack failed: %v", err)
		}
	})
	runKernel(t, k)
	if diff := cmp.Diff([]string{"r1:1", "r2:2", "r3:3"}, got); diff != "" {
		t.Errorf("received items mismatch (-want +got):\n%s", diff)
	}
	if q.txLock != unlocked || q.rxLock != unlocked {
		t.Errorf("lock state = %d/%d, want unlocked", q.rxLock, q.txLock)
	}
}

// An interrupt that takes an item while a sender is on its way to block must
// leave the wakeup to the unlock, which then releases the sender.
func TestInterruptReceiveWhileLocked(t *testing.T) {
	k := newKernel()
	h := &hookedScheduler{Kernel: k}
	q := mustQueue(t, h, 1, 1)
	if err := q.SendToBack([]byte{1}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	if q.CountFromISR() != 1 || q.IsEmptyFromISR() || !q.IsFullFromISR() {
		t.Errorf("full queue: CountFromISR = %d, IsEmptyFromISR = %t, IsFullFromISR = %t", q.CountFromISR(), q.IsEmptyFromISR(), q.IsFullFromISR())
	}

	var got []string
	spawn(t, k, "sender", 2, func(task *kernel.Task) {
		h.beforePlace = func() {
			k.Interrupt(func() bool {
				buf := make([]byte, 1)
				woken, err := q.ReceiveFromISR(buf)
				if err != nil || woken {
					t.Errorf("ReceiveFromISR = %t, %v, want false, nil", woken, err)
				}
				got = append(got, fmt.Sprintf("isr:%d", buf[0]))
				if q.CountFromISR() != 0 || !q.IsEmptyFromISR() || q.IsFullFromISR() {
					t.Errorf("drained queue: CountFromISR = %d, IsEmptyFromISR = %t, IsFullFromISR = %t", q.CountFromISR(), q.IsEmptyFromISR(), q.IsFullFromISR())
				}
				return woken
			})
			if q.rxLock != 1 {
				t.Errorf("rxLock = %d, want 1", q.rxLock)
			}
			if q.txLock != lockedUnmodified {
				t.Errorf("txLock = %d, want %d", q.txLock, lockedUnmodified)
			}
		}
		err := q.SendToBack([]byte{2}, kernel.MaxDelay)
		got = append(got, fmt.Sprintf("%s sent 2: %s", task.Name(), errString(err)))
		err = q.SendToBack([]byte{3}, 0)
		got = append(got, fmt.Sprintf("%s sent 3: %s", task.Name(), errString(err)))
	})
	spawn(t, k, "reader", 1, func(task *kernel.Task) {
		buf := make([]byte, 1)
		err := q.Receive(buf, 0)
		got = append(got, fmt.Sprintf("%s:%d %s", task.Name(), buf[0], errString(err)))
	})
	runKernel(t, k)

	want := []string{"isr:1", "sender sent 2: ok", "sender sent 3: queue full", "reader:2 ok"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
	if q.txLock != unlocked || q.rxLock != unlocked {
		t.Errorf("lock state = %d/%d, want unlocked", q.rxLock, q.txLock)
	}
	if n := q.waitingToSend.Len(); n != 0 {
		t.Errorf("%d tasks still waiting to send", n)
	}
}

// Deferred events are capped at the number of tasks, and the unlock wakes no
// more tasks than are waiting.
func TestDeferredEventsBounded(t *testing.T) {
	k := newKernel()
	h := &hookedScheduler{Kernel: k}
	q := mustQueue(t, h, 4, 1)
	var got []byte
	spawn(t, k, "receiver", 2, func(*kernel.Task) {
		h.beforePlace = func() {
			for _, b := range []byte{1, 2, 3} {
				if _, err := q.SendFromISR([]byte{b}, Back); err != nil {
					t.Errorf("SendFromISR(%d) failed: %v", b, err)
				}
			}
			// The receiver and idle.
			if q.txLock != 2 {
				t.Errorf("txLock = %d, want 2", q.txLock)
			}
		}
		buf := make([]byte, 1)
		if err := q.Receive(buf, kernel.MaxDelay); err != nil {
			t.Errorf("Receive failed: %v", err)
		}
		got = append(got, buf[0])
		for q.Receive(buf, 0) == nil {
			got = append(got, buf[0])
		}
	})
	runKernel(t, k)
	if diff := cmp.Diff([]byte{1, 2, 3}, got); diff != "" {
		t.Errorf("received items mismatch (-want +got):\n%s", diff)
	}
}

func TestReceiveFromISRWakesSender(t *testing.T) {
	k := newKernel()
	q := mustQueue(t, k, 1, 1)
	if err := q.SendToBack([]byte{1}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	var events []string
	spawn(t, k, "sender", 2, func(*kernel.Task) {
		if err := q.SendToBack([]byte{2}, kernel.MaxDelay); err != nil {
			t.Errorf("SendToBack failed: %v", err)
		}
		events = append(events, "sent")
	})
	spawn(t, k, "background", 1, func(*kernel.Task) {
		k.Interrupt(func() bool {
			buf := make([]byte, 1)
			woken, err := q.ReceiveFromISR(buf)
			if err != nil || buf[0] != 1 {
				t.Errorf("ReceiveFromISR = %v, %d, want nil, 1", err, buf[0])
			}
			events = append(events, "isr")
			return woken
		})
		events = append(events, "background")
	})
	runKernel(t, k)
	if diff := cmp.Diff([]string{"isr", "sent", "background"}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestBlockingFromInterruptAsserts(t *testing.T) {
	q := mustQueue(t, interruptScheduler{newKernel()}, 1, 1)
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Receive with a wait from interrupt context did not panic")
		}
	}()
	q.Receive(make([]byte, 1), 5)
}

func TestDelete(t *testing.T) {
	withAssertLog(t)
	k := newKernel()
	m, err := NewMutex(k)
	if err != nil {
		t.Fatalf("NewMutex failed: %v", err)
	}
	r := NewRegistry(4)
	if err := r.Add(m, "lock"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	spawn(t, k, "holder", 1, func(*kernel.Task) {
		if err := m.Take(0); err != nil {
			t.Errorf("Take failed: %v", err)
		}
		if err := m.Delete(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Delete of a held mutex = %v, want ErrInvalidConfig", err)
		}
		if err := m.Give(); err != nil {
			t.Errorf("Give failed: %v", err)
		}
		if err := m.Delete(); err != nil {
			t.Errorf("Delete failed: %v", err)
		}
	})
	runKernel(t, k)
	if _, ok := r.Lookup("lock"); ok {
		t.Errorf("deleted mutex is still registered")
	}
}
