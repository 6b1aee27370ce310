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
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"rtos.dev/kqueue/pkg/kernel"
)

func TestSetMembership(t *testing.T) {
	k := newKernel()
	set, err := NewSet(k, 3)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	q1 := mustQueue(t, k, 2, 1)
	q2 := mustQueue(t, k, 1, 1)
	if err := AddToSet(q1, set); err != nil {
		t.Fatalf("AddToSet(q1) failed: %v", err)
	}
	if got := q1.Container(); got != set {
		t.Errorf("Container = %v, want %v", got, set)
	}
	if err := AddToSet(q1, set); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("second AddToSet(q1) = %v, want ErrInvalidConfig", err)
	}

	if err := q2.SendToBack([]byte{1}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	if err := AddToSet(q2, set); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("AddToSet of a non-empty queue = %v, want ErrInvalidConfig", err)
	}
	if err := RemoveFromSet(q2, set); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("RemoveFromSet of a non-member = %v, want ErrInvalidConfig", err)
	}
	long := mustQueue(t, k, 2, 1)
	if err := AddToSet(long, set); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("AddToSet past the set length = %v, want ErrInvalidConfig", err)
	}

	if err := q1.SendToBack([]byte{1}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	if err := RemoveFromSet(q1, set); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("RemoveFromSet of a non-empty member = %v, want ErrInvalidConfig", err)
	}
	if err := q1.Receive(make([]byte, 1), 0); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := RemoveFromSet(q1, set); err != nil {
		t.Errorf("RemoveFromSet failed: %v", err)
	}
	if got := q1.Container(); got != nil {
		t.Errorf("Container after RemoveFromSet = %v, want none", got)
	}
}

// A set resolves only its own members: a member that left the set after it
// was announced resolves to nothing, and sets on other kernels are separate.
func TestSetResolvesOwnMembers(t *testing.T) {
	k := newKernel()
	set, err := NewSet(k, 1)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	q := mustQueue(t, k, 1, 1)
	if err := AddToSet(q, set); err != nil {
		t.Fatalf("AddToSet failed: %v", err)
	}
	if err := q.SendToBack([]byte{1}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	// Drain q behind the set's back, then leave.
	if err := q.Receive(make([]byte, 1), 0); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := RemoveFromSet(q, set); err != nil {
		t.Fatalf("RemoveFromSet failed: %v", err)
	}
	if got := SelectFromSetFromISR(set); got != nil {
		t.Errorf("SelectFromSetFromISR = %v for a member that left, want nil", got)
	}
	if n := len(set.memberTable); n != 0 {
		t.Errorf("set still resolves %d members", n)
	}

	other := newKernel()
	otherSet, err := NewSet(other, 1)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	oq := mustQueue(t, other, 1, 1)
	if err := AddToSet(oq, otherSet); err != nil {
		t.Fatalf("AddToSet failed: %v", err)
	}
	if err := oq.SendToBack([]byte{2}, 0); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	if got := SelectFromSetFromISR(set); got != nil {
		t.Errorf("SelectFromSetFromISR(set) = %v, want nil", got)
	}
	got, err := SelectFromSet(otherSet, 0)
	if err != nil || got != oq {
		t.Errorf("SelectFromSet(otherSet) = %v, %v, want %v", got, err, oq)
	}
}

func TestSetRejectsMutex(t *testing.T) {
	withAssertLog(t)
	k := newKernel()
	set, err := NewSet(k, 1)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	m, err := NewMutex(k)
	if err != nil {
		t.Fatalf("NewMutex failed: %v", err)
	}
	if err := AddToSet(m, set); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("AddToSet of a mutex = %v, want ErrInvalidConfig", err)
	}
}

func TestSelectFromSet(t *testing.T) {
	k := newKernel()
	set, err := NewSet(k, 3)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	q := mustQueue(t, k, 2, 1)
	sem, err := NewBinarySemaphore(k)
	if err != nil {
		t.Fatalf("NewBinarySemaphore failed: %v", err)
	}
	for _, member := range []*Queue{q, sem} {
		if err := AddToSet(member, set); err != nil {
			t.Fatalf("AddToSet(%v) failed: %v", member, err)
		}
	}
	var got []string
	spawn(t, k, "selector", 2, func(*kernel.Task) {
		for i := 0; i < 3; i++ {
			member, err := SelectFromSet(set, kernel.MaxDelay)
			if err != nil {
				t.Errorf("SelectFromSet failed: %v", err)
				return
			}
			switch member {
			case q:
				buf := make([]byte, 1)
				if err := q.Receive(buf, 0); err != nil {
					t.Errorf("Receive failed: %v", err)
				}
				got = append(got, fmt.Sprintf("queue %d", buf[0]))
			case sem:
				if err := sem.Take(0); err != nil {
					t.Errorf("Take failed: %v", err)
				}
				got = append(got, "semaphore")
			default:
				t.Errorf("SelectFromSet returned %v", member)
			}
		}
	})
	spawn(t, k, "feeder", 1, func(*kernel.Task) {
		if err := q.SendToBack([]byte{7}, 0); err != nil {
			t.Errorf("SendToBack failed: %v", err)
		}
		if err := sem.Give(); err != nil {
			t.Errorf("Give failed: %v", err)
		}
		if err := q.SendToBack([]byte{8}, 0); err != nil {
			t.Errorf("SendToBack failed: %v", err)
		}
	})
	runKernel(t, k)
	if diff := cmp.Diff([]string{"queue 7", "semaphore", "queue 8"}, got); diff != "" {
		t.Errorf("selected members mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectFromSetTimeout(t *testing.T) {
	k := newKernel()
	set, err := NewSet(k, 1)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	spawn(t, k, "selector", 1, func(*kernel.Task) {
		if member, err := SelectFromSet(set, 3); !errors.Is(err, ErrEmpty) || member != nil {
			t.Errorf("SelectFromSet = %v, %v, want nil, ErrEmpty", member, err)
		}
	})
	runKernel(t, k)
}

func TestSetOverwriteNotifiesOnce(t *testing.T) {
	k := newKernel()
	set, err := NewSet(k, 1)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	q := mustQueue(t, k, 1, 1)
	if err := AddToSet(q, set); err != nil {
		t.Fatalf("AddToSet failed: %v", err)
	}
	for _, b := range []byte{1, 2, 3} {
		if err := q.Overwrite([]byte{b}); err != nil {
			t.Fatalf("Overwrite(%d) failed: %v", b, err)
		}
	}
	if got := set.Count(); got != 1 {
		t.Errorf("set holds %d events, want 1", got)
	}
	if got := SelectFromSetFromISR(set); got != q {
		t.Errorf("SelectFromSetFromISR = %v, want %v", got, q)
	}
	if got := SelectFromSetFromISR(set); got != nil {
		t.Errorf("SelectFromSetFromISR on an empty set = %v, want none", got)
	}
}

func TestSetNotifiedFromISR(t *testing.T) {
	k := newKernel()
	set, err := NewSet(k, 2)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	q := mustQueue(t, k, 2, 1)
	if err := AddToSet(q, set); err != nil {
		t.Fatalf("AddToSet failed: %v", err)
	}
	var events []string
	spawn(t, k, "selector", 2, func(*kernel.Task) {
		member, err := SelectFromSet(set, kernel.MaxDelay)
		if err != nil || member != q {
			t.Errorf("SelectFromSet = %v, %v, want %v, nil", member, err, q)
		}
		events = append(events, "selected")
	})
	spawn(t, k, "background", 1, func(*kernel.Task) {
		k.Interrupt(func() bool {
			woken, err := q.SendFromISR([]byte{5}, Back)
			if err != nil {
				t.Errorf("SendFromISR failed: %v", err)
			}
			return woken
		})
		events = append(events, "background")
	})
	runKernel(t, k)
	if diff := cmp.Diff([]string{"selected", "background"}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if got := q.Count(); got != 1 {
		t.Errorf("member holds %d items, want 1", got)
	}
}
