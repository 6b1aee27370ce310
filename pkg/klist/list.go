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

// Package klist provides the kernel's ordered intrusive list.
//
// A List is circular and terminated by a sentinel node whose key is MaxKey,
// so a sorted walk always stops at the sentinel without a nil check. Nodes
// are embedded in their owners (tasks, mostly) and carry a back reference to
// the List that currently holds them, which makes removal O(1) without the
// caller naming the list.
//
// Lists and nodes are not synchronized. Callers serialize access the same way
// the kernel does: with interrupts masked or the scheduler suspended.
package klist

import "fmt"

// Key is the ordering value of a node.
type Key uint64

// MaxKey is the key of a list's sentinel. Nodes inserted with MaxKey always
// go to the tail.
const MaxKey = ^Key(0)

// Node is a list-insertable unit. It is owned by at most one List at a time.
//
// The zero value is a detached node with no owner.
type Node struct {
	key   Key
	owner any

	next *Node
	prev *Node

	// container is the list holding this node, or nil when detached.
	container *List
}

// Init sets the node's owner and detaches it.
func (n *Node) Init(owner any) {
	n.owner = owner
	n.next = nil
	n.prev = nil
	n.container = nil
}

// Key returns the node's sort key.
func (n *Node) Key() Key {
	return n.key
}

// SetKey sets the node's sort key. It does not reorder a linked node.
func (n *Node) SetKey(k Key) {
	n.key = k
}

// Owner returns the owner reference set by Init.
func (n *Node) Owner() any {
	return n.owner
}

// Container returns the list holding n, or nil.
func (n *Node) Container() *List {
	return n.container
}

// Linked returns true iff n is linked into a list.
func (n *Node) Linked() bool {
	return n.container != nil
}

// Next returns the node following n, or nil if n is the last real node.
func (n *Node) Next() *Node {
	if n.container == nil || n.next == &n.container.end {
		return nil
	}
	return n.next
}

// Prev returns the node preceding n, or nil if n is the first real node.
func (n *Node) Prev() *Node {
	if n.container == nil || n.prev == &n.container.end {
		return nil
	}
	return n.prev
}

// List is a sorted, circular, sentinel-terminated doubly linked list.
//
// A List must be initialized with Init before use and must not be copied
// afterwards, since the sentinel links point back into the List itself.
type List struct {
	// end is the sentinel. Its key is MaxKey and it is never removed.
	end Node

	// index is the roaming cursor used by NextOwner. It points either at
	// the sentinel or at a real node in the list.
	index *Node

	count int
}

// Init resets l to the empty state. Any nodes still linked into l are
// silently abandoned; callers must only Init a list that is empty or that
// nobody references.
func (l *List) Init() {
	l.end.key = MaxKey
	l.end.owner = nil
	l.end.next = &l.end
	l.end.prev = &l.end
	l.end.container = nil
	l.index = &l.end
	l.count = 0
}

// Len returns the number of real nodes in l.
func (l *List) Len() int {
	return l.count
}

// Empty returns true iff l holds no real nodes.
func (l *List) Empty() bool {
	return l.count == 0
}

// Head returns the first real node, or nil if l is empty.
func (l *List) Head() *Node {
	if l.count == 0 {
		return nil
	}
	return l.end.next
}

// Tail returns the last real node, or nil if l is empty.
func (l *List) Tail() *Node {
	if l.count == 0 {
		return nil
	}
	return l.end.prev
}

// HeadKey returns the key of the first node, or MaxKey if l is empty.
func (l *List) HeadKey() Key {
	return l.end.next.key
}

// HeadOwner returns the owner of the first node, or nil if l is empty.
func (l *List) HeadOwner() any {
	if l.count == 0 {
		return nil
	}
	return l.end.next.owner
}

// InsertTail links n immediately before the sentinel, ignoring key order.
//
// Preconditions: n is detached.
func (l *List) InsertTail(n *Node) {
	l.checkDetached(n)
	l.linkBefore(&l.end, n)
}

// InsertSorted links n in key order. Nodes with a key equal to one already
// present are placed after the existing ones, so equal keys come out FIFO.
//
// Preconditions: n is detached.
func (l *List) InsertSorted(n *Node) {
	l.checkDetached(n)
	if n.key == MaxKey {
		l.linkBefore(&l.end, n)
		return
	}
	// The sentinel's key is MaxKey, so this terminates.
	it := l.end.next
	for it.key <= n.key {
		it = it.next
	}
	l.linkBefore(it, n)
}

// Remove unlinks n from the list holding it and returns the number of nodes
// left in that list. If the roaming cursor pointed at n it is moved back to
// n's predecessor.
//
// Preconditions: n is linked.
func Remove(n *Node) int {
	l := n.container
	if l == nil {
		panic(fmt.Sprintf("klist: Remove of detached node %p", n))
	}
	return l.Remove(n)
}

// Remove unlinks n from l. See the package-level Remove.
//
// Preconditions: n is linked into l.
func (l *List) Remove(n *Node) int {
	if n.container != l {
		panic(fmt.Sprintf("klist: node %p is not linked into list %p", n, l))
	}
	n.next.prev = n.prev
	n.prev.next = n.next
	if l.index == n {
		l.index = n.prev
	}
	n.next = nil
	n.prev = nil
	n.container = nil
	l.count--
	return l.count
}

// NextOwner advances the roaming cursor to the next real node, wrapping past
// the sentinel, and returns that node's owner. It returns nil if l is empty.
//
// Repeated calls visit every node in turn, which is how equal-priority tasks
// share the processor.
func (l *List) NextOwner() any {
	if l.count == 0 {
		return nil
	}
	l.index = l.index.next
	if l.index == &l.end {
		l.index = l.index.next
	}
	return l.index.owner
}

// Cursor returns the node the roaming cursor points at, or nil if it is at
// the sentinel.
func (l *List) Cursor() *Node {
	if l.index == &l.end {
		return nil
	}
	return l.index
}

// ForEach calls fn on each node from head to tail until fn returns false.
// fn must not modify l.
func (l *List) ForEach(fn func(*Node) bool) {
	for it := l.end.next; it != &l.end; it = it.next {
		if !fn(it) {
			return
		}
	}
}

// Keys returns the keys of all nodes from head to tail.
func (l *List) Keys() []Key {
	keys := make([]Key, 0, l.count)
	l.ForEach(func(n *Node) bool {
		keys = append(keys, n.key)
		return true
	})
	return keys
}

func (l *List) checkDetached(n *Node) {
	if n.container != nil {
		panic(fmt.Sprintf("klist: node %p is already linked into list %p", n, n.container))
	}
}

// linkBefore links n immediately before at.
func (l *List) linkBefore(at, n *Node) {
	n.next = at
	n.prev = at.prev
	at.prev.next = n
	at.prev = n
	n.container = l
	l.count++
}
