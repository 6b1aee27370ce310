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
	"sync"

	"github.com/google/btree"
)

// ErrRegistryFull is returned by Registry.Add when no slot is left.
var ErrRegistryFull = errors.New("queue registry full")

// registryEntry orders objects by name, then by handle.
type registryEntry struct {
	name string
	q    *Queue
}

func lessEntry(a, b registryEntry) bool {
	if a.name != b.name {
		return a.name < b.name
	}
	return a.q.handle < b.q.handle
}

// Registry gives blocking objects names for debugging. It holds at most a
// fixed number of objects.
type Registry struct {
	mu sync.Mutex

	size int

	// +checklocks:mu
	names map[*Queue]string

	// +checklocks:mu
	index *btree.BTreeG[registryEntry]
}

// NewRegistry creates a registry with room for size objects.
func NewRegistry(size int) *Registry {
	return &Registry{
		size:  size,
		names: make(map[*Queue]string),
		index: btree.NewG(8, lessEntry),
	}
}

// Add names q. Adding an object again renames it.
func (r *Registry) Add(q *Queue, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.names[q]; ok {
		r.index.Delete(registryEntry{name: old, q: q})
	} else if len(r.names) >= r.size {
		return ErrRegistryFull
	}
	r.names[q] = name
	r.index.ReplaceOrInsert(registryEntry{name: name, q: q})
	q.registry = r
	return nil
}

// Name returns the name of q.
func (r *Registry) Name(q *Queue) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[q]
	return name, ok
}

// Lookup returns the oldest object registered under name.
func (r *Registry) Lookup(name string) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Queue
	r.index.AscendGreaterOrEqual(registryEntry{name: name, q: &Queue{}}, func(e registryEntry) bool {
		if e.name == name {
			found = e.q
		}
		return false
	})
	return found, found != nil
}

// Unregister removes q from the registry.
func (r *Registry) Unregister(q *Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[q]
	if !ok {
		return
	}
	delete(r.names, q)
	r.index.Delete(registryEntry{name: name, q: q})
	if q.registry == r {
		q.registry = nil
	}
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, r.index.Len())
	r.index.Ascend(func(e registryEntry) bool {
		names = append(names, e.name)
		return true
	})
	return names
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}
