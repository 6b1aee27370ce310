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

package log

import "sync/atomic"

// TickSource returns the scheduler tick at which a statement is logged. It is
// called from inside the emitters, possibly with interrupts masked, so it must
// not block.
type TickSource func() uint64

var tickSource atomic.Pointer[TickSource]

// SetTickSource makes emitters stamp each statement with the value of fn, and
// returns a function that restores the previous source. A nil fn disables
// stamping.
func SetTickSource(fn TickSource) (restore func()) {
	var p *TickSource
	if fn != nil {
		p = &fn
	}
	old := tickSource.Swap(p)
	return func() { tickSource.Store(old) }
}

// currentTick returns the tick to stamp on a statement, if any.
func currentTick() (uint64, bool) {
	p := tickSource.Load()
	if p == nil {
		return 0, false
	}
	return (*p)(), true
}
