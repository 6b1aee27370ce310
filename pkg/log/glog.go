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

import (
	"os"
	"strconv"
	"strings"
	"time"
	"unsafe"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
//
// When a tick source is installed (see SetTickSource), the message is
// prefixed with "@<tick> " so that lines from a simulation can be lined up
// with its event trace.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

// header accumulates one log line. Most lines fit in local, which keeps
// them off the heap.
type header struct {
	local [256]byte
}

// appendPadded appends v in decimal, zero padded on the left to width digits.
// Only the low width digits of v are kept.
func appendPadded(b []byte, v, width int) []byte {
	for i := width - 1; i >= 0; i-- {
		d := v
		for j := 0; j < i; j++ {
			d /= 10
		}
		b = append(b, byte('0'+d%10))
	}
	return b
}

// threadID is the space padded thread id column. glog pads it to 7 columns.
var threadID = func() []byte {
	id := strconv.Itoa(os.Getpid())
	if n := 7 - len(id); n > 0 {
		id = strings.Repeat(" ", n) + id
	}
	return []byte(id)
}()

// levelChar maps levels to their glog letter.
var levelChar = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}

func (h *header) format(depth int, level Level, timestamp time.Time, format string) string {
	// Lmmdd hh:mm:ss.uuuuuu threadid file:line] @tick msg
	b := h.local[:0]
	if int(level) < len(levelChar) {
		b = append(b, levelChar[level])
	} else {
		b = append(b, '?')
	}
	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	b = appendPadded(b, int(month), 2)
	b = appendPadded(b, day, 2)
	b = append(b, ' ')
	b = appendPadded(b, hour, 2)
	b = append(b, ':')
	b = appendPadded(b, minute, 2)
	b = append(b, ':')
	b = appendPadded(b, second, 2)
	b = append(b, '.')
	b = appendPadded(b, timestamp.Nanosecond()/1000, 6)
	b = append(b, ' ')
	b = append(b, threadID...)
	b = append(b, ' ')

	if caller := callerOf(depth + 1); caller != "" {
		b = append(b, caller...)
	} else {
		b = append(b, "???:0"...)
	}
	b = append(b, "] "...)

	if tick, ok := currentTick(); ok {
		b = append(b, '@')
		b = strconv.AppendUint(b, tick, 10)
		b = append(b, ' ')
	}
	b = append(b, format...)
	b = append(b, '\n')
	return unsafe.String(&b[0], len(b))
}

// Emit emits the message, google-style.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var h header
	// The header is used as the format string, so the message's own format
	// verbs are expanded by the underlying emitter.
	g.Emitter.Emit(depth+1, level, timestamp, h.format(depth+1, level, timestamp, format), args...)
}
