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
	"fmt"
	"sync/atomic"
	"time"

	"rtos.dev/kqueue/pkg/log"
)

// AssertMode selects what a failed assertion does.
type AssertMode uint32

const (
	// AssertFatal panics on a failed assertion. This is the debug-build
	// behavior and the default.
	AssertFatal AssertMode = iota

	// AssertLog logs failed assertions, rate limited, and carries on.
	// Behavior after a failed assertion is undefined.
	AssertLog
)

// String implements fmt.Stringer.
func (m AssertMode) String() string {
	switch m {
	case AssertFatal:
		return "fatal"
	case AssertLog:
		return "log"
	default:
		return fmt.Sprintf("AssertMode(%d)", uint32(m))
	}
}

// ParseAssertMode parses the names returned by AssertMode.String.
func ParseAssertMode(s string) (AssertMode, error) {
	switch s {
	case "fatal":
		return AssertFatal, nil
	case "log":
		return AssertLog, nil
	default:
		return 0, fmt.Errorf("invalid assert mode %q, must be 'fatal' or 'log'", s)
	}
}

// Set implements flag.Value.
func (m *AssertMode) Set(v string) error {
	mode, err := ParseAssertMode(v)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Get implements flag.Getter.
func (m *AssertMode) Get() any {
	return *m
}

var (
	assertMode   atomic.Uint32
	assertLogger atomic.Pointer[log.RateLimited]
)

// SetAssertMode sets the global assertion mode. In AssertLog mode at most one
// failure per every is logged. The suppressed count restarts at zero.
func SetAssertMode(mode AssertMode, every time.Duration) {
	assertLogger.Store(log.BasicRateLimitedLogger(every))
	assertMode.Store(uint32(mode))
}

// SuppressedAssertions returns how many failed assertions were not logged
// because of the rate limit since the last SetAssertMode.
func SuppressedAssertions() uint64 {
	if l := assertLogger.Load(); l != nil {
		return l.Dropped()
	}
	return 0
}

// Assertf checks a contract that callers of the kernel must honor. It returns
// cond, so that in AssertLog mode callers can refuse the operation instead of
// corrupting state.
func Assertf(cond bool, format string, v ...any) bool {
	if cond {
		return true
	}
	if AssertMode(assertMode.Load()) == AssertFatal {
		panic(fmt.Sprintf("assertion failed: "+format, v...))
	}
	if l := assertLogger.Load(); l != nil {
		l.Warningf("assertion failed: "+format, v...)
	} else {
		log.Warningf("assertion failed: "+format, v...)
	}
	return false
}
