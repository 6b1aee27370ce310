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
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited is a Logger that forwards at most one statement per interval.
// Statements over the limit are dropped and counted; the next statement that
// gets through says how many were dropped since the last one.
type RateLimited struct {
	logger Logger
	limit  *rate.Limiter

	// pending counts statements dropped since the last one forwarded.
	pending atomic.Uint64

	// dropped counts all statements dropped.
	dropped atomic.Uint64
}

// BasicRateLimitedLogger returns a RateLimited logger writing to the global
// logger as it is when called.
func BasicRateLimitedLogger(every time.Duration) *RateLimited {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a RateLimited logger writing to logger at most
// once per every.
func RateLimitedLogger(logger Logger, every time.Duration) *RateLimited {
	return &RateLimited{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// admit decides whether a statement is forwarded, and if so, returns the
// format and arguments to forward it with.
func (rl *RateLimited) admit(format string, v []any) (string, []any, bool) {
	if !rl.limit.Allow() {
		rl.pending.Add(1)
		rl.dropped.Add(1)
		return "", nil, false
	}
	if n := rl.pending.Swap(0); n > 0 {
		return format + " (%d similar messages suppressed)", append(v[:len(v):len(v)], n), true
	}
	return format, v, true
}

// Debugf implements Logger.Debugf.
func (rl *RateLimited) Debugf(format string, v ...any) {
	if !rl.logger.IsLogging(Debug) {
		return
	}
	if format, v, ok := rl.admit(format, v); ok {
		rl.logger.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (rl *RateLimited) Infof(format string, v ...any) {
	if !rl.logger.IsLogging(Info) {
		return
	}
	if format, v, ok := rl.admit(format, v); ok {
		rl.logger.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (rl *RateLimited) Warningf(format string, v ...any) {
	if format, v, ok := rl.admit(format, v); ok {
		rl.logger.Warningf(format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (rl *RateLimited) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// Dropped returns how many statements were dropped over the lifetime of rl.
func (rl *RateLimited) Dropped() uint64 {
	return rl.dropped.Load()
}
