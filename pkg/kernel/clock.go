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

import "time"

// Clock reads kernel time as wall-clock time, one TickPeriod per tick, from a
// fixed epoch. It satisfies the Clock interfaces of retry libraries so that
// backoff schedules can run on virtual time.
type Clock struct {
	k     *Kernel
	epoch time.Time
}

// Clock returns a Clock for k.
func (k *Kernel) Clock() *Clock {
	return &Clock{k: k, epoch: time.Unix(0, 0)}
}

// Now returns the time of the current tick.
func (c *Clock) Now() time.Time {
	return c.epoch.Add(time.Duration(c.k.Now()) * c.k.cfg.TickPeriod)
}
