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

// Package scenario holds runnable, self-checking exercises of the kernel's
// blocking objects. Each scenario builds a kernel, creates objects and tasks,
// runs until every task returns, and reports what happened.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"rtos.dev/kqueue/pkg/kernel"
	"rtos.dev/kqueue/pkg/log"
	"rtos.dev/kqueue/pkg/queue"
	"rtos.dev/kqueue/simulator/config"
)

var (
	// ErrUnknownScenario is returned by Lookup callers for bad names.
	ErrUnknownScenario = errors.New("unknown scenario")

	// ErrCheckFailed is returned when a scenario observed something it did
	// not expect.
	ErrCheckFailed = errors.New("scenario check failed")
)

// Scenario is a named exercise.
type Scenario struct {
	Name        string
	Description string

	// setup creates objects and spawns tasks on env.Kernel.
	setup func(env *Env) error
}

var scenarios = make(map[string]*Scenario)

func register(s *Scenario) {
	if _, ok := scenarios[s.Name]; ok {
		panic(fmt.Sprintf("scenario %q registered twice", s.Name))
	}
	scenarios[s.Name] = s
}

// All returns every scenario, sorted by name.
func All() []*Scenario {
	all := make([]*Scenario, 0, len(scenarios))
	for _, s := range scenarios {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Lookup returns the scenario with the given name.
func Lookup(name string) (*Scenario, error) {
	s, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownScenario, name)
	}
	return s, nil
}

// Event is something a task recorded.
type Event struct {
	Tick kernel.Ticks `json:"tick" yaml:"tick"`
	Task string       `json:"task" yaml:"task"`
	Msg  string       `json:"msg" yaml:"msg"`
}

// String implements fmt.Stringer.
func (e Event) String() string {
	return fmt.Sprintf("[%5d] %-10s %s", e.Tick, e.Task, e.Msg)
}

// Report is the outcome of a scenario run.
type Report struct {
	Scenario string        `json:"scenario" yaml:"scenario"`
	Ticks    kernel.Ticks  `json:"ticks" yaml:"ticks"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
	Events   []Event       `json:"events" yaml:"events"`
}

// Messages returns the recorded messages prefixed by the task name.
func (r *Report) Messages() []string {
	msgs := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		msgs = append(msgs, e.Task+": "+e.Msg)
	}
	return msgs
}

// WriteTo writes a human readable form of r to w.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s: %d events, %d ticks, %v\n", r.Scenario, len(r.Events), r.Ticks, r.Elapsed)
	for _, e := range r.Events {
		fmt.Fprintf(&b, "  %v\n", e)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Env is what a scenario builds on.
type Env struct {
	Kernel   *kernel.Kernel
	Registry *queue.Registry

	mu       sync.Mutex
	events   []Event
	failures []string
	objects  []*queue.Queue
}

// Record records an event on behalf of task.
func (e *Env) Record(task *kernel.Task, format string, v ...any) {
	ev := Event{
		Tick: e.Kernel.Now(),
		Task: task.Name(),
		Msg:  fmt.Sprintf(format, v...),
	}
	log.Debugf("scenario: %v", ev)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

// Checkf records a failure if cond is false.
func (e *Env) Checkf(cond bool, format string, v ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, v...)
	log.Warningf("scenario: check failed: %s", msg)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, msg)
}

// Spawn spawns a task, recording a failure if that is not possible.
func (e *Env) Spawn(name string, prio kernel.Priority, fn func(t *kernel.Task)) {
	_, err := e.Kernel.Spawn(name, prio, fn)
	e.Checkf(err == nil, "spawn %q: %v", name, err)
}

// Name registers q under name and returns it. Objects named here are deleted
// after a successful run.
func (e *Env) Name(q *queue.Queue, name string) *queue.Queue {
	if err := e.Registry.Add(q, name); err != nil {
		log.Warningf("scenario: not naming %v %q: %v", q, name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.objects = append(e.objects, q)
	return q
}

// cleanup deletes the objects created through Name.
func (e *Env) cleanup() {
	for _, q := range e.objects {
		if set := q.Container(); set != nil {
			if err := queue.RemoveFromSet(q, set); err != nil {
				log.Warningf("scenario: removing %v from %v: %v", q, set, err)
				continue
			}
		}
	}
	for _, q := range e.objects {
		if err := q.Delete(); err != nil {
			log.Warningf("scenario: deleting %v: %v", q, err)
		}
	}
}

// Run runs s on a fresh kernel configured by conf.
func (s *Scenario) Run(ctx context.Context, conf *config.Config) (*Report, error) {
	kconf := conf.KernelConfig()
	env := &Env{
		Kernel:   kernel.New(kconf),
		Registry: queue.NewRegistry(conf.RegistrySize),
	}
	if err := s.setup(env); err != nil {
		return nil, fmt.Errorf("scenario %q: setup: %w", s.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, conf.Timeout)
	defer cancel()
	log.Infof("scenario: running %q", s.Name)
	defer log.SetTickSource(env.Kernel.LastTick)()
	start := time.Now()
	if err := runKernel(ctx, env.Kernel, kconf); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	env.cleanup()

	report := &Report{
		Scenario: s.Name,
		Ticks:    env.Kernel.Now(),
		Elapsed:  time.Since(start),
		Events:   env.events,
	}
	if len(env.failures) > 0 {
		return report, fmt.Errorf("scenario %q: %w: %s", s.Name, ErrCheckFailed, strings.Join(env.failures, "; "))
	}
	log.Infof("scenario: %q passed after %d ticks", s.Name, report.Ticks)
	return report, nil
}

// runKernel runs k, and unless k uses virtual time, a tick source next to
// it.
func runKernel(ctx context.Context, k *kernel.Kernel, conf kernel.Config) error {
	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return k.Run(ctx)
	})
	if !conf.VirtualTime {
		g.Go(func() error {
			ticker := time.NewTicker(k.TickPeriod())
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					k.Tick()
				case <-done:
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
