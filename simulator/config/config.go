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

// Package config holds the configuration of the kqsim simulator.
package config

import (
	"fmt"
	"reflect"
	"time"

	"rtos.dev/kqueue/pkg/kernel"
	"rtos.dev/kqueue/pkg/log"
)

// Config holds the simulator settings. Fields tagged with "flag" are
// populated from the flag of that name, see RegisterFlags.
type Config struct {
	// ConfigFile is a TOML file with flag values. Flags given on the
	// command line take precedence.
	ConfigFile string `flag:"config"`

	// LogFilename is the file logs are written to. Empty means stderr.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format"`

	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// MaxPriorities is the number of task priorities.
	MaxPriorities int `flag:"max-priorities"`

	// TickPeriod is the duration of one kernel tick.
	TickPeriod time.Duration `flag:"tick-period"`

	// VirtualTime makes time jump to the next timeout when every task is
	// blocked, instead of waiting for real ticks.
	VirtualTime bool `flag:"virtual-time"`

	// AssertMode is what failed kernel assertions do.
	AssertMode kernel.AssertMode `flag:"assert-mode"`

	// AssertLogEvery rate limits assertion failures in log mode.
	AssertLogEvery time.Duration `flag:"assert-log-every"`

	// Timeout bounds the run of a scenario.
	Timeout time.Duration `flag:"timeout"`

	// RegistrySize is the number of objects the queue registry can name.
	RegistrySize int `flag:"registry-size"`
}

func (c *Config) validate() error {
	if c.MaxPriorities < 2 || c.MaxPriorities > 256 {
		return fmt.Errorf("max-priorities must be in [2, 256], got %d", c.MaxPriorities)
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick-period must be positive, got %v", c.TickPeriod)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.RegistrySize < 0 {
		return fmt.Errorf("registry-size must not be negative, got %d", c.RegistrySize)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// KernelConfig returns the kernel settings.
func (c *Config) KernelConfig() kernel.Config {
	return kernel.Config{
		MaxPriorities: c.MaxPriorities,
		TickPeriod:    c.TickPeriod,
		VirtualTime:   c.VirtualTime,
	}
}

// Log logs the configuration.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
	}
}
