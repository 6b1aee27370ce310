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

// Package cli is the main entrypoint for kqsim.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"rtos.dev/kqueue/pkg/kernel"
	"rtos.dev/kqueue/pkg/log"
	"rtos.dev/kqueue/simulator/config"
)

// version is set at link time.
var version = "dev"

// versionFlagName is the name of a flag that triggers printing the version.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	os.Exit(int(Execute(os.Args[1:], os.Stdout)))
}

// Execute parses args, sets up logging and runs the selected subcommand.
// Subcommands write their output to stdout.
func Execute(args []string, stdout io.Writer) subcommands.ExitStatus {
	flagSet := flag.NewFlagSet("kqsim", flag.ContinueOnError)
	cdr := subcommands.NewCommander(flagSet, "kqsim")

	// Register all commands.
	forEachCmd(cdr, cdr.Register)

	// Register with the main command line.
	config.RegisterFlags(flagSet)
	flagSet.Bool(versionFlagName, false, "show version and exit.")

	// All subcommands must be registered before flag parsing.
	if err := flagSet.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}

	// Are we showing the version?
	if flagSet.Lookup(versionFlagName).Value.(flag.Getter).Get().(bool) {
		fmt.Fprintf(stdout, "kqsim version %s, %s\n", version, runtime.Version())
		return subcommands.ExitSuccess
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flagSet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kqsim: %v\n", err)
		return subcommands.ExitUsageError
	}

	logFile := io.Writer(os.Stderr)
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kqsim: error opening log file %q: %v\n", conf.LogFilename, err)
			return subcommands.ExitFailure
		}
		defer f.Close()
		logFile = f
	}
	log.SetTarget(newEmitter(conf.LogFormat, logFile))
	if conf.Debug {
		log.SetLevel(log.Debug)
	} else {
		log.SetLevel(log.Info)
	}
	kernel.SetAssertMode(conf.AssertMode, conf.AssertLogEvery)

	log.Infof("kqsim version %s, %s, %s/%s, PID %d", version, runtime.Version(), runtime.GOOS, runtime.GOARCH, os.Getpid())
	log.Infof("Args: %v", args)
	conf.Log()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := forwardSignals(ctx, cancel)
	defer stopSignals()

	// Call the subcommand and pass in the configuration.
	status := cdr.Execute(ctx, conf, stdout)
	if n := kernel.SuppressedAssertions(); n > 0 {
		log.Warningf("%d failed assertions were not logged, see --assert-log-every", n)
	}
	if status != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, status: %v", status)
	}
	return status
}

// forwardSignals cancels ctx on SIGINT or SIGTERM, so that a running scenario
// gives up. It returns a function that stops watching.
func forwardSignals(ctx context.Context, cancel context.CancelFunc) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			log.Warningf("Received %v, stopping", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return func() { signal.Stop(sigs) }
}

// forEachCmd invokes the passed callback for each command supported by kqsim.
func forEachCmd(cdr *subcommands.Commander, cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(cdr.HelpCommand(), "")
	cb(cdr.FlagsCommand(), "")
	cb(cdr.CommandsCommand(), "")

	cb(new(Run), "")
	cb(new(List), "")
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	default:
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	}
}
