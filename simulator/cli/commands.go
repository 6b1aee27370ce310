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

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
	"rtos.dev/kqueue/pkg/log"
	"rtos.dev/kqueue/simulator/config"
	"rtos.dev/kqueue/simulator/scenario"
)

type outputFunc func(io.Writer, *scenario.Report) error

// outputMap maps output format names to output functions.
var outputMap = map[string]outputFunc{
	"text": outputText,
	"json": outputJSON,
	"yaml": outputYAML,
}

func outputText(w io.Writer, r *scenario.Report) error {
	_, err := r.WriteTo(w)
	return err
}

func outputJSON(w io.Writer, r *scenario.Report) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(r)
}

func outputYAML(w io.Writer, r *scenario.Report) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(r); err != nil {
		return err
	}
	return e.Close()
}

// status formats a PASS/FAIL verdict, in color if w is a terminal.
func status(w io.Writer, pass bool) string {
	verdict, color := "PASS", "32"
	if !pass {
		verdict, color = "FAIL", "31"
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "\x1b[" + color + "m" + verdict + "\x1b[0m"
	}
	return verdict
}

// Run implements subcommands.Command for the "run" command.
type Run struct {
	output   string
	quiet    bool
	failFast bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "Run scenarios and print what happened."
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] [scenario...] - Run the named scenarios, or all of them.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.output, "o", "text", "Output format (text, json, yaml).")
	f.BoolVar(&r.quiet, "quiet", false, "only print failures.")
	f.BoolVar(&r.failFast, "fail-fast", false, "stop at the first failing scenario.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	out := args[1].(io.Writer)
	output, ok := outputMap[r.output]
	if !ok {
		fmt.Fprintf(out, "unsupported output format %q\n", r.output)
		return subcommands.ExitUsageError
	}

	var toRun []*scenario.Scenario
	if f.NArg() == 0 {
		toRun = scenario.All()
	}
	for _, name := range f.Args() {
		s, err := scenario.Lookup(name)
		if err != nil {
			fmt.Fprintf(out, "%v\n", err)
			return subcommands.ExitUsageError
		}
		toRun = append(toRun, s)
	}

	ret := subcommands.ExitSuccess
	for _, s := range toRun {
		report, err := s.Run(ctx, conf)
		if err != nil {
			log.Warningf("%v", err)
			fmt.Fprintf(out, "%s %s: %v\n", status(out, false), s.Name, err)
			if report != nil && !errors.Is(err, context.Canceled) {
				if err := output(out, report); err != nil {
					log.Warningf("Error writing report: %v", err)
				}
			}
			ret = subcommands.ExitFailure
			if r.failFast || ctx.Err() != nil {
				break
			}
			continue
		}
		if r.quiet {
			continue
		}
		fmt.Fprintf(out, "%s %s\n", status(out, true), s.Name)
		if err := output(out, report); err != nil {
			log.Warningf("Error writing report: %v", err)
			return subcommands.ExitFailure
		}
	}
	return ret
}

// List implements subcommands.Command for the "list" command.
type List struct{}

// Name implements subcommands.Command.Name.
func (*List) Name() string {
	return "list"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*List) Synopsis() string {
	return "List the available scenarios."
}

// Usage implements subcommands.Command.Usage.
func (*List) Usage() string {
	return `list - List the available scenarios.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*List) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*List) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	out := args[1].(io.Writer)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "NAME\tDESCRIPTION\n")
	for _, s := range scenario.All() {
		fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Description)
	}
	if err := w.Flush(); err != nil {
		log.Warningf("Error writing scenario list: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
