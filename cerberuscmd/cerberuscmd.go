// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cerberuscmd implements the cerberus command line tool. A
// cerberus binary registers its target functions and then calls
// Main:
//
//	var _ = cerberus.Func("demo.square", func(x int64) int64 {
//		return x * x
//	})
//
//	func main() {
//		cerberuscmd.Main()
//	}
//
// The same binary acts as the orchestrator, with the run subcommand,
// and as the controller started on each remote machine, with the
// controller subcommand.
package cerberuscmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/rowanphipps/Cerberus"
	"github.com/rowanphipps/Cerberus/controller"
	"github.com/rowanphipps/Cerberus/exec"
	"github.com/rowanphipps/Cerberus/manifest"
)

// Path determines the location of the configuration profile read by
// Main.
var Path = os.ExpandEnv("$HOME/.cerberus/config")

func usage() {
	fmt.Fprintf(os.Stderr, `Cerberus computes a function over a range of integers on local and
remote machines.

Usage:

	cerberus [flags] <command> [arguments]

The commands are:

	run         compute the project's function over a range
	controller  serve blocks on standard input and output
	funcs       list the registered functions

Flags:

`)
	flag.PrintDefaults()
	os.Exit(2)
}

// Main parses global flags and runs the command named by the first
// argument. Main does not return. If the command fails, the error is
// reported and the process exits with code 1; an interrupted run
// exits with code 130.
func Main() {
	log.AddFlags()
	config.RegisterFlags("", Path)
	flag.Usage = usage
	flag.Parse()
	must.Nil(config.ProcessFlags())
	if flag.NArg() == 0 {
		flag.Usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "run":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err = Run(ctx, os.Stdout, args)
		stop()
		if errors.Is(errors.Canceled, err) {
			fmt.Println("\nAborting")
			os.Exit(130)
		}
	case "controller":
		err = Controller(os.Stdin, os.Stdout, args)
	case "funcs":
		fmt.Println(strings.Join(cerberus.Names(), "\n"))
	}
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}

// RunUsage is the usage message of the run command.
const RunUsage = `usage: cerberus run [flags] stop output

Run computes the project's function over [start, stop), on this
machine and on the project's remotes, and writes the results to
output as a JSON object mapping each input to its output. The output
is written only if every block completes.

Flags:
`

// Run runs the run command with the provided arguments. Progress is
// written to stdout.
func Run(ctx context.Context, stdout io.Writer, args []string) error {
	var (
		flags      = flag.NewFlagSet("run", flag.ContinueOnError)
		start      = flags.Int64("s", 0, "the first input")
		blockSize  = flags.Int64("b", 0, "the number of inputs per block; 0 picks a power of ten")
		localOnly  = flags.Bool("l", false, "compute only on this machine")
		remoteOnly = flags.Bool("r", false, "compute only on the project's remotes")
		project    = flags.String("project", manifest.DefaultPath, "the project manifest")
		httpAddr   = flags.String("http", "", "address at which run status is served, at /debug/status")
	)
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), RunUsage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return errors.E(errors.Invalid, "run", err)
	}
	if flags.NArg() != 2 {
		flags.Usage()
		return errors.E(errors.Invalid, "run: expected stop and output arguments")
	}
	stop, err := strconv.ParseInt(flags.Arg(0), 10, 64)
	if err != nil {
		return errors.E(errors.Invalid, fmt.Sprintf("run: invalid stop %q", flags.Arg(0)))
	}
	output := flags.Arg(1)
	switch {
	case *localOnly && *remoteOnly:
		return errors.E(errors.Invalid, "run: -l and -r are mutually exclusive")
	case stop <= *start:
		return errors.E(errors.Invalid, "run: stop - start must be at least 1")
	}

	p, err := manifest.Load(ctx, *project)
	if err != nil {
		return err
	}
	fn, err := cerberus.Lookup(p.FuncName())
	if err != nil {
		return err
	}
	var cfg *exec.Config
	if err := config.Instance("cerberus", &cfg); err != nil {
		return err
	}
	st := new(status.Status)
	options := append(cfg.Options(),
		exec.Controller(p.ControllerCommand()...),
		exec.Progress(stdout),
		exec.Status(st),
	)
	if !*remoteOnly {
		options = append(options, exec.Local)
	}
	if !*localOnly && len(p.Remotes) > 0 {
		options = append(options, exec.Remote(cfg.Transport, p.Targets()...))
	}
	if *remoteOnly && len(p.Remotes) == 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("run: project %s has no remotes", p.Name))
	}
	if *httpAddr != "" {
		serveStatus(*httpAddr, st)
	}

	res, err := exec.Start(options...).Run(ctx, fn, *start, stop, *blockSize)
	if err != nil {
		return err
	}
	if err := res.WriteFile(ctx, output); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Done")
	return nil
}

// serveStatus serves st at /debug/status on addr.
func serveStatus(addr string, st *status.Status) {
	mux := http.NewServeMux()
	mux.Handle("/debug/status", status.Handler(st))
	go func() {
		log.Printf("HTTP status at: %v", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error.Printf("failed to serve HTTP status at %v: %v", addr, err)
		}
	}()
}

// Controller runs the controller command with the provided arguments,
// serving requests read from stdin.
func Controller(stdin io.Reader, stdout io.Writer, args []string) error {
	c, err := controller.Command(args)
	if err != nil {
		return err
	}
	return c.Serve(stdin, stdout)
}
