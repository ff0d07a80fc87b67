// Command tsmap estimates test statistic and flux maps from binned
// gamma-ray datasets and keeps a catalogue of past runs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/tsmap/internal/version"
)

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	err := dispatch(flag.Arg(0), flag.Args()[1:], os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func dispatch(command string, args []string, out io.Writer) error {
	switch command {
	case "run":
		return handleRun(args, out)
	case "simulate":
		return handleSimulate(args, out)
	case "runs":
		return handleRuns(args, out)
	case "peaks":
		return handlePeaks(args, out)
	case "migrate":
		return handleMigrate(args, out)
	case "serve":
		return handleServe(args, out)
	case "version":
		fmt.Fprintln(out, version.String())
		return nil
	case "help":
		printUsage(out)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `tsmap - TS map estimation for binned gamma-ray datasets

Usage: tsmap <command> [options]

Commands:
  run        Estimate TS and flux maps for a dataset
  simulate   Write a synthetic dataset
  runs       List catalogued runs
  peaks      List the peaks found by a run
  migrate    Manage the catalogue schema (up, down, status, force)
  serve      Serve the catalogue and reports over HTTP
  version    Show version
  help       Show this help message

Run 'tsmap <command> -h' for the options of a command.`)
}
