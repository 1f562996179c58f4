package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/docopt/docopt-go"

	"github.com/ephyr-control/ephyrsub/internal/app"
	"github.com/ephyr-control/ephyrsub/internal/config"
	"github.com/ephyr-control/ephyrsub/internal/version"
)

const usage = `Subscribe to the state of many Ephyr instances and keep an aggregated
snapshot of all of them on disk.

<input> is either the IPv4 address of a single instance or a .json, .yaml
or .yml file holding a list of instances:

    - ipv4: 10.0.0.1
      domain: one.example.com
      title: one
      password: secret
      https: true

Environment variables (EPHYR_*) tune logging, intervals, the HTTP API and
the optional Redis mirror.

Usage:
    ephyr-subscriber <input> [--state_output=<path>]
    ephyr-subscriber -h | --help
    ephyr-subscriber --version

Options:
    -h --help               Show this screen.
    --version               Show version.
    --state_output=<path>   Snapshot file, must end in .json [default: state.json].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version.String())
	if err != nil {
		panic(err)
	}

	input, _ := opts.String("<input>")
	stateOutput, _ := opts.String("--state_output")

	a, err := app.New(context.Background(), config.Load(), app.Options{
		Input:       input,
		StateOutput: stateOutput,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}

	if err := a.Run(); err != nil {
		log.Fatalf("❌ ephyr-subscriber failed: %v", err)
	}
}
