package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "sliceviewer",
		Usage: "Browse a slice stack in the terminal through a sliding-window slice cache",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the interactive viewer",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "bench",
				Usage:  "Replay a scrub pattern against a headless cache and report hit rates",
				Flags:  benchFlags(),
				Action: bench,
			},
			{
				Name:   "init-config",
				Usage:  "Write the default settings file",
				Flags:  initConfigFlags(),
				Action: initConfig,
			},
			{
				Name:   "sessions",
				Usage:  "List the saved viewer sessions",
				Flags:  sessionFlags(),
				Action: listSessions,
			},
			{
				Name:   "forget",
				Usage:  "Delete the saved session of a volume",
				Flags:  forgetFlags(),
				Action: forget,
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
