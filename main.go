package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	app := &cli.App{
		Name:  "bidiff",
		Usage: "block-hash binary delta diff and patch tool",
		Description: "bidiff computes and applies compact binary deltas between two versions " +
			"of a file, using a parallel block-hash scanner and a chunked, zstd-compressed patch container.",
		Flags: NewKlogFlagSet(),
		Commands: []*cli.Command{
			newCmd_diff(),
			newCmd_patch(),
			newCmd_cycle(),
			newCmd_inspect(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		klog.Flush()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
	klog.Flush()
}
