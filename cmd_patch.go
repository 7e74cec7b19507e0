package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blockdiff/bidiff/internal/bidifferr"
	"github.com/blockdiff/bidiff/internal/patchfmt"
)

func newCmd_patch() *cli.Command {
	return &cli.Command{
		Name:      "patch",
		Usage:     "apply a binary delta patch to an older file, producing the newer file",
		ArgsUsage: "<older> <patch> <newer-out>",
		Flags:     commonOptionFlags(),
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 3 {
				return cli.Exit("usage: bidiff patch <older> <patch> <newer-out>", exitUsage)
			}
			opts := optionsFromFlags(c)
			if err := opts.Validate(); err != nil {
				return cli.Exit(err, exitConfigInvalid)
			}
			return runPatch(c.Context, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2), opts)
		},
	}
}

func runPatch(ctx context.Context, olderPath, patchPath, outPath string, opts Options) error {
	older, err := readAllSequential(olderPath)
	if err != nil {
		return err
	}

	pf, err := os.Open(patchPath)
	if err != nil {
		return fmt.Errorf("%w: open patch file %q: %v", bidifferr.ErrIO, patchPath, err)
	}
	defer pf.Close()
	r := bufio.NewReaderSize(pf, 1<<20)

	h, err := patchfmt.ReadHeader(r)
	if err != nil {
		return err
	}

	out, err := createOutputFile(outPath, int64(h.NewSize))
	if err != nil {
		return err
	}
	defer out.Close()

	klog.Infof("applying patch %q (%s -> %s) to %q", patchPath, humanize.Bytes(h.OldSize), humanize.Bytes(h.NewSize), outPath)

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := patchfmt.Apply(ctx, r, h, older, out, patchfmt.ApplyOptions{Threads: threads}); err != nil {
		return err
	}

	fmt.Printf("patch applied: %s\n", outPath)
	return nil
}
