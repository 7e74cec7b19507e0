package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blockdiff/bidiff/internal/bidifferr"
	"github.com/blockdiff/bidiff/internal/patchfmt"
)

// newCmd_cycle runs diff then patch back-to-back against a temp patch
// file and compares the round-tripped output to the original newer
// file by xxhash, a quick end-to-end sanity check that doesn't require
// a separately scripted diff/patch/compare pipeline. The comparison is
// explicitly non-cryptographic; the patch format itself carries no
// checksum.
func newCmd_cycle() *cli.Command {
	return &cli.Command{
		Name:      "cycle",
		Usage:     "diff then patch, verifying the round trip reproduces the newer file",
		ArgsUsage: "<older> <newer>",
		Flags:     commonOptionFlags(),
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.Exit("usage: bidiff cycle <older> <newer>", exitUsage)
			}
			opts := optionsFromFlags(c)
			if err := opts.Validate(); err != nil {
				return cli.Exit(err, exitConfigInvalid)
			}
			return runCycle(c.Context, c.Args().Get(0), c.Args().Get(1), opts)
		},
	}
}

func runCycle(ctx context.Context, olderPath, newerPath string, opts Options) error {
	patchFile, err := os.CreateTemp("", "bidiff-cycle-*.patch")
	if err != nil {
		return fmt.Errorf("%w: create temp patch file: %v", bidifferr.ErrIO, err)
	}
	patchPath := patchFile.Name()
	patchFile.Close()
	defer os.Remove(patchPath)

	if err := runDiff(ctx, olderPath, newerPath, patchPath, opts); err != nil {
		return err
	}

	outFile, err := os.CreateTemp("", "bidiff-cycle-out-*.bin")
	if err != nil {
		return fmt.Errorf("%w: create temp output file: %v", bidifferr.ErrIO, err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	if err := runPatch(ctx, olderPath, patchPath, outPath, opts); err != nil {
		return err
	}

	want, err := readAllSequential(newerPath)
	if err != nil {
		return err
	}

	got, err := os.Open(outPath)
	if err != nil {
		return fmt.Errorf("%w: reopen round-tripped output: %v", bidifferr.ErrIO, err)
	}
	defer got.Close()

	if err := patchfmt.VerifyOutput(got, xxhash.Sum64(want)); err != nil {
		return fmt.Errorf("round-tripped output does not match the original newer file: %w", err)
	}

	klog.Infof("cycle OK: %s round-trips through %s", newerPath, patchPath)
	fmt.Println("cycle OK")
	return nil
}
