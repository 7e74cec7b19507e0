package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/blockdiff/bidiff/internal/bidifferr"
	"github.com/blockdiff/bidiff/internal/patchfmt"
)

// newCmd_inspect dumps a patch container's header and chunk table
// without applying it, for debugging a patch that fails to apply or
// auditing its chunk layout before shipping it.
func newCmd_inspect() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print a patch container's header and chunk table",
		ArgsUsage: "<patch>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return cli.Exit("usage: bidiff inspect <patch>", exitUsage)
			}
			return runInspect(c.Args().Get(0))
		},
	}
}

func runInspect(patchPath string) error {
	f, err := os.Open(patchPath)
	if err != nil {
		return fmt.Errorf("%w: open patch file %q: %v", bidifferr.ErrIO, patchPath, err)
	}
	defer f.Close()

	h, err := patchfmt.ReadHeader(bufio.NewReader(f))
	if err != nil {
		return err
	}

	fmt.Printf("older size:  %s (%d bytes)\n", humanize.Bytes(h.OldSize), h.OldSize)
	fmt.Printf("newer size:  %s (%d bytes)\n", humanize.Bytes(h.NewSize), h.NewSize)
	fmt.Printf("chunks:      %d\n", len(h.Chunks))
	fmt.Println()
	fmt.Printf("%-4s %-14s %-14s %-14s %-12s\n", "idx", "new_start", "new_end", "old_start", "compressed")
	var totalCompressed uint64
	for i, c := range h.Chunks {
		fmt.Printf("%-4d %-14d %-14d %-14d %-12s\n",
			i, c.NewStart, c.NewEnd, c.OldStart,
			humanize.Bytes(c.CompressedLen))
		totalCompressed += c.CompressedLen
	}
	if len(h.Chunks) > 0 {
		fmt.Println()
		fmt.Printf("total compressed control-stream size: %s\n", humanize.Bytes(totalCompressed))
	}
	return nil
}
