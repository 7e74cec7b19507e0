package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"k8s.io/klog/v2"

	"github.com/blockdiff/bidiff/internal/blockhash"
	"github.com/blockdiff/bidiff/internal/patchfmt"
	"github.com/blockdiff/bidiff/internal/scandiff"
)

func commonOptionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "block-size",
			Usage: "block-hash sample size in bytes",
			Value: DefaultOptions().BlockSize,
		},
		&cli.IntFlag{
			Name:  "scan-chunk-mb",
			Usage: "size in MiB of each independently scanned range of the newer file",
			Value: DefaultOptions().ScanChunkBytes / (1 << 20),
		},
		&cli.IntFlag{
			Name:  "patch-chunk-mb",
			Usage: "target amount in MiB of newer-file output per patch container chunk",
			Value: DefaultOptions().PatchChunkBytes / (1 << 20),
		},
		&cli.IntFlag{
			Name:  "threads",
			Usage: "worker threads for index build, scan, and apply (0 = all CPUs)",
		},
		&cli.BoolFlag{
			Name:  "ram",
			Usage: "keep the block-hash index in anonymous memory instead of a memory-mapped temp file",
			Value: true,
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Usage: "block-hash seed",
			Value: DefaultOptions().Seed,
		},
	}
}

func optionsFromFlags(c *cli.Context) Options {
	o := DefaultOptions()
	o.BlockSize = c.Int("block-size")
	o.ScanChunkBytes = c.Int("scan-chunk-mb") * (1 << 20)
	o.PatchChunkBytes = c.Int("patch-chunk-mb") * (1 << 20)
	o.Threads = c.Int("threads")
	o.Seed = c.Uint64("seed")
	if !c.Bool("ram") {
		o.IndexBackend = blockhash.BackendFile
	}
	return o
}

func newCmd_diff() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "compute a binary delta patch from an older file to a newer file",
		ArgsUsage: "<older> <newer> <patch>",
		Flags:     commonOptionFlags(),
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 3 {
				return cli.Exit("usage: bidiff diff <older> <newer> <patch>", exitUsage)
			}
			opts := optionsFromFlags(c)
			if err := opts.Validate(); err != nil {
				return cli.Exit(err, exitConfigInvalid)
			}
			return runDiff(c.Context, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2), opts)
		},
	}
}

// runDiff loads older and newer fully into memory, builds a block-hash
// index over older, scans newer against it, and writes the resulting
// patch container to patchPath. Progress is reported on a mpb bar keyed
// off bytes of newer consumed, since that is the quantity the scanner
// reports monotonically.
func runDiff(ctx context.Context, olderPath, newerPath, patchPath string, opts Options) error {
	klog.Infof("diffing %q -> %q, writing patch to %q", olderPath, newerPath, patchPath)

	olderR, err := openOlderFile(olderPath, opts.IndexBackend == blockhash.BackendAnonymous)
	if err != nil {
		return err
	}
	defer olderR.Close()
	older, err := readerAtToBytes(olderR)
	if err != nil {
		return err
	}

	newer, err := readAllSequential(newerPath)
	if err != nil {
		return err
	}

	// An older file shorter than one block has nothing to index; the scan
	// then runs with a nil Index and emits newer as literal copies.
	var idx scandiff.Index
	if len(older) >= opts.BlockSize {
		klog.Infof("building block-hash index over %s older bytes", humanize.Bytes(uint64(len(older))))
		bidx, err := blockhash.Build(ctx, older, blockhash.Options{
			BlockSize: opts.BlockSize,
			Backend:   opts.IndexBackend,
			TempDir:   opts.IndexTempDir,
			Seed:      opts.Seed,
			Threads:   opts.Threads,
		})
		if err != nil {
			return err
		}
		defer bidx.Close()
		idx = bidx
	}

	progress := mpb.New(mpb.WithWidth(40))
	bar := progress.AddBar(int64(len(newer)),
		mpb.PrependDecorators(decor.Name("scanning")),
		mpb.AppendDecorators(decor.CountersKibiByte("% .1f / % .1f")),
	)
	defer progress.Wait()

	records, errc := scandiff.Scan(ctx, older, newer, idx, scandiff.Options{
		ScanChunkBytes: opts.ScanChunkBytes,
		Threads:        opts.Threads,
	})

	out, err := createOutputFile(patchPath, 0)
	if err != nil {
		return err
	}
	defer out.Close()

	counted := make(chan scandiff.Control, 128)
	go func() {
		defer close(counted)
		for r := range records {
			bar.IncrBy(int(r.AddLen + r.CopyLen))
			select {
			case counted <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	err = patchfmt.Encode(ctx, out, counted, errc,
		uint64(len(older)), uint64(len(newer)),
		patchfmt.EncodeOptions{ChunkBytes: opts.PatchChunkBytes},
	)
	if err != nil {
		return err
	}

	klog.Infof("wrote patch: %s", patchPath)
	fmt.Printf("diff complete: %s -> %s\n", humanize.Bytes(uint64(len(older))), humanize.Bytes(uint64(len(newer))))
	return nil
}
