package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/absfs/dmp"
	"github.com/urfave/cli"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// benchHandler reads random blocks and writes each one back unchanged, so
// the device contents survive the run.
func benchHandler(c *cli.Context) (err error) {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one DEVICE argument")
	}
	device := c.Args().First()

	workers := c.Int(workersFlag.Name)
	size := c.Int(sizeFlag.Name)
	ops := c.Int(opsFlag.Name)
	if workers < 1 || size < 1 || ops < 0 {
		return fmt.Errorf("--workers and --size must be positive, --ops non-negative")
	}

	log, err := dmp.NewLogger(c.Bool(debugFlag.Name))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	opts := dmp.DefaultOptions()
	opts.Logger = log
	mod, err := dmp.Load(opts)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, mod.Close())
	}()

	ctx := context.Background()
	name := filepath.Base(device)
	md, err := mod.Create(ctx, name, device, false)
	if err != nil {
		return err
	}

	capacity, err := md.Target().(*dmp.Redirect).Device().File().Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("%s: size: %w", device, err)
	}
	blocks := capacity / int64(size)
	if blocks == 0 {
		return fmt.Errorf("%s: %d bytes is smaller than one %d byte request", device, capacity, size)
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			buf := dmp.GetBuffer(size)
			defer dmp.PutBuffer(buf)

			for o := 0; o < ops; o++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				off := rand.Int63n(blocks) * int64(size)
				if err := md.Submit(ctx, &dmp.Request{Op: dmp.OpRead, Offset: off, Data: buf}); err != nil {
					return err
				}
				if err := md.Submit(ctx, &dmp.Request{Op: dmp.OpWrite, Offset: off, Data: buf}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := md.Sync(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("%d workers x %d read/write pairs of %d bytes in %v\n", workers, ops, size, elapsed.Round(time.Millisecond))
	for _, node := range []string{name, dmp.GlobalNode} {
		s, ok := mod.Namespace().Acquire(node)
		if !ok {
			continue
		}
		fmt.Printf("\n%s/%s:\n", mod.Namespace().Name(), node)
		for _, a := range dmp.Attrs() {
			fmt.Printf("  %-15s %s", a, dmp.Show(s, a))
		}
		s.Release()
	}
	return nil
}
