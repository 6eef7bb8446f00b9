package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"kona/internal/store"
)

type BenchCmd struct {
	Count     int `help:"Keys written and read per phase." default:"10000"`
	Workers   int `help:"Concurrent workers for the put and get phases." default:"4"`
	BatchSize int `help:"Ops per write batch." default:"100"`
	ValueSize int `help:"Value size in bytes." default:"100"`
}

func (c *BenchCmd) Run(g *Globals) (err error) {
	if c.Count <= 0 || c.Workers <= 0 || c.BatchSize <= 0 || c.ValueSize < 0 {
		return errors.New("count, workers and batch-size must be positive")
	}
	db, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(db, &err)

	value := bytes.Repeat([]byte{'v'}, c.ValueSize)
	phases := []struct {
		name string
		run  func() error
	}{
		{"put", func() error { return c.parallel(func(i int) error { return db.Put(benchKey("p", i), value) }) }},
		{"get", func() error {
			return c.parallel(func(i int) error {
				_, err := db.Get(benchKey("p", i))
				return err
			})
		}},
		{"batch", func() error { return c.batches(db, value) }},
	}

	fmt.Fprintf(g.stdout, "%s: %d keys, %d workers, batch size %d\n", db.Backend(), c.Count, c.Workers, c.BatchSize)
	for _, p := range phases {
		start := time.Now()
		if err := p.run(); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
		report(g.stdout, p.name, c.Count, time.Since(start))
	}
	return nil
}

// parallel splits [0, Count) across the workers.
func (c *BenchCmd) parallel(op func(i int) error) error {
	eg, ctx := errgroup.WithContext(context.Background())
	for w := range c.Workers {
		eg.Go(func() error {
			for i := w; i < c.Count; i += c.Workers {
				if ctx.Err() != nil {
					return nil
				}
				if err := op(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

func (c *BenchCmd) batches(db *store.DB, value []byte) error {
	b := db.NewWriteBatch()
	for i := range c.Count {
		if err := b.Put(benchKey("b", i), value); err != nil {
			return err
		}
		if b.Len() == c.BatchSize || i == c.Count-1 {
			if err := b.Write(); err != nil {
				return err
			}
			b.Clear()
		}
	}
	return nil
}

func benchKey(prefix string, i int) []byte {
	return fmt.Appendf(nil, "bench/%s/%010d", prefix, i)
}

func report(w io.Writer, name string, n int, d time.Duration) {
	rate := float64(n) / d.Seconds()
	fmt.Fprintf(w, "  %-6s %8d ops  %12s  %10.0f ops/s\n", name, n, d.Round(time.Microsecond), rate)
}
