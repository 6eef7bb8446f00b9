package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"unicode/utf8"

	"golang.org/x/term"

	"kona/internal/store"
)

type GetCmd struct {
	Key     string  `arg:"" help:"Key to read."`
	Default *string `help:"Value to print when the key is absent."`
}

func (c *GetCmd) Run(g *Globals) (err error) {
	db, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(db, &err)

	var def []byte
	if c.Default != nil {
		def = []byte(*c.Default)
	}
	v, err := db.GetOrDefault([]byte(c.Key), def)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: not found", c.Key)
	}
	if err != nil {
		return err
	}
	return render(g.stdout, v)
}

type PutCmd struct {
	Key   string `arg:"" help:"Key to write."`
	Value string `arg:"" help:"Value to store."`
}

func (c *PutCmd) Run(g *Globals) (err error) {
	db, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(db, &err)
	return db.Put([]byte(c.Key), []byte(c.Value))
}

type DeleteCmd struct {
	Key string `arg:"" help:"Key to remove."`
}

func (c *DeleteCmd) Run(g *Globals) (err error) {
	db, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(db, &err)
	return db.Delete([]byte(c.Key))
}

type ScanCmd struct {
	Start string `help:"First key (inclusive)."`
	Stop  string `help:"Last key (inclusive)."`
	Limit int    `help:"Stop after this many entries (0 = all)."`
}

var errLimit = errors.New("limit reached")

func (c *ScanCmd) Run(g *Globals) (err error) {
	db, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(db, &err)

	var start, stop []byte
	if c.Start != "" {
		start = []byte(c.Start)
	}
	if c.Stop != "" {
		stop = []byte(c.Stop)
	}
	n := 0
	err = db.ForEach(start, stop, func(k, v []byte) error {
		if _, err := fmt.Fprintf(g.stdout, "%s\t%s\n", quote(k), quote(v)); err != nil {
			return err
		}
		n++
		if c.Limit > 0 && n >= c.Limit {
			return errLimit
		}
		return nil
	})
	if errors.Is(err, errLimit) {
		return nil
	}
	return err
}

type ApplyCmd struct {
	File     string `arg:"" help:"Batch script, one 'put <key> <value>' or 'del <key>' per line; - reads stdin."`
	Rollback bool   `help:"Write the batch, then cancel it, restoring every touched key."`
	Sync     bool   `help:"Make the write durable before returning, even if the store is configured without sync."`
}

func (c *ApplyCmd) Run(g *Globals) (err error) {
	in := g.stdin
	if c.File != "-" {
		f, err := os.Open(c.File)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	ops, err := parseScript(in)
	if err != nil {
		return err
	}

	db, err := g.open()
	if err != nil {
		return err
	}
	defer closeDB(db, &err)

	if !c.Rollback {
		b := db.NewWriteBatch(store.WithSync(c.Sync))
		if err := record(b, ops); err != nil {
			return err
		}
		if err := b.Write(); err != nil {
			return err
		}
		_, err = fmt.Fprintf(g.stdout, "applied %d ops\n", len(ops))
		return err
	}

	cb, err := db.NewCancelableWriteBatch(store.WithSync(c.Sync))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cb.Close(); err == nil {
			err = cerr
		}
	}()
	if err := record(cb, ops); err != nil {
		return err
	}
	if err := cb.Write(); err != nil {
		return err
	}
	logger.Info("batch written, rolling back", "batch", cb.ID(), "ops", len(ops))
	if err := cb.Cancel(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	_, err = fmt.Fprintf(g.stdout, "applied and rolled back %d ops\n", len(ops))
	return err
}

type DestroyCmd struct {
	Yes bool `help:"Confirm deletion." required:""`
}

func (c *DestroyCmd) Run(g *Globals) error {
	db, err := g.open()
	if err != nil {
		return err
	}
	if err := db.Destroy(); err != nil {
		return err
	}
	if db.Path() != "" {
		_, err = fmt.Fprintf(g.stdout, "destroyed %s\n", db.Path())
	}
	return err
}

// batcher is satisfied by both batch kinds.
type batcher interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

func record(b batcher, ops []store.Op) error {
	for _, op := range ops {
		var err error
		if op.Kind == store.OpPut {
			err = b.Put(op.Key, op.Value)
		} else {
			err = b.Delete(op.Key)
		}
		if err != nil {
			return fmt.Errorf("%s %q: %w", op.Kind, op.Key, err)
		}
	}
	return nil
}

func closeDB(db *store.DB, err *error) {
	if cerr := db.Close(); *err == nil {
		*err = cerr
	}
}

// render writes v raw when stdout is redirected. On a terminal, values that
// are not printable text are shown quoted.
func render(w io.Writer, v []byte) error {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, err := fmt.Fprintln(w, display(v))
		return err
	}
	_, err := w.Write(v)
	return err
}

func display(v []byte) string {
	if printable(v) {
		return string(v)
	}
	return strconv.Quote(string(v))
}

func printable(v []byte) bool {
	if !utf8.Valid(v) {
		return false
	}
	for _, r := range string(v) {
		if !strconv.IsPrint(r) {
			return false
		}
	}
	return true
}

func quote(b []byte) string {
	s := strconv.Quote(string(b))
	return s[1 : len(s)-1]
}
