package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"kona/internal/store"
)

// parseScript reads a batch script. Each non-blank line not starting with
// # is "put <key> <value>" or "del <key>". Keys and values may be Go-quoted
// to carry spaces or binary bytes; an unquoted value runs to end of line.
func parseScript(r io.Reader) ([]store.Op, error) {
	var ops []store.Op
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		op, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		ops = append(ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return ops, nil
}

func parseLine(line string) (store.Op, error) {
	verb, rest := cutSpace(line)
	key, rest, err := token(rest)
	if err != nil {
		return store.Op{}, err
	}
	if key == "" {
		return store.Op{}, fmt.Errorf("%s: missing key", verb)
	}
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "put", "set":
		value := rest
		if strings.HasPrefix(rest, `"`) {
			value, err = strconv.Unquote(rest)
			if err != nil {
				return store.Op{}, fmt.Errorf("put %s: bad quoted value", key)
			}
		}
		return store.Op{Kind: store.OpPut, Key: []byte(key), Value: []byte(value)}, nil
	case "del", "delete":
		if rest != "" {
			return store.Op{}, fmt.Errorf("del %s: unexpected %q", key, rest)
		}
		return store.Op{Kind: store.OpDelete, Key: []byte(key)}, nil
	default:
		return store.Op{}, fmt.Errorf("unknown command %q", verb)
	}
}

// token splits off the first word of s, unquoting it if it is quoted.
func token(s string) (tok, rest string, err error) {
	if strings.HasPrefix(s, `"`) {
		q, err := strconv.QuotedPrefix(s)
		if err != nil {
			return "", "", errors.New("bad quoted key")
		}
		tok, _ = strconv.Unquote(q)
		return tok, s[len(q):], nil
	}
	tok, rest = cutSpace(s)
	return tok, rest, nil
}

// cutSpace splits s at its first run of white space.
func cutSpace(s string) (head, tail string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
