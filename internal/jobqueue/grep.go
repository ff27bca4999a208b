package jobqueue

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// GrepFlags select how GrepExecutor matches.
type GrepFlags int

const (
	GrepWholeWord GrepFlags = 1 << iota
	GrepMatchCase
	// GrepDotDirs descends into directories whose name starts with a dot.
	GrepDotDirs
	// GrepBinary searches files that contain NUL bytes.
	GrepBinary
)

// grepCheckLines is how many lines are read between cancellation checks.
const grepCheckLines = 10000

// grepSniffSize is how much of a file is inspected for NUL bytes.
const grepSniffSize = 64 * 1024

var grepFlagChars = []struct {
	c    byte
	flag GrepFlags
}{{'w', GrepWholeWord}, {'c', GrepMatchCase}, {'d', GrepDotDirs}, {'b', GrepBinary}}

var ErrBadGrep = errors.New("jobqueue: grep command needs flags, file patterns and a search string")

// GrepRequest is a parsed grep command.
type GrepRequest struct {
	Flags    GrepFlags
	Patterns []string
	Search   string
}

// ParseGrep reads a grep command line of the form
// "<flags>\t<patterns>\t<search>". flags is a word such as "wc~b" where
// position 0 is 'w' for whole word, 1 is 'c' for match case, 2 is 'd' for
// dot directories and 3 is 'b' for binary files. patterns is a list of
// globs separated by ';' or spaces; an empty list matches every file.
func ParseGrep(line string) (GrepRequest, error) {
	parts := strings.SplitN(line, "\t", 3)
	if len(parts) != 3 || parts[2] == "" {
		return GrepRequest{}, ErrBadGrep
	}
	var req GrepRequest
	for i, fc := range grepFlagChars {
		if i < len(parts[0]) && parts[0][i] == fc.c {
			req.Flags |= fc.flag
		}
	}
	req.Patterns = strings.FieldsFunc(parts[1], func(r rune) bool { return r == ';' || r == ' ' })
	req.Search = parts[2]
	return req, nil
}

// GrepLine builds the command line ParseGrep reads.
func GrepLine(req GrepRequest) string {
	flags := []byte("~~~~")
	for i, fc := range grepFlagChars {
		if req.Flags&fc.flag != 0 {
			flags[i] = fc.c
		}
	}
	return string(flags) + "\t" + strings.Join(req.Patterns, ";") + "\t" + req.Search
}

// GrepExecutor searches files below the command's directory in process and
// writes one "path:line:text" line per match. It checks ctx before each
// file and every grepCheckLines lines.
type GrepExecutor struct{}

func (GrepExecutor) Execute(ctx context.Context, cmd Command, out io.Writer) (int, error) {
	req, err := ParseGrep(cmd.Line)
	if err != nil {
		return -1, err
	}
	root := cmd.Dir
	if root == "" {
		root = "."
	}
	g := &grep{req: req, search: []byte(req.Search), out: out}
	if req.Flags&GrepMatchCase == 0 {
		g.search = lowerASCII(g.search)
	}
	if err := g.dir(ctx, root); err != nil {
		if ctx.Err() != nil {
			return -1, nil
		}
		return -1, err
	}
	if g.matches == 0 {
		return 1, nil
	}
	return 0, nil
}

type grep struct {
	req     GrepRequest
	search  []byte
	out     io.Writer
	matches int
}

// dir greps the files of one directory, then its subdirectories.
func (g *grep) dir(ctx context.Context, path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	var found bytes.Buffer
	var dirs []string
	for _, entry := range entries {
		full := filepath.Join(path, entry.Name())
		if entry.IsDir() {
			if g.req.Flags&GrepDotDirs != 0 || !strings.HasPrefix(entry.Name(), ".") {
				dirs = append(dirs, full)
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() || !g.wanted(entry.Name()) {
			continue
		}
		if err := g.file(ctx, full, &found); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Unreadable files are skipped.
			continue
		}
	}
	if found.Len() > 0 {
		if _, err := g.out.Write(found.Bytes()); err != nil {
			return err
		}
	}
	for _, sub := range dirs {
		if err := g.dir(ctx, sub); err != nil {
			if ctx.Err() != nil {
				return err
			}
		}
	}
	return nil
}

func (g *grep) wanted(name string) bool {
	if len(g.req.Patterns) == 0 {
		return true
	}
	for _, pattern := range g.req.Patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (g *grep) file(ctx context.Context, path string, found *bytes.Buffer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, grepSniffSize)
	if g.req.Flags&GrepBinary == 0 {
		head, _ := r.Peek(grepSniffSize)
		if bytes.IndexByte(head, 0) >= 0 {
			return nil
		}
	}
	lineNo := 0
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if lineNo%grepCheckLines == 0 {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
			}
			original := bytes.TrimRight(line, "\r\n")
			if g.match(original) {
				g.matches++
				fmt.Fprintf(found, "%s:%d:%s\n", path, lineNo, original)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (g *grep) match(line []byte) bool {
	if g.req.Flags&GrepMatchCase == 0 {
		line = lowerASCII(line)
	}
	from := 0
	for {
		i := bytes.Index(line[from:], g.search)
		if i < 0 {
			return false
		}
		start := from + i
		if g.req.Flags&GrepWholeWord == 0 {
			return true
		}
		end := start + len(g.search)
		if (start == 0 || !isWordByte(line[start-1])) && (end == len(line) || !isWordByte(line[end])) {
			return true
		}
		from = start + 1
	}
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func lowerASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
