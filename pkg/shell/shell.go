// Package shell is the operator console of a running IOC, modelled on the
// iocsh database commands.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/atipioc/pkg/record"
)

// DefaultPrompt is printed before each command.
const DefaultPrompt = "atip> "

// Shell reads commands from In and writes results to Out.
type Shell struct {
	db     *record.Database
	in     io.Reader
	out    io.Writer
	prompt string
}

// New creates a shell over db.
func New(db *record.Database, in io.Reader, out io.Writer) *Shell {
	return &Shell{db: db, in: in, out: out, prompt: DefaultPrompt}
}

// SetPrompt replaces the prompt; an empty prompt prints nothing.
func (s *Shell) SetPrompt(p string) {
	s.prompt = p
}

var errExit = errors.New("exit")

// Run executes commands until "exit", end of input or ctx cancellation.
//
// Returns nil for exit and end of input, ctx.Err() on cancellation, or the
// read error.
func (s *Shell) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)

	// The reader may block on a terminal forever; it is abandoned on
	// cancellation.
	go func() {
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		fmt.Fprint(s.out, s.prompt)

		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return ctx.Err()
		case err := <-readErr:
			fmt.Fprintln(s.out)
			return err
		case line := <-lines:
			if err := s.Exec(ctx, line); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
	}
}

// Exec runs a single command line.
func (s *Shell) Exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 || strings.HasPrefix(args[0], "#") {
		return nil
	}

	switch cmd, args := args[0], args[1:]; cmd {
	case "help", "?":
		s.help()
		return nil
	case "exit", "quit":
		return errExit
	case "dbl":
		return s.dbl(args)
	case "dbgf":
		return s.dbgf(args)
	case "dbpf":
		return s.dbpf(ctx, args)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func (s *Shell) help() {
	fmt.Fprintln(s.out, `Commands:
  dbl [pattern]        list records, optionally matching a glob pattern
  dbgf <pv>            print the value of a record
  dbpf <pv> <value>    write a record as a client would
  help                 show this help
  exit                 stop the IOC`)
}

func (s *Shell) dbl(args []string) error {
	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}

	names, err := s.db.Match(pattern)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(s.out, n)
	}
	return nil
}

func (s *Shell) lookup(args []string, want int, usage string) (*record.Record, error) {
	if len(args) < want {
		return nil, fmt.Errorf("usage: %s", usage)
	}
	r, ok := s.db.Lookup(args[0])
	if !ok {
		return nil, fmt.Errorf("record %s not found", args[0])
	}
	return r, nil
}

func (s *Shell) dbgf(args []string) error {
	r, err := s.lookup(args, 1, "dbgf <pv>")
	if err != nil {
		return err
	}
	s.printValue(r)
	return nil
}

func (s *Shell) dbpf(ctx context.Context, args []string) error {
	r, err := s.lookup(args, 2, "dbpf <pv> <value>")
	if err != nil {
		return err
	}

	text := strings.Join(args[1:], " ")
	v, err := parseFor(r, text)
	if err != nil {
		return err
	}
	if _, err := r.Write(ctx, v); err != nil {
		return err
	}

	s.printValue(r)
	return nil
}

// parseFor parses text for r; enum records also accept a state label.
func parseFor(r *record.Record, text string) (record.Value, error) {
	kind := r.Type().Kind()
	if kind == record.KindEnum {
		for i, l := range r.Labels() {
			if l == text {
				return record.Enum(uint32(i)), nil
			}
		}
	}
	return record.ParseValue(kind, text)
}

func (s *Shell) printValue(r *record.Record) {
	v := r.Get()
	switch v.Kind {
	case record.KindEnum:
		labels := r.Labels()
		if int(v.Index) < len(labels) {
			fmt.Fprintf(s.out, "%s: %d = %q\n", dbfType(v.Kind), v.Index, labels[v.Index])
			return
		}
	case record.KindString:
		fmt.Fprintf(s.out, "%s: %q\n", dbfType(v.Kind), v.Text)
		return
	}
	fmt.Fprintf(s.out, "%s: %s\n", dbfType(v.Kind), v)
}

func dbfType(k record.Kind) string {
	switch k {
	case record.KindDouble, record.KindArray:
		return "DBF_DOUBLE"
	case record.KindLong:
		return "DBF_LONG"
	case record.KindEnum:
		return "DBF_ENUM"
	default:
		return "DBF_STRING"
	}
}
