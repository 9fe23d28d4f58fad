// Command tapectl is termvcr's tape-maintenance CLI: validate tape
// files against the codec (and optionally a strict JSON Schema),
// print a store summary, browse tapes interactively, or query a store
// from a line-oriented REPL.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/termvcr/termvcr/internal/console"
	"github.com/termvcr/termvcr/internal/match"
	"github.com/termvcr/termvcr/internal/namegen"
	"github.com/termvcr/termvcr/internal/store"
	"github.com/termvcr/termvcr/internal/tape"
	"github.com/termvcr/termvcr/internal/tui"
)

// fallbackWidth is used when stdout isn't a terminal (piped output,
// CI logs, redirected to a file).
const fallbackWidth = 100

// terminalWidth reports the width of the terminal attached to
// stdout, or fallbackWidth when stdout isn't a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return fallbackWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return fallbackWidth
	}
	return w
}

// truncatePath shortens a long tape path to fit width columns,
// preserving the trailing filename since that's usually the
// disambiguating part.
func truncatePath(path string, width int) string {
	if width <= 3 || len(path) <= width {
		return path
	}
	keep := width - 3
	if keep <= 0 {
		return "..."
	}
	return "..." + path[len(path)-keep:]
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tapectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("no command given")
	}

	switch args[0] {
	case "-h", "--help", "help":
		usage()
		return nil
	case "validate":
		return runValidate(args[1:])
	case "summary":
		return runSummary(args[1:])
	case "browse":
		return runBrowse(args[1:])
	case "repl":
		return runRepl(args[1:])
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: tapectl <command> [flags] <args>

Commands:
  validate <tape-or-dir>   check tape files against the codec (and, with -strict, a JSON Schema)
  summary  <tapes-root>    print the new/unused tape report for a store
  browse   <tapes-root>    interactively browse a store's tapes
  repl     <tapes-root>    open a line-oriented query console over a store`)
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	strict := fs.Bool("strict", false, "also validate against the strict JSON Schema")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tapectl validate [-strict] <tape-or-dir>")
	}

	var checker *tape.SchemaChecker
	if *strict {
		c, err := tape.NewSchemaChecker([]byte(tape.DefaultTapeSchema))
		if err != nil {
			return err
		}
		checker = c
	}

	target := fs.Arg(0)
	info, err := os.Stat(target)
	if err != nil {
		return err
	}

	var paths []string
	if info.IsDir() {
		err = filepath.WalkDir(target, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(p) == ".json5" {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		paths = []string{target}
	}

	failed := 0
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", p, err)
			failed++
			continue
		}
		if _, err := tape.Decode(p, raw); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", p, err)
			failed++
			continue
		}
		if checker != nil {
			if err := checker.Validate(p, raw); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", p, err)
				failed++
				continue
			}
		}
		fmt.Fprintf(os.Stdout, "%s: ok\n", p)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tapes failed validation", failed, len(paths))
	}
	return nil
}

func runSummary(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tapectl summary <tapes-root>")
	}

	st, err := store.Open(fs.Arg(0), match.Rules{})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "store: %s\n", truncatePath(st.Root(), terminalWidth()))

	tapes := st.Tapes()
	sizes := map[string]int64{}
	exchangeCounts := map[string]int{}
	for p, t := range tapes {
		exchangeCounts[p] = len(t.Exchanges)
		if data, err := tape.Encode(t); err == nil {
			sizes[p] = int64(len(data))
		}
	}
	newTapes, unused := st.Summary()
	namegen.Summary(os.Stdout, newTapes, unused, sizes, exchangeCounts)
	return nil
}

func runBrowse(args []string) error {
	fs := flag.NewFlagSet("browse", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tapectl browse <tapes-root>")
	}
	st, err := store.Open(fs.Arg(0), match.Rules{})
	if err != nil {
		return err
	}
	return tui.Run(st)
}

func runRepl(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tapectl repl <tapes-root>")
	}
	st, err := store.Open(fs.Arg(0), match.Rules{})
	if err != nil {
		return err
	}
	console.New(st, os.Stdout).Run()
	return nil
}
