// Package console implements tapectl's line-oriented query REPL for a
// tape store: ":find", ":show" and ":quit", built on the same
// go-prompt fork the rest of this codebase uses for its interactive
// input.
package console

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/elk-language/go-prompt"
	istrings "github.com/elk-language/go-prompt/strings"

	"github.com/termvcr/termvcr/internal/match"
	"github.com/termvcr/termvcr/internal/store"
)

// Console is a read-only query REPL over a tape store.
type Console struct {
	st  *store.Store
	out io.Writer
}

// New wraps st for interactive querying, writing command output to out.
func New(st *store.Store, out io.Writer) *Console {
	return &Console{st: st, out: out}
}

var commands = []string{":find", ":show", ":quit", ":help"}

// Run starts the prompt loop; it returns only via ":quit" (os.Exit(0))
// or io.EOF from the underlying reader.
func (c *Console) Run() {
	fmt.Fprintln(c.out, "termvcr tape console. Type :help for commands, :quit to exit.")

	completer := func(document prompt.Document) ([]prompt.Suggest, istrings.RuneNumber, istrings.RuneNumber) {
		word := document.GetWordBeforeCursor()
		var suggestions []prompt.Suggest
		if strings.HasPrefix(word, ":") {
			for _, cmd := range commands {
				if strings.HasPrefix(cmd, word) {
					suggestions = append(suggestions, prompt.Suggest{Text: cmd})
				}
			}
		}
		start := istrings.RuneNumber(len(document.TextBeforeCursor()) - len(word))
		end := istrings.RuneNumber(len(document.TextBeforeCursor()))
		return suggestions, start, end
	}

	executor := func(line string) {
		if err := c.Eval(line); err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
	}

	p := prompt.New(executor, prompt.WithPrefix("tapectl> "), prompt.WithCompleter(completer))
	p.Run()
}

// Eval executes a single console command line. ":quit" terminates the
// process; every other command writes its result to c.out.
func (c *Console) Eval(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q":
		os.Exit(0)
		return nil
	case ":help":
		fmt.Fprintln(c.out, "  :find <program> <input text>   -- look up the exchange a given input would match")
		fmt.Fprintln(c.out, "  :show <tape path>              -- print a tape's exchanges")
		fmt.Fprintln(c.out, "  :quit                          -- exit")
		return nil
	case ":find":
		return c.find(fields[1:])
	case ":show":
		return c.show(fields[1:])
	default:
		return fmt.Errorf("unknown command %q (try :help)", fields[0])
	}
}

func (c *Console) find(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: :find <program> [input text]")
	}
	program := args[0]
	text := strings.Join(args[1:], " ")
	ctx := match.Context{Program: program, InputKind: match.InputLine, InputText: text}
	tp, ex, ok := c.st.Find(ctx)
	if !ok {
		nearest := c.st.NearestKeys(text, 5)
		fmt.Fprintln(c.out, "no match.")
		if len(nearest) > 0 {
			fmt.Fprintln(c.out, "nearest keys:")
			for _, k := range nearest {
				fmt.Fprintln(c.out, "  "+k)
			}
		}
		return nil
	}
	fmt.Fprintf(c.out, "matched %s (program=%s prompt=%q)\n", tp.Meta.Program, program, ex.Pre.Prompt)
	return nil
}

func (c *Console) show(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: :show <tape path>")
	}
	tapes := c.st.Tapes()
	tp, ok := tapes[args[0]]
	if !ok {
		return fmt.Errorf("no loaded tape at %q", args[0])
	}
	fmt.Fprintf(c.out, "%s %s %v\n", tp.Meta.Program, tp.Meta.Cwd, tp.Meta.Args)
	for i, ex := range tp.Exchanges {
		text := ""
		if ex.Input.Text != nil {
			text = *ex.Input.Text
		}
		fmt.Fprintf(c.out, "  [%d] prompt=%q input=%q chunks=%d\n", i, ex.Pre.Prompt, text, len(ex.Output.Chunks))
	}
	return nil
}

// ListPaths returns the store's tape paths, sorted, for callers that
// want to render a picker before dropping into Eval.
func (c *Console) ListPaths() []string {
	tapes := c.st.Tapes()
	paths := make([]string, 0, len(tapes))
	for p := range tapes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
