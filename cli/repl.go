package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/richinex/markov/generate"
	"github.com/richinex/markov/storage"
)

const completionLimit = 20

// repl is the interactive generation loop. Plain lines are seeds; lines
// starting with ':' are commands.
type repl struct {
	store     storage.FrequencyStore
	gen       *generate.Generator
	maxLength int
	out       io.Writer
}

// Repl starts an interactive session against the configured store.
func Repl(ctx context.Context, rngSeed int64, opts Options) error {
	s, err := openStore(ctx, opts.Settings.Store.Path, false)
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := newGenerator(s, rngSeed, opts)
	if err != nil {
		return err
	}

	r := &repl{
		store:     s,
		gen:       g,
		maxLength: opts.Settings.Generate.MaxLength,
		out:       opts.out(),
	}
	return r.run(ctx)
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".markov_history")
}

func (r *repl) run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		return r.complete(ctx, prefix)
	})

	if f, err := os.Open(historyFile()); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory(line)

	fmt.Fprintln(r.out, "Type a seed to generate a sentence, ':help' for commands.")

	for {
		input, err := line.Prompt("markov> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		if quit := r.handle(ctx, input); quit {
			return nil
		}
	}
}

func (r *repl) saveHistory(line *liner.State) {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}
}

// handle runs one input line. Reports whether the session should end.
// Errors are printed, never fatal.
func (r *repl) handle(ctx context.Context, input string) bool {
	if !strings.HasPrefix(input, ":") {
		sentence, err := r.gen.Generate(ctx, input, r.maxLength)
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			if sentence != "" {
				fmt.Fprintf(r.out, "Partial: %s\n", sentence)
			}
			return false
		}
		fmt.Fprintln(r.out, sentence)
		return false
	}

	fields := strings.Fields(input)
	switch fields[0] {
	case ":quit", ":exit", ":q":
		return true

	case ":help", ":?":
		fmt.Fprintln(r.out, "  <seed>            generate a sentence starting with seed")
		fmt.Fprintln(r.out, "  :max N            set the maximum sentence length")
		fmt.Fprintln(r.out, "  :top [N]          show the most frequent records")
		fmt.Fprintln(r.out, "  :stats            show table counts")
		fmt.Fprintln(r.out, "  :contexts PREFIX  list known contexts starting with PREFIX")
		fmt.Fprintln(r.out, "  :quit             leave")

	case ":max":
		if len(fields) != 2 {
			fmt.Fprintf(r.out, "Current max length: %d\n", r.maxLength)
			return false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(r.out, "Error: max length must be a positive integer, got %q\n", fields[1])
			return false
		}
		r.maxLength = n
		fmt.Fprintf(r.out, "Max length set to %d\n", n)

	case ":top":
		limit := 10
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				fmt.Fprintf(r.out, "Error: limit must be a positive integer, got %q\n", fields[1])
				return false
			}
			limit = n
		}
		records, err := r.store.Top(ctx, limit)
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			return false
		}
		for _, rec := range records {
			fmt.Fprintf(r.out, "  %q -> %q  %d\n", rec.Context, rec.Symbol, rec.Frequency)
		}

	case ":stats":
		st, err := r.store.Stats(ctx)
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(r.out, "  records=%d contexts=%d corpora=%d total=%d context_length=%d\n",
			st.Records, st.Contexts, st.Fingerprints, st.TotalFrequency, st.ContextLength)

	case ":contexts":
		// Contexts may begin with spaces, so take everything after the command.
		prefix := strings.TrimPrefix(input, ":contexts")
		prefix = strings.TrimPrefix(prefix, " ")
		contexts, err := r.store.ContextsWithPrefix(ctx, prefix, completionLimit)
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			return false
		}
		for _, c := range contexts {
			fmt.Fprintf(r.out, "  %q\n", c)
		}

	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type ':help' for commands)\n", fields[0])
	}
	return false
}

// complete offers commands for ':' lines and known contexts otherwise.
func (r *repl) complete(ctx context.Context, prefix string) []string {
	if strings.HasPrefix(prefix, ":") {
		var completions []string
		for _, cmd := range []string{":help", ":max", ":top", ":stats", ":contexts", ":quit"} {
			if strings.HasPrefix(cmd, prefix) {
				completions = append(completions, cmd)
			}
		}
		return completions
	}

	contexts, err := r.store.ContextsWithPrefix(ctx, prefix, completionLimit)
	if err != nil {
		return nil
	}
	return contexts
}
