// Command execution for CLI commands.
//
// Information Hiding:
// - Store bootstrap (parent directory, schema) hidden
// - Engine/generator/fetcher wiring from settings hidden
// - Output formatting hidden

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/richinex/markov/config"
	"github.com/richinex/markov/fetch"
	"github.com/richinex/markov/generate"
	"github.com/richinex/markov/ingest"
	"github.com/richinex/markov/internal/errs"
	"github.com/richinex/markov/storage"
	"github.com/richinex/markov/textclean"
)

// Options holds CLI execution options.
type Options struct {
	Settings config.Settings
	Out      io.Writer    // Defaults to os.Stdout
	Logger   *slog.Logger // Defaults to slog.Default()
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Output formats accepted by Top, Stats and History.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// openStore opens the configured SQLite store. With create set the parent
// directory and the file are created as needed; otherwise a missing file
// is an error.
func openStore(ctx context.Context, path string, create bool) (*storage.SqliteStore, error) {
	if path == "" {
		return nil, errs.InvalidArgument("store path must not be empty")
	}

	if create {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errs.StorageUnavailable(err, "failed to create store directory", errs.Field("dir", dir))
			}
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, errs.New(errs.CodeStorageUnavailable,
			fmt.Sprintf("store %s does not exist, run 'markov init' or 'markov train' first", path),
			errs.Field("path", path))
	}

	s, err := storage.OpenSqlite(path)
	if err != nil {
		return nil, err
	}
	if err := s.InitializeSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the store. A positive contextLength pins the model's context
// length before any corpus is ingested.
func Init(ctx context.Context, contextLength int, opts Options) error {
	s, err := openStore(ctx, opts.Settings.Store.Path, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if contextLength > 0 {
		if err := s.SetContextLength(ctx, contextLength); err != nil {
			return err
		}
	}

	length, fixed, err := s.ContextLength(ctx)
	if err != nil {
		return err
	}
	if fixed {
		fmt.Fprintf(opts.out(), "Store ready at %s (context length %d)\n", s.Path(), length)
	} else {
		fmt.Fprintf(opts.out(), "Store ready at %s (context length set by first ingestion)\n", s.Path())
	}
	return nil
}

func newFetcher(opts Options) (*fetch.Client, error) {
	f := opts.Settings.Fetch
	return fetch.New(f.BaseURL, f.CacheDir, f.Timeout(), fetch.WithLogger(opts.logger()))
}

// Fetch downloads Wikipedia pages into the cache directory.
func Fetch(ctx context.Context, titles []string, opts Options) error {
	client, err := newFetcher(opts)
	if err != nil {
		return err
	}

	results, err := client.PageAll(ctx, titles)
	for _, res := range results {
		if res.Cached {
			fmt.Fprintf(opts.out(), "%s: already saved at %s\n", res.Title, res.Path)
		} else {
			fmt.Fprintf(opts.out(), "%s: saved %d bytes to %s\n", res.Title, res.Bytes, res.Path)
		}
	}
	return err
}

// Clean turns a fetched page into a one-sentence-per-line corpus file.
func Clean(src, dst string, force bool, opts Options) error {
	res, err := textclean.CleanFile(src, dst, force)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Fprintf(opts.out(), "%s already exists, cleanup skipped (use --force to overwrite)\n", dst)
		return nil
	}
	fmt.Fprintf(opts.out(), "Wrote %d paragraphs to %s\n", res.Paragraphs, dst)
	return nil
}

// Train ingests corpus files into the store.
func Train(ctx context.Context, files []string, opts Options) error {
	s, err := openStore(ctx, opts.Settings.Store.Path, true)
	if err != nil {
		return err
	}
	defer s.Close()

	_, err = train(ctx, s, files, opts)
	return err
}

func train(ctx context.Context, s storage.FrequencyStore, files []string, opts Options) ([]ingest.Outcome, error) {
	filter, err := ingest.FilterByName(opts.Settings.Ingest.LineFilter)
	if err != nil {
		return nil, err
	}
	engine, err := ingest.NewEngine(s, opts.Settings.Model.ContextLength,
		ingest.WithLineFilter(filter),
		ingest.WithLogger(opts.logger()),
	)
	if err != nil {
		return nil, err
	}

	corpora := make([]ingest.Corpus, 0, len(files))
	for _, file := range files {
		corpus, err := ingest.ReadCorpusFile(file)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeInvalidArgument, "failed to read corpus", errs.Field("path", file))
		}
		corpora = append(corpora, corpus)
	}

	// Outcomes line up with files up to the first failure.
	outcomes, err := engine.IngestAll(ctx, corpora)
	for i, out := range outcomes {
		switch out.Status {
		case ingest.StatusAlreadyIngested:
			fmt.Fprintf(opts.out(), "%s: already ingested (%s), skipped\n", files[i], out.Fingerprint.Short())
		default:
			fmt.Fprintf(opts.out(), "%s: %d records from %d windows (%d of %d lines rejected)\n",
				files[i], out.Records, out.Observations, out.RejectedLines, out.Lines)
		}
	}
	return outcomes, err
}

// Learn fetches, cleans and trains on Wikipedia pages in one go.
func Learn(ctx context.Context, titles []string, force bool, opts Options) error {
	client, err := newFetcher(opts)
	if err != nil {
		return err
	}

	pages, err := client.PageAll(ctx, titles)
	if err != nil {
		return err
	}

	files := make([]string, 0, len(pages))
	for _, page := range pages {
		dst := strings.TrimSuffix(page.Path, filepath.Ext(page.Path)) + "_clean.txt"
		if _, err := textclean.CleanFile(page.Path, dst, force); err != nil {
			return err
		}
		files = append(files, dst)
	}

	s, err := openStore(ctx, opts.Settings.Store.Path, true)
	if err != nil {
		return err
	}
	defer s.Close()

	_, err = train(ctx, s, files, opts)
	return err
}

// Generate prints one sentence per seed. A maxLength of 0 uses the configured
// default. A negative rngSeed draws a random one.
func Generate(ctx context.Context, seeds []string, maxLength int, rngSeed int64, opts Options) error {
	if maxLength < 0 {
		return errs.InvalidArgument("max length must not be negative, got %d", maxLength)
	}
	if maxLength == 0 {
		maxLength = opts.Settings.Generate.MaxLength
	}

	s, err := openStore(ctx, opts.Settings.Store.Path, false)
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := newGenerator(s, rngSeed, opts)
	if err != nil {
		return err
	}

	sentences, err := g.GenerateMany(ctx, seeds, maxLength)
	for _, sentence := range sentences {
		fmt.Fprintln(opts.out(), sentence)
	}
	return err
}

func newGenerator(r storage.Reader, rngSeed int64, opts Options) (*generate.Generator, error) {
	var src generate.Source
	if rngSeed >= 0 {
		src = generate.NewSource(uint64(rngSeed))
	}
	return generate.New(r, opts.Settings.Model.ContextLength, src, generate.WithLogger(opts.logger()))
}

// Top prints the highest-frequency records.
func Top(ctx context.Context, limit int, format string, opts Options) error {
	s, err := openStore(ctx, opts.Settings.Store.Path, false)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.Top(ctx, limit)
	if err != nil {
		return err
	}

	return render(opts.out(), format, records, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "CONTEXT\tSYMBOL\tFREQUENCY")
		for _, r := range records {
			fmt.Fprintf(tw, "%q\t%q\t%d\n", r.Context, r.Symbol, r.Frequency)
		}
	})
}

// Stats prints table-wide counts.
func Stats(ctx context.Context, format string, opts Options) error {
	s, err := openStore(ctx, opts.Settings.Store.Path, false)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}

	return render(opts.out(), format, st, func(tw *tabwriter.Writer) {
		length := "unset"
		if st.ContextLength > 0 {
			length = fmt.Sprint(st.ContextLength)
		}
		fmt.Fprintf(tw, "Store:\t%s\n", s.Path())
		fmt.Fprintf(tw, "Context length:\t%s\n", length)
		fmt.Fprintf(tw, "Records:\t%d\n", st.Records)
		fmt.Fprintf(tw, "Contexts:\t%d\n", st.Contexts)
		fmt.Fprintf(tw, "Total frequency:\t%d\n", st.TotalFrequency)
		fmt.Fprintf(tw, "Corpora:\t%d\n", st.Fingerprints)
	})
}

// History prints the ingestion log, newest first.
func History(ctx context.Context, format string, opts Options) error {
	s, err := openStore(ctx, opts.Settings.Store.Path, false)
	if err != nil {
		return err
	}
	defer s.Close()

	log, err := s.Ingestions(ctx)
	if err != nil {
		return err
	}

	return render(opts.out(), format, log, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tSOURCE\tFINGERPRINT\tL\tRECORDS\tWINDOWS\tLINES\tREJECTED")
		for _, ing := range log {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				shortID(ing.ID), ing.Source, ing.Fingerprint.Short(), ing.ContextLength,
				ing.Records, ing.Observations, ing.Lines, ing.RejectedLines)
		}
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// render writes v as JSON or YAML, or calls table for the default format.
func render(w io.Writer, format string, v any, table func(*tabwriter.Writer)) error {
	switch strings.ToLower(format) {
	case "", FormatTable:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return errs.InvalidArgument("unknown output format %q (want table, json or yaml)", format)
	}
}
