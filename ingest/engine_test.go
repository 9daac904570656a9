package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/markov/internal/errs"
	"github.com/richinex/markov/storage"
)

func newSqlite(t *testing.T) storage.FrequencyStore {
	t.Helper()
	s, err := storage.NewSqliteInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// dump returns the whole frequency table.
func dump(t *testing.T, s storage.FrequencyStore) []storage.Record {
	t.Helper()
	records, err := s.Top(context.Background(), 1<<20)
	require.NoError(t, err)
	return records
}

func newEngine(t *testing.T, s storage.FrequencyStore, length int, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(s, length, opts...)
	require.NoError(t, err)
	return e
}

func TestIngestWindowing(t *testing.T) {
	s := newSqlite(t)
	e := newEngine(t, s, 2)

	out, err := e.Ingest(context.Background(), CorpusFromLines("abc", []string{"abcabc"}))
	require.NoError(t, err)
	assert.Equal(t, StatusIngested, out.Status)
	assert.Equal(t, 3, out.Records)
	assert.Equal(t, int64(4), out.Observations)

	want := []storage.Record{
		{Context: "ab", Symbol: "c", Frequency: 2},
		{Context: "bc", Symbol: "a", Frequency: 1},
		{Context: "ca", Symbol: "b", Frequency: 1},
	}
	if diff := cmp.Diff(want, dump(t, s)); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestIngestWindowsDoNotSpanLines(t *testing.T) {
	s := storage.NewInMemoryStore()
	e := newEngine(t, s, 2)

	_, err := e.Ingest(context.Background(), NewCorpus("two", []byte("ab\ncd")))
	require.NoError(t, err)

	assert.Empty(t, dump(t, s), "lines of length <= L contribute nothing")
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	corpus := CorpusFromLines("cats", []string{"The cat sat.", "The cat ran."})

	once := newSqlite(t)
	_, err := newEngine(t, once, 3).Ingest(ctx, corpus)
	require.NoError(t, err)

	twice := newSqlite(t)
	e := newEngine(t, twice, 3)
	first, err := e.Ingest(ctx, corpus)
	require.NoError(t, err)
	second, err := e.Ingest(ctx, corpus)
	require.NoError(t, err)

	assert.Equal(t, StatusIngested, first.Status)
	assert.Equal(t, StatusAlreadyIngested, second.Status)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	if diff := cmp.Diff(dump(t, once), dump(t, twice)); diff != "" {
		t.Errorf("second ingestion changed the table (-once +twice):\n%s", diff)
	}

	log, err := twice.Ingestions(ctx)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestIngestSameLinesDifferentBytesIsNewCorpus(t *testing.T) {
	s := storage.NewInMemoryStore()
	e := newEngine(t, s, 2)
	ctx := context.Background()

	_, err := e.Ingest(ctx, NewCorpus("a", []byte("abc")))
	require.NoError(t, err)
	out, err := e.Ingest(ctx, NewCorpus("b", []byte("abc\n")))
	require.NoError(t, err)

	assert.Equal(t, StatusIngested, out.Status)
	assert.Equal(t, []storage.Record{{Context: "ab", Symbol: "c", Frequency: 2}}, dump(t, s))
}

func TestIngestMergeIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	a := CorpusFromLines("a", []string{"the cat sat on the mat.", "a cat."})
	b := CorpusFromLines("b", []string{"the dog sat on the log.", "the cat."})

	ab := newSqlite(t)
	eab := newEngine(t, ab, 3)
	_, err := eab.Ingest(ctx, a)
	require.NoError(t, err)
	_, err = eab.Ingest(ctx, b)
	require.NoError(t, err)

	ba := storage.NewInMemoryStore()
	eba := newEngine(t, ba, 3)
	_, err = eba.Ingest(ctx, b)
	require.NoError(t, err)
	_, err = eba.Ingest(ctx, a)
	require.NoError(t, err)

	if diff := cmp.Diff(dump(t, ab), dump(t, ba)); diff != "" {
		t.Errorf("A then B differs from B then A (-ab +ba):\n%s", diff)
	}

	// Frequencies are the sum of the two single-corpus tables.
	onlyA := storage.NewInMemoryStore()
	_, err = newEngine(t, onlyA, 3).Ingest(ctx, a)
	require.NoError(t, err)
	onlyB := storage.NewInMemoryStore()
	_, err = newEngine(t, onlyB, 3).Ingest(ctx, b)
	require.NoError(t, err)

	sum := map[[2]string]int64{}
	for _, r := range append(dump(t, onlyA), dump(t, onlyB)...) {
		sum[[2]string{r.Context, r.Symbol}] += r.Frequency
	}
	got := map[[2]string]int64{}
	for _, r := range dump(t, ab) {
		got[[2]string{r.Context, r.Symbol}] = r.Frequency
	}
	assert.Equal(t, sum, got)
}

func TestIngestRejectsNonPrintableLines(t *testing.T) {
	s := storage.NewInMemoryStore()
	e := newEngine(t, s, 2)

	out, err := e.Ingest(context.Background(), CorpusFromLines("mixed", []string{"abc", "café"}))
	require.NoError(t, err)
	assert.Equal(t, 1, out.RejectedLines)
	assert.Equal(t, 2, out.Lines)
	assert.Equal(t, []storage.Record{{Context: "ab", Symbol: "c", Frequency: 1}}, dump(t, s))
}

func TestIngestAcceptAllIndexesRunes(t *testing.T) {
	s := storage.NewInMemoryStore()
	e := newEngine(t, s, 2, WithLineFilter(AcceptAll))

	out, err := e.Ingest(context.Background(), CorpusFromLines("fr", []string{"café"}))
	require.NoError(t, err)
	assert.Equal(t, 0, out.RejectedLines)

	got, err := s.LookupNext(context.Background(), "af")
	require.NoError(t, err)
	assert.Equal(t, []storage.Continuation{{Symbol: 'é', Frequency: 1}}, got)
}

func TestIngestContextLengthMismatch(t *testing.T) {
	s := storage.NewInMemoryStore()
	ctx := context.Background()

	_, err := newEngine(t, s, 2).Ingest(ctx, CorpusFromLines("a", []string{"abcd"}))
	require.NoError(t, err)

	_, err = newEngine(t, s, 3).Ingest(ctx, CorpusFromLines("b", []string{"wxyz"}))
	require.Error(t, err)
	assert.True(t, errs.IsInvalidArgument(err))
}

func TestNewEngineRejectsBadArguments(t *testing.T) {
	_, err := NewEngine(storage.NewInMemoryStore(), 0)
	assert.True(t, errs.IsInvalidArgument(err))

	_, err = NewEngine(nil, 2)
	assert.True(t, errs.IsInvalidArgument(err))
}

// failingStore fails every commit after the fingerprint check.
type failingStore struct {
	*storage.InMemoryStore
	raced bool
}

func (f *failingStore) Commit(ctx context.Context, b storage.Batch) (storage.Ingestion, error) {
	if f.raced {
		return storage.Ingestion{}, storage.ErrAlreadyIngested
	}
	return storage.Ingestion{}, errs.StorageUnavailable(errors.New("disk I/O error"), "failed to commit transaction")
}

func TestIngestStorageFailureRecordsNothing(t *testing.T) {
	s := &failingStore{InMemoryStore: storage.NewInMemoryStore()}
	e := newEngine(t, s, 2)
	corpus := CorpusFromLines("a", []string{"abcabc"})

	_, err := e.Ingest(context.Background(), corpus)
	require.Error(t, err)
	assert.True(t, errs.IsStorageUnavailable(err))

	has, err := s.HasFingerprint(context.Background(), corpus.Fingerprint())
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, dump(t, s))
}

func TestIngestLostRaceIsAlreadyIngested(t *testing.T) {
	s := &failingStore{InMemoryStore: storage.NewInMemoryStore(), raced: true}
	e := newEngine(t, s, 2)

	out, err := e.Ingest(context.Background(), CorpusFromLines("a", []string{"abcabc"}))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyIngested, out.Status)
}

func TestIngestLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := newEngine(t, storage.NewInMemoryStore(), 2, WithLogger(logger))

	_, err := e.Ingest(context.Background(), CorpusFromLines("cats.txt", []string{"abc", "ü"}))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "corpus ingested")
	assert.Contains(t, buf.String(), "source=cats.txt")
	assert.Contains(t, buf.String(), "rejected=1")
}

func TestIngestAll(t *testing.T) {
	e := newEngine(t, storage.NewInMemoryStore(), 2)
	a := CorpusFromLines("a", []string{"abc"})

	outs, err := e.IngestAll(context.Background(), []Corpus{a, a})
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, StatusIngested, outs[0].Status)
	assert.Equal(t, StatusAlreadyIngested, outs[1].Status)
}
