package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/markov/internal/errs"
)

// runStoreContract exercises behaviour every FrequencyStore must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) FrequencyStore) {
	t.Run("LookupUnknownContextIsEmpty", func(t *testing.T) {
		s := newStore(t)
		got, err := s.LookupNext(context.Background(), "zz")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("MergeCreatesThenIncrements", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.MergeFrequencies(ctx, []Observation{
			{Context: "ab", Symbol: 'c', Delta: 2},
			{Context: "ab", Symbol: 'd', Delta: 1},
		}))
		require.NoError(t, s.MergeFrequencies(ctx, []Observation{
			{Context: "ab", Symbol: 'c', Delta: 3},
		}))

		got, err := s.LookupNext(ctx, "ab")
		require.NoError(t, err)
		want := []Continuation{{Symbol: 'c', Frequency: 5}, {Symbol: 'd', Frequency: 1}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("continuations mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("MergeRejectsNonPositiveDelta", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.MergeFrequencies(ctx, []Observation{
			{Context: "ab", Symbol: 'c', Delta: 1},
			{Context: "ab", Symbol: 'd', Delta: 0},
		})
		require.Error(t, err)
		assert.True(t, errs.IsInvalidArgument(err))

		got, err := s.LookupNext(ctx, "ab")
		require.NoError(t, err)
		assert.Empty(t, got, "rejected batch must not be partially applied")
	})

	t.Run("FingerprintRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		has, err := s.HasFingerprint(ctx, "abc")
		require.NoError(t, err)
		assert.False(t, has)

		require.NoError(t, s.RecordFingerprint(ctx, "abc"))
		require.NoError(t, s.RecordFingerprint(ctx, "abc"))

		has, err = s.HasFingerprint(ctx, "abc")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("CommitIsAllOrNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Commit(ctx, Batch{
			Fingerprint:   "fp-bad",
			ContextLength: 2,
			Observations: []Observation{
				{Context: "ab", Symbol: 'c', Delta: 1},
				{Context: "bc", Symbol: 'a', Delta: 1},
				{Context: "abc", Symbol: 'a', Delta: 1}, // wrong length
			},
		})
		require.Error(t, err)
		assert.True(t, errs.IsInvalidArgument(err))

		has, err := s.HasFingerprint(ctx, "fp-bad")
		require.NoError(t, err)
		assert.False(t, has, "fingerprint must not survive a failed commit")

		got, err := s.LookupNext(ctx, "ab")
		require.NoError(t, err)
		assert.Empty(t, got, "frequencies must not survive a failed commit")

		_, fixed, err := s.ContextLength(ctx)
		require.NoError(t, err)
		assert.False(t, fixed, "context length must not survive a failed commit")

		log, err := s.Ingestions(ctx)
		require.NoError(t, err)
		assert.Empty(t, log)
	})

	t.Run("CommitRecordsEverything", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ing, err := s.Commit(ctx, Batch{
			Fingerprint:   "fp-1",
			ContextLength: 2,
			Source:        "cats.txt",
			Lines:         3,
			RejectedLines: 1,
			Observations: []Observation{
				{Context: "ab", Symbol: 'c', Delta: 2},
				{Context: "bc", Symbol: 'a', Delta: 1},
			},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, ing.ID)
		assert.Equal(t, 2, ing.Records)
		assert.Equal(t, int64(3), ing.Observations)

		has, err := s.HasFingerprint(ctx, "fp-1")
		require.NoError(t, err)
		assert.True(t, has)

		length, fixed, err := s.ContextLength(ctx)
		require.NoError(t, err)
		assert.True(t, fixed)
		assert.Equal(t, 2, length)

		log, err := s.Ingestions(ctx)
		require.NoError(t, err)
		require.Len(t, log, 1)
		assert.Equal(t, "cats.txt", log[0].Source)
		assert.Equal(t, 1, log[0].RejectedLines)
		assert.Equal(t, Fingerprint("fp-1"), log[0].Fingerprint)
	})

	t.Run("CommitDuplicateFingerprint", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		batch := Batch{
			Fingerprint:   "fp-dup",
			ContextLength: 2,
			Observations:  []Observation{{Context: "ab", Symbol: 'c', Delta: 1}},
		}

		_, err := s.Commit(ctx, batch)
		require.NoError(t, err)

		_, err = s.Commit(ctx, batch)
		assert.True(t, errors.Is(err, ErrAlreadyIngested))

		got, err := s.LookupNext(ctx, "ab")
		require.NoError(t, err)
		assert.Equal(t, []Continuation{{Symbol: 'c', Frequency: 1}}, got)
	})

	t.Run("CommitRejectsContextLengthMismatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Commit(ctx, Batch{
			Fingerprint:   "fp-a",
			ContextLength: 2,
			Observations:  []Observation{{Context: "ab", Symbol: 'c', Delta: 1}},
		})
		require.NoError(t, err)

		_, err = s.Commit(ctx, Batch{
			Fingerprint:   "fp-b",
			ContextLength: 3,
			Observations:  []Observation{{Context: "abc", Symbol: 'd', Delta: 1}},
		})
		require.Error(t, err)
		assert.True(t, errs.IsInvalidArgument(err))

		has, err := s.HasFingerprint(ctx, "fp-b")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("CommitRejectsLengthDisagreeingWithStoredContexts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		// Merged while no context length is fixed.
		require.NoError(t, s.MergeFrequencies(ctx, []Observation{{Context: "abc", Symbol: 'd', Delta: 1}}))

		_, err := s.Commit(ctx, Batch{
			Fingerprint:   "fp-a",
			ContextLength: 2,
			Observations:  []Observation{{Context: "ab", Symbol: 'c', Delta: 1}},
		})
		require.Error(t, err)
		assert.True(t, errs.IsInvalidArgument(err))

		_, fixed, err := s.ContextLength(ctx)
		require.NoError(t, err)
		assert.False(t, fixed)

		has, err := s.HasFingerprint(ctx, "fp-a")
		require.NoError(t, err)
		assert.False(t, has)

		got, err := s.LookupNext(ctx, "ab")
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = s.Commit(ctx, Batch{
			Fingerprint:   "fp-b",
			ContextLength: 3,
			Observations:  []Observation{{Context: "bcd", Symbol: 'a', Delta: 1}},
		})
		require.NoError(t, err)
		length, fixed, err := s.ContextLength(ctx)
		require.NoError(t, err)
		assert.True(t, fixed)
		assert.Equal(t, 3, length)
	})

	t.Run("SetContextLength", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		assert.True(t, errs.IsInvalidArgument(s.SetContextLength(ctx, 0)))
		require.NoError(t, s.SetContextLength(ctx, 5))
		require.NoError(t, s.SetContextLength(ctx, 5))
		assert.True(t, errs.IsInvalidArgument(s.SetContextLength(ctx, 4)))

		assert.True(t, errs.IsInvalidArgument(CheckContextLength(ctx, s, 4)))
		assert.NoError(t, CheckContextLength(ctx, s, 5))
	})

	t.Run("TopOrdersByFrequency", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.MergeFrequencies(ctx, []Observation{
			{Context: "ab", Symbol: 'c', Delta: 2},
			{Context: "bc", Symbol: 'a', Delta: 5},
			{Context: "ca", Symbol: 'b', Delta: 2},
			{Context: "aa", Symbol: 'a', Delta: 1},
		}))

		top, err := s.Top(ctx, 3)
		require.NoError(t, err)
		want := []Record{
			{Context: "bc", Symbol: "a", Frequency: 5},
			{Context: "ab", Symbol: "c", Frequency: 2},
			{Context: "ca", Symbol: "b", Frequency: 2},
		}
		if diff := cmp.Diff(want, top); diff != "" {
			t.Errorf("top mismatch (-want +got):\n%s", diff)
		}

		_, err = s.Top(ctx, 0)
		assert.True(t, errs.IsInvalidArgument(err))
	})

	t.Run("Stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Commit(ctx, Batch{
			Fingerprint:   "fp-s",
			ContextLength: 2,
			Observations: []Observation{
				{Context: "ab", Symbol: 'c', Delta: 2},
				{Context: "ab", Symbol: 'd', Delta: 1},
				{Context: "bc", Symbol: 'a', Delta: 4},
			},
		})
		require.NoError(t, err)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Records: 3, Contexts: 2, Fingerprints: 1, TotalFrequency: 7, ContextLength: 2}, st)
	})

	t.Run("ContextsWithPrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.MergeFrequencies(ctx, []Observation{
			{Context: "the", Symbol: ' ', Delta: 1},
			{Context: "the", Symbol: 'y', Delta: 1},
			{Context: "tha", Symbol: 't', Delta: 1},
			{Context: "cat", Symbol: 's', Delta: 1},
		}))

		got, err := s.ContextsWithPrefix(ctx, "th", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"tha", "the"}, got)

		got, err = s.ContextsWithPrefix(ctx, "", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"cat"}, got)

		got, err = s.ContextsWithPrefix(ctx, "x", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("UnicodeSymbols", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.MergeFrequencies(ctx, []Observation{
			{Context: "caf", Symbol: 'é', Delta: 1},
		}))
		got, err := s.LookupNext(ctx, "caf")
		require.NoError(t, err)
		assert.Equal(t, []Continuation{{Symbol: 'é', Frequency: 1}}, got)
	})
}
