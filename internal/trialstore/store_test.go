package trialstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialwhisperer/internal/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "trials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := domain.TrialRecord{
		NCTID:       "NCT01234567",
		Title:       "Aspirin in adults",
		Conditions:  []string{"Stroke"},
		Eligibility: domain.Eligibility{Inclusion: "Age 18-75", MinimumAge: "18 Years"},
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "NCT01234567")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = s.Get(ctx, "NCT09999999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveReplacesOnReingest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	first := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return first }
	require.NoError(t, s.Save(ctx,
		domain.TrialRecord{NCTID: "NCT00000002", Title: "old"},
		domain.TrialRecord{NCTID: "NCT00000001", Title: "b"},
	))

	second := first.Add(time.Hour)
	s.now = func() time.Time { return second }
	require.NoError(t, s.Save(ctx, domain.TrialRecord{NCTID: "NCT00000002", Title: "new"}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Get(ctx, "NCT00000002")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"NCT00000001", "NCT00000002"}, ids)

	last, err := s.LastUpdated(ctx)
	require.NoError(t, err)
	assert.True(t, second.Equal(last))
}

func TestEmptyStore(t *testing.T) {
	s := openStore(t)
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	last, err := s.LastUpdated(context.Background())
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}
