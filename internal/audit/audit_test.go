package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink_AssignsIDs(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Record{Ref: "libfoo/1.0", Outcome: OutcomeExported}))
	require.NoError(t, s.Record(ctx, Record{ID: "fixed", Ref: "libfoo/1.0", Outcome: OutcomeFailed}))

	got := s.Snapshot()
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, "fixed", got[1].ID)
}

func TestSQLiteSink_RecordAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.db")
	s, err := NewSQLiteSink(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	at := time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC)
	require.NoError(t, s.Record(ctx, Record{Ref: "libfoo/1.0#r1:aaaa#p1", Outcome: OutcomeExported, Recovered: true, Time: at}))
	require.NoError(t, s.Record(ctx, Record{Ref: "libbar/2.0", Outcome: OutcomeFailed, ErrorKind: "DestinationCollision", Message: "exists", Time: at}))
	require.NoError(t, s.Record(ctx, Record{Ref: "libfoo/1.0", Outcome: OutcomeFailed, ErrorKind: "RecipeNotFound", Time: at}))

	foo, err := s.List(ctx, "libfoo/1.0")
	require.NoError(t, err)
	require.Len(t, foo, 2)
	assert.Equal(t, OutcomeExported, foo[0].Outcome)
	assert.True(t, foo[0].Recovered)
	assert.Equal(t, at, foo[0].Time)
	assert.Equal(t, "RecipeNotFound", foo[1].ErrorKind)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteSink_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := NewSQLiteSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Record{Ref: "zlib/1.2.13", Outcome: OutcomeExported}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteSink(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.List(context.Background(), "zlib/")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteSink_ListMatchesWholeFields(t *testing.T) {
	s, err := NewSQLiteSink(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for _, r := range []string{
		"libfoo/1.0",
		"libfoo/1.0#r1:aaaa#p1",
		"libfoo/1.0@user/stable",
		"libfoo/1.0.1",
		"libfoo/1.0.1#r2:bbbb#p2",
		"libfoobar/1.0",
	} {
		require.NoError(t, s.Record(ctx, Record{Ref: r, Outcome: OutcomeExported}))
	}

	refs := func(prefix string) []string {
		got, err := s.List(ctx, prefix)
		require.NoError(t, err)
		var out []string
		for _, rec := range got {
			out = append(out, rec.Ref)
		}
		return out
	}

	assert.Equal(t, []string{"libfoo/1.0", "libfoo/1.0#r1:aaaa#p1", "libfoo/1.0@user/stable"}, refs("libfoo/1.0"))
	assert.Equal(t, []string{"libfoo/1.0.1", "libfoo/1.0.1#r2:bbbb#p2"}, refs("libfoo/1.0.1"))
	assert.Equal(t, []string{"libfoo/1.0", "libfoo/1.0#r1:aaaa#p1", "libfoo/1.0@user/stable", "libfoo/1.0.1", "libfoo/1.0.1#r2:bbbb#p2"}, refs("libfoo"))
	assert.Equal(t, []string{"libfoo/1.0#r1:aaaa#p1"}, refs("libfoo/1.0#"))
	assert.Empty(t, refs("libfoo/1"))
}
