package sequence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"florapos/internal/clock"
)

type remoteStub struct {
	mu    sync.Mutex
	last  map[string]int
	err   error
	calls int
}

func (r *remoteStub) LastSequenceNumber(_ context.Context, prefix string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	return r.last[prefix], nil
}

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 10, 0, 0, 0, time.UTC)
}

func TestFormatAndParse(t *testing.T) {
	assert.Equal(t, "240501-007", Format("240501", 7))
	assert.Equal(t, "240501-1234", Format("240501", 1234))

	prefix, seq, err := Parse("240501-042")
	require.NoError(t, err)
	assert.Equal(t, "240501", prefix)
	assert.Equal(t, 42, seq)

	for _, bad := range []string{"", "240501", "2405-001", "240501-abc", "240501-000"} {
		_, _, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestPreviewUsesCloudValueWhenPositive(t *testing.T) {
	remote := &remoteStub{last: map[string]int{"240501": 5}}
	store := NewMemoryStore()
	require.NoError(t, store.Write(context.Background(), Baseline{DatePrefix: "240501", Seq: 2}))

	a := NewAllocator(store, remote, clock.Func(func() time.Time { return day(1) }), testLogger())
	assert.Equal(t, "240501-006", a.Preview(context.Background()))
}

func TestPreviewFallsBackToLocalOnRemoteFailure(t *testing.T) {
	remote := &remoteStub{err: errors.New("unreachable")}
	store := NewMemoryStore()
	require.NoError(t, store.Write(context.Background(), Baseline{DatePrefix: "240501", Seq: 9}))

	a := NewAllocator(store, remote, clock.Func(func() time.Time { return day(1) }), testLogger())
	assert.Equal(t, "240501-010", a.Preview(context.Background()))
}

func TestPreviewIgnoresBaselineFromAnotherDay(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Write(context.Background(), Baseline{DatePrefix: "240430", Seq: 40}))

	a := NewAllocator(store, &remoteStub{}, clock.Func(func() time.Time { return day(1) }), testLogger())
	assert.Equal(t, "240501-001", a.Preview(context.Background()))
}

func TestPreviewIsIdempotentUntilClaim(t *testing.T) {
	a := NewAllocator(NewMemoryStore(), &remoteStub{}, clock.Func(func() time.Time { return day(1) }), testLogger())
	ctx := context.Background()

	first := a.Preview(ctx)
	assert.Equal(t, first, a.Preview(ctx))
	require.NoError(t, a.Claim(ctx, first))
	assert.Equal(t, "240501-002", a.Preview(ctx))
}

func TestSingleClientNeverRepeatsAnID(t *testing.T) {
	// The remote lags behind: it keeps reporting 3 while this client claims more.
	remote := &remoteStub{last: map[string]int{"240501": 3}}
	a := NewAllocator(NewMemoryStore(), remote, clock.Func(func() time.Time { return day(1) }), testLogger())
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id := a.Preview(ctx)
		require.False(t, seen[id], "id %s issued twice", id)
		seen[id] = true
		require.NoError(t, a.Claim(ctx, id))
	}
	assert.True(t, seen["240501-004"])
	assert.True(t, seen["240501-013"])
}

func TestClaimNeverMovesBackwards(t *testing.T) {
	store := NewMemoryStore()
	a := NewAllocator(store, nil, clock.Func(func() time.Time { return day(1) }), testLogger())
	ctx := context.Background()

	require.NoError(t, a.Claim(ctx, "240501-008"))
	require.NoError(t, a.Claim(ctx, "240501-003"))
	require.NoError(t, a.Claim(ctx, "240430-050"))

	b, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, Baseline{DatePrefix: "240501", Seq: 8}, b)
}

func TestRolloverRewritesToFirstOfDay(t *testing.T) {
	clk := &movableClock{now: day(1)}
	store := NewMemoryStore()
	a := NewAllocator(store, &remoteStub{}, clk, testLogger())
	ctx := context.Background()

	require.NoError(t, a.Claim(ctx, "240501-011"))
	preview := a.Preview(ctx)
	assert.Equal(t, "240501-012", preview)

	clk.Set(day(2))
	id, changed, err := a.Rollover(ctx, preview)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "240502-001", id)

	b, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, Baseline{DatePrefix: "240502", Seq: 0}, b)

	same, changed, err := a.Rollover(ctx, id)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, id, same)
}

func TestRolloverKeepsBaselineClaimedToday(t *testing.T) {
	clk := &movableClock{now: day(2)}
	store := NewMemoryStore()
	remote := &remoteStub{err: errors.New("unreachable")}
	a := NewAllocator(store, remote, clk, testLogger())
	ctx := context.Background()

	// another terminal already finished three orders today
	require.NoError(t, a.Claim(ctx, "240502-003"))
	assert.Equal(t, "240502-004", a.Preview(ctx))

	id, changed, err := a.Rollover(ctx, "240501-009")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "240502-004", id)

	b, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, Baseline{DatePrefix: "240502", Seq: 3}, b)
	assert.Equal(t, "240502-004", a.Preview(ctx))
}

func TestPreviewKeepsSameDayLocalAheadOfStaleCloud(t *testing.T) {
	remote := &remoteStub{last: map[string]int{"240501": 2}}
	store := NewMemoryStore()
	require.NoError(t, store.Write(context.Background(), Baseline{DatePrefix: "240501", Seq: 6}))

	a := NewAllocator(store, remote, clock.Func(func() time.Time { return day(1) }), testLogger())
	assert.Equal(t, "240501-007", a.Preview(context.Background()))
}

func TestNextAfterSkipsPastConflict(t *testing.T) {
	remote := &remoteStub{last: map[string]int{"240501": 4}}
	a := NewAllocator(NewMemoryStore(), remote, clock.Func(func() time.Time { return day(1) }), testLogger())

	next, err := a.NextAfter(context.Background(), "240501-004")
	require.NoError(t, err)
	assert.Equal(t, "240501-005", next)

	// the remote has not caught up with an id we know is taken
	next, err = a.NextAfter(context.Background(), "240501-007")
	require.NoError(t, err)
	assert.Equal(t, "240501-008", next)

	_, err = a.NextAfter(context.Background(), "bogus")
	assert.Error(t, err)
}
