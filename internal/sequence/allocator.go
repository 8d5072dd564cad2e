// Package sequence allocates the human-facing daily order id ("YYMMDD-NNN").
//
// A preview id is derived from the highest sequence already recorded by the
// row store for today and the last id this client claimed. Nothing is
// reserved until Claim runs after a confirmed write.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"florapos/internal/clock"
)

// Baseline is the client-local record of the last claimed sequence.
type Baseline struct {
	DatePrefix string
	Seq        int
}

// Store persists the client-local baseline.
type Store interface {
	Read(ctx context.Context) (Baseline, error)
	Write(ctx context.Context, b Baseline) error
}

// Remote reports the highest sequence number recorded for a date prefix.
type Remote interface {
	LastSequenceNumber(ctx context.Context, datePrefix string) (int, error)
}

type Allocator struct {
	store  Store
	remote Remote
	clock  clock.Clock
	logger *slog.Logger

	mu sync.Mutex
}

func NewAllocator(store Store, remote Remote, clk clock.Clock, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{store: store, remote: remote, clock: clk, logger: logger}
}

// Format builds an order id from a date prefix and a sequence number.
func Format(datePrefix string, seq int) string {
	return fmt.Sprintf("%s-%03d", datePrefix, seq)
}

// Parse splits an order id into date prefix and sequence.
func Parse(orderID string) (string, int, error) {
	prefix, raw, ok := strings.Cut(strings.TrimSpace(orderID), "-")
	if !ok || len(prefix) != len(clock.DatePrefixLayout) || raw == "" {
		return "", 0, fmt.Errorf("malformed order id %q", orderID)
	}
	seq, err := strconv.Atoi(raw)
	if err != nil || seq < 1 {
		return "", 0, fmt.Errorf("malformed order id %q", orderID)
	}
	return prefix, seq, nil
}

// Today returns the current date prefix in the store timezone.
func (a *Allocator) Today() string {
	return clock.DatePrefix(a.clock.Now())
}

// Preview derives the next order id for today without reserving it. Calling
// it repeatedly is safe; the value only moves when the row store or a local
// claim moves.
func (a *Allocator) Preview(ctx context.Context) string {
	prefix := a.Today()
	cloud := a.cloudSeq(ctx, prefix)

	a.mu.Lock()
	defer a.mu.Unlock()
	return Format(prefix, a.next(ctx, prefix, cloud, 0))
}

// NextAfter returns an id for the same date that is strictly greater than
// orderID. It is used after the row store rejected orderID as taken.
func (a *Allocator) NextAfter(ctx context.Context, orderID string) (string, error) {
	prefix, seq, err := Parse(orderID)
	if err != nil {
		return "", err
	}

	cloud := a.cloudSeq(ctx, prefix)

	a.mu.Lock()
	defer a.mu.Unlock()
	return Format(prefix, a.next(ctx, prefix, cloud, seq)), nil
}

// Rollover moves orderID onto today's date when its prefix is no longer
// today and reports whether the id changed. A baseline from an earlier day
// is reset to today; one already on today is kept, since other terminals
// may have claimed ids since midnight.
func (a *Allocator) Rollover(ctx context.Context, orderID string) (string, bool, error) {
	prefix, _, err := Parse(orderID)
	if err != nil {
		return "", false, err
	}

	today := a.Today()
	if prefix == today {
		return orderID, false, nil
	}
	cloud := a.cloudSeq(ctx, today)

	a.mu.Lock()
	defer a.mu.Unlock()

	baseline, err := a.store.Read(ctx)
	if err != nil {
		return "", false, fmt.Errorf("read sequence baseline: %w", err)
	}
	if baseline.DatePrefix < today {
		if err := a.store.Write(ctx, Baseline{DatePrefix: today, Seq: 0}); err != nil {
			return "", false, fmt.Errorf("reset sequence baseline: %w", err)
		}
	}

	rewritten := Format(today, a.next(ctx, today, cloud, 0))
	a.logger.Info("order date rolled over",
		slog.String("from", orderID),
		slog.String("to", rewritten),
	)
	return rewritten, true, nil
}

// Claim records orderID as used by this client. The baseline never moves
// backwards.
func (a *Allocator) Claim(ctx context.Context, orderID string) error {
	prefix, seq, err := Parse(orderID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("read sequence baseline: %w", err)
	}
	if current.DatePrefix > prefix {
		return nil
	}
	if current.DatePrefix == prefix && current.Seq >= seq {
		return nil
	}
	if err := a.store.Write(ctx, Baseline{DatePrefix: prefix, Seq: seq}); err != nil {
		return fmt.Errorf("write sequence baseline: %w", err)
	}
	return nil
}

// cloudSeq reads the remote value outside the allocator lock. A failure
// counts as 0.
func (a *Allocator) cloudSeq(ctx context.Context, prefix string) int {
	if a.remote == nil {
		return 0
	}
	n, err := a.remote.LastSequenceNumber(ctx, prefix)
	if err != nil {
		a.logger.Warn("remote sequence lookup failed, using local baseline",
			slog.String("date", prefix),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return n
}

// next must be called with a.mu held.
func (a *Allocator) next(ctx context.Context, prefix string, cloud int, floor int) int {
	local := 0
	baseline, err := a.store.Read(ctx)
	if err != nil {
		a.logger.Warn("local sequence baseline unreadable",
			slog.String("error", err.Error()),
		)
	} else if baseline.DatePrefix == prefix {
		local = baseline.Seq
	}

	current := cloud
	if current <= 0 || local > current {
		current = local
	}
	if floor > current {
		current = floor
	}
	return current + 1
}
