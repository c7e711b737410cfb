package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/market"
)

// nativeUnits returns n whole units of the native currency (n × 1e18).
func nativeUnits(n int64) decimal.Decimal {
	return decimal.New(n, 18)
}

func TestEnterRaffle_TicketBucketing(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.CreateRaffle(ctx, "alice", itemID, 10, 60)
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}

	// Anything under one whole unit buys nothing and is rejected.
	if _, err := env.engine.EnterRaffle(ctx, "bob", posID, decimal.New(999, 15)); !errors.Is(err, market.ErrBadValue) {
		t.Errorf("sub-unit entry: expected ErrBadValue, got %v", err)
	}

	tickets, err := env.engine.EnterRaffle(ctx, "bob", posID, nativeUnits(1))
	if err != nil {
		t.Fatalf("one-unit entry: %v", err)
	}
	if tickets != 1 {
		t.Errorf("tickets = %d, want 1", tickets)
	}

	// 2.5 units buys two tickets; the remainder is kept by the pool.
	tickets, err = env.engine.EnterRaffle(ctx, "bob", posID, decimal.New(25, 17))
	if err != nil {
		t.Fatalf("fractional entry: %v", err)
	}
	if tickets != 2 {
		t.Errorf("tickets = %d, want 2", tickets)
	}

	// Repeat entries accumulate on one entry per participant.
	view, err := env.engine.FetchPosition(ctx, posID)
	if err != nil {
		t.Fatalf("fetch position: %v", err)
	}
	if view.Raffle.TotalTickets != 3 {
		t.Errorf("total tickets = %d, want 3", view.Raffle.TotalTickets)
	}
	if len(view.Raffle.Entries) != 1 || view.Raffle.Entries[0].Tickets != 3 {
		t.Fatalf("entries = %+v, want one entry of 3 tickets", view.Raffle.Entries)
	}
}

// Entries whose ticket count does not fit the pool's counter are rejected
// instead of silently truncated.
func TestEnterRaffle_OversizedEntryRejected(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.CreateRaffle(ctx, "alice", itemID, 10, 60)
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}

	// 1e38 base units = 1e20 tickets, beyond uint64.
	if _, err := env.engine.EnterRaffle(ctx, "bob", posID, decimal.New(1, 38)); !errors.Is(err, market.ErrBadValue) {
		t.Fatalf("expected ErrBadValue, got %v", err)
	}

	view, err := env.engine.FetchPosition(ctx, posID)
	if err != nil {
		t.Fatalf("fetch position: %v", err)
	}
	if view.Raffle.TotalTickets != 0 {
		t.Errorf("total tickets = %d, want 0", view.Raffle.TotalTickets)
	}
}

func TestEnterRaffle_AfterDeadline(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.CreateRaffle(ctx, "alice", itemID, 10, 60)
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}
	env.clock.Advance(61 * time.Minute)

	if _, err := env.engine.EnterRaffle(ctx, "bob", posID, nativeUnits(1)); !errors.Is(err, market.ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}
}

// A raffle with no tickets sold simply returns the units.
func TestEndRaffle_NoParticipants(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.CreateRaffle(ctx, "alice", itemID, 10, 60)
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}

	if _, err := env.engine.EndRaffle(ctx, posID); !errors.Is(err, market.ErrDeadlineNotReached) {
		t.Fatalf("early end: expected ErrDeadlineNotReached, got %v", err)
	}

	env.clock.Advance(61 * time.Minute)
	receipt, err := env.engine.EndRaffle(ctx, posID)
	if err != nil {
		t.Fatalf("end raffle: %v", err)
	}
	if receipt != nil {
		t.Fatalf("expected no receipt without tickets, got %+v", receipt)
	}
	if got := env.tokenBalance(t, "alice"); got != 10 {
		t.Errorf("seller balance = %d, want 10", got)
	}
}

// The winner is drawn from the injected randomness source, weighted by
// tickets in entry order, and the whole pool settles to the seller.
func TestEndRaffle_WeightedDraw(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.CreateRaffle(ctx, "alice", itemID, 10, 60)
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}
	if _, err := env.engine.EnterRaffle(ctx, "bob", posID, nativeUnits(2)); err != nil {
		t.Fatalf("bob entry: %v", err)
	}
	if _, err := env.engine.EnterRaffle(ctx, "carol", posID, nativeUnits(3)); err != nil {
		t.Fatalf("carol entry: %v", err)
	}

	// Rolls 0 and 1 land in bob's two tickets, 2..4 in carol's three. Roll 3
	// selects carol.
	env.rand.rolls = []uint64{3}
	env.clock.Advance(61 * time.Minute)

	receipt, err := env.engine.EndRaffle(ctx, posID)
	if err != nil {
		t.Fatalf("end raffle: %v", err)
	}
	if receipt == nil {
		t.Fatal("expected a settlement receipt")
	}
	if receipt.Buyer != "carol" {
		t.Errorf("winner = %s, want carol", receipt.Buyer)
	}
	wantDecimal(t, "gross", receipt.Settlement.Gross, nativeUnits(5))
	wantDecimal(t, "seller paid", env.bank.Balance("alice"), nativeUnits(5))
	if got := env.tokenBalance(t, "carol"); got != 10 {
		t.Errorf("winner units = %d, want 10", got)
	}
	if got := env.tokenBalance(t, "bob"); got != 0 {
		t.Errorf("loser units = %d, want 0", got)
	}
}

func TestEndRaffle_FirstEntryWinsRollZero(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.CreateRaffle(ctx, "alice", itemID, 10, 60)
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}
	if _, err := env.engine.EnterRaffle(ctx, "bob", posID, nativeUnits(1)); err != nil {
		t.Fatalf("bob entry: %v", err)
	}
	if _, err := env.engine.EnterRaffle(ctx, "carol", posID, nativeUnits(4)); err != nil {
		t.Fatalf("carol entry: %v", err)
	}

	env.rand.rolls = []uint64{0}
	env.clock.Advance(61 * time.Minute)

	receipt, err := env.engine.EndRaffle(ctx, posID)
	if err != nil {
		t.Fatalf("end raffle: %v", err)
	}
	if receipt.Buyer != "bob" {
		t.Errorf("winner = %s, want bob", receipt.Buyer)
	}
}
