package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// ticketUnit is one whole unit of the native currency (1e18 base units).
// Raffle entries are bucketized into whole-unit tickets.
var ticketUnit = decimal.New(1, 18)

// CreateRaffle ingests units into custody and opens a raffle with the same
// duration bounds as an auction.
func (e *Engine) CreateRaffle(ctx context.Context, caller string, itemID uint64, units uint64, durationMinutes uint64) (uint64, error) {
	if units == 0 {
		return 0, fmt.Errorf("units must be positive: %w", ErrBadParameter)
	}
	if durationMinutes < minAuctionMinutes || durationMinutes > maxAuctionMinutes {
		return 0, fmt.Errorf("raffle duration %dmin outside [%d, %d]: %w",
			durationMinutes, minAuctionMinutes, maxAuctionMinutes, ErrBadParameter)
	}

	pl := &plan{}
	e.mu.Lock()

	item, err := e.store.GetItem(ctx, itemID)
	if errorsIsNotFound(err) {
		e.mu.Unlock()
		return 0, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}

	pos, err := e.createTradePosition(ctx, item, caller, units, decimal.Zero, model.StateRaffle, pl)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}

	deadline := e.now().Add(time.Duration(durationMinutes) * time.Minute)
	raffle := &model.RaffleData{
		PositionID: pos.ID,
		Deadline:   deadline,
	}
	if err := e.store.PutRaffle(ctx, raffle); err != nil {
		if rerr := e.removePosition(ctx, pos, pl); rerr != nil {
			slog.Error("raffle position rollback failed", "position_id", pos.ID, "err", rerr)
		}
		e.mu.Unlock()
		return 0, err
	}

	// Custody moves last: a failed ingestion rolls the position back, so
	// custody never holds units no position accounts for.
	if err := e.ingest(ctx, caller, item, units); err != nil {
		if rerr := e.removePosition(ctx, pos, pl); rerr != nil {
			slog.Error("raffle position rollback failed", "position_id", pos.ID, "err", rerr)
		}
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()

	e.execute(ctx, pl)
	slog.Info("raffle created",
		"position_id", pos.ID, "item_id", itemID, "seller", caller, "units", units, "deadline", deadline)
	return pos.ID, nil
}

// EnterRaffle buys tickets with value, which must be at least one whole
// native unit. Tickets are value/1e18 floored; sub-unit remainders are kept
// by the pool but earn no tickets. Repeat entries accumulate on the
// participant's existing entry.
func (e *Engine) EnterRaffle(ctx context.Context, caller string, positionID uint64, value decimal.Decimal) (uint64, error) {
	if value.LessThan(ticketUnit) {
		return 0, fmt.Errorf("entry %s below one native unit: %w", value, ErrBadValue)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.positionInState(ctx, positionID, model.StateRaffle); err != nil {
		return 0, err
	}
	raffle, err := e.store.GetRaffle(ctx, positionID)
	if err != nil {
		return 0, err
	}
	if e.now().After(raffle.Deadline) {
		return 0, fmt.Errorf("raffle ended at %s: %w", raffle.Deadline, ErrDeadlineExceeded)
	}

	ticketsBig := value.Div(ticketUnit).Floor().BigInt()
	if !ticketsBig.IsUint64() {
		return 0, fmt.Errorf("entry %s buys more tickets than the pool can count: %w", value, ErrBadValue)
	}
	tickets := ticketsBig.Uint64()
	if tickets > math.MaxUint64-raffle.TotalTickets {
		return 0, fmt.Errorf("entry %s overflows the ticket pool: %w", value, ErrBadValue)
	}

	found := false
	for i := range raffle.Entries {
		if raffle.Entries[i].Address == caller {
			raffle.Entries[i].Tickets += tickets
			found = true
			break
		}
	}
	if !found {
		raffle.Entries = append(raffle.Entries, model.RaffleEntry{Address: caller, Tickets: tickets})
	}
	raffle.TotalTickets += tickets

	if err := e.store.PutRaffle(ctx, raffle); err != nil {
		return 0, err
	}

	slog.Info("raffle entered",
		"position_id", positionID, "participant", caller,
		"tickets", tickets, "total_tickets", raffle.TotalTickets)
	return tickets, nil
}

// EndRaffle settles a raffle whose deadline has passed. With no tickets sold
// the units return to the seller. Otherwise a winner is drawn from the
// injected randomness source, weighted by tickets in entry order, and the
// pool (tickets × 1e18) settles through the royalty/fee/seller pipeline.
func (e *Engine) EndRaffle(ctx context.Context, positionID uint64) (*TradeReceipt, error) {
	pl := &plan{}
	e.mu.Lock()

	pos, err := e.positionInState(ctx, positionID, model.StateRaffle)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	raffle, err := e.store.GetRaffle(ctx, positionID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if !e.now().After(raffle.Deadline) {
		e.mu.Unlock()
		return nil, fmt.Errorf("raffle open until %s: %w", raffle.Deadline, ErrDeadlineNotReached)
	}

	item, err := e.store.GetItem(ctx, pos.ItemID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	if raffle.TotalTickets == 0 {
		if err := e.removePosition(ctx, pos, pl); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		pl.sendUnits(pos.Owner, item, pos.Amount)
		pl.merge(item.ID, pos.Owner)
		e.mu.Unlock()

		e.execute(ctx, pl)
		slog.Info("raffle ended without entries", "position_id", positionID, "seller", pos.Owner)
		return nil, nil
	}

	winner := drawWinner(raffle.Entries, e.rand.Draw(raffle.TotalTickets))
	gross := decimal.NewFromUint64(raffle.TotalTickets).Mul(ticketUnit)

	st, err := e.planSettlement(ctx, item, pos, winner, gross, pos.Amount, pl)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	sale, err := e.recordSale(ctx, item, pos.Owner, winner, gross, pos.Amount, pl)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if err := e.removePosition(ctx, pos, pl); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	e.execute(ctx, pl)
	r := receipt(sale, positionID, st)
	logSettlement("raffle settled", r)
	return r, nil
}

// drawWinner walks entries in insertion order accumulating tickets; the first
// entry whose running total exceeds roll wins. roll is in [0, totalTickets).
func drawWinner(entries []model.RaffleEntry, roll uint64) string {
	var running uint64
	for _, entry := range entries {
		running += entry.Tickets
		if running > roll {
			return entry.Address
		}
	}
	// Unreachable while TotalTickets equals the entry sum.
	return entries[len(entries)-1].Address
}
