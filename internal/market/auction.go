package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// CreateAuction ingests units into custody and opens an English auction.
// Duration is bounded to [1 hour, 31 days]. Bidding closes at the deadline,
// subject to soft-close extension.
func (e *Engine) CreateAuction(ctx context.Context, caller string, itemID uint64, units uint64, durationMinutes uint64, minBid decimal.Decimal) (uint64, error) {
	if units == 0 {
		return 0, fmt.Errorf("units must be positive: %w", ErrBadParameter)
	}
	if durationMinutes < minAuctionMinutes || durationMinutes > maxAuctionMinutes {
		return 0, fmt.Errorf("auction duration %dmin outside [%d, %d]: %w",
			durationMinutes, minAuctionMinutes, maxAuctionMinutes, ErrBadParameter)
	}
	if minBid.IsNegative() {
		return 0, fmt.Errorf("min bid must not be negative: %w", ErrBadParameter)
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

	pos, err := e.createTradePosition(ctx, item, caller, units, minBid, model.StateAuction, pl)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}

	deadline := e.now().Add(time.Duration(durationMinutes) * time.Minute)
	auction := &model.AuctionData{
		PositionID: pos.ID,
		Deadline:   deadline,
		MinBid:     minBid,
		HighestBid: decimal.Zero,
	}
	if err := e.store.PutAuction(ctx, auction); err != nil {
		if rerr := e.removePosition(ctx, pos, pl); rerr != nil {
			slog.Error("auction position rollback failed", "position_id", pos.ID, "err", rerr)
		}
		e.mu.Unlock()
		return 0, err
	}

	// Custody moves last: a failed ingestion rolls the position back, so
	// custody never holds units no position accounts for.
	if err := e.ingest(ctx, caller, item, units); err != nil {
		if rerr := e.removePosition(ctx, pos, pl); rerr != nil {
			slog.Error("auction position rollback failed", "position_id", pos.ID, "err", rerr)
		}
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()

	e.execute(ctx, pl)
	slog.Info("auction created",
		"position_id", pos.ID, "item_id", itemID, "seller", caller,
		"units", units, "min_bid", minBid.String(), "deadline", deadline)
	return pos.ID, nil
}

// CreateBid places a bid of value on an open auction. The current highest
// bidder may top up their own bid by any positive amount; any other bidder
// must strictly exceed the highest bid and meet the minimum. The displaced
// bidder is refunded (claimable on refund failure). A bid accepted with less
// than ten minutes remaining extends the deadline to ten minutes out.
func (e *Engine) CreateBid(ctx context.Context, caller string, positionID uint64, value decimal.Decimal) error {
	if !value.IsPositive() {
		return fmt.Errorf("bid must be positive: %w", ErrBadValue)
	}

	pl := &plan{}
	e.mu.Lock()

	if _, err := e.positionInState(ctx, positionID, model.StateAuction); err != nil {
		e.mu.Unlock()
		return err
	}
	auction, err := e.store.GetAuction(ctx, positionID)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	now := e.now()
	if now.After(auction.Deadline) {
		e.mu.Unlock()
		return fmt.Errorf("auction ended at %s: %w", auction.Deadline, ErrDeadlineExceeded)
	}

	if caller == auction.HighestBidder {
		// Incremental top-up; no gap check against yourself.
		auction.HighestBid = auction.HighestBid.Add(value)
	} else {
		if value.LessThan(auction.MinBid) || !value.GreaterThan(auction.HighestBid) {
			e.mu.Unlock()
			return fmt.Errorf("bid %s must exceed highest %s and meet minimum %s: %w",
				value, auction.HighestBid, auction.MinBid, ErrBadValue)
		}
		if auction.HighestBidder != "" {
			pl.pay("refund", auction.HighestBidder, auction.HighestBid)
		}
		auction.HighestBidder = caller
		auction.HighestBid = value
	}

	// Soft close: late bids keep the auction open at least ten more minutes.
	if auction.Deadline.Sub(now) < softCloseWindow {
		auction.Deadline = now.Add(softCloseWindow)
	}

	if err := e.store.PutAuction(ctx, auction); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.execute(ctx, pl)
	slog.Info("bid accepted",
		"position_id", positionID, "bidder", caller,
		"highest_bid", auction.HighestBid.String(), "deadline", auction.Deadline)
	return nil
}

// EndAuction settles an auction whose deadline has passed. With a standing
// bid the units go to the highest bidder and the bid settles through the
// royalty/fee/seller pipeline; without one the units return to the seller.
// Callable by anyone; a second call fails NotFound because the position is
// gone.
func (e *Engine) EndAuction(ctx context.Context, positionID uint64) (*TradeReceipt, error) {
	pl := &plan{}
	e.mu.Lock()

	pos, err := e.positionInState(ctx, positionID, model.StateAuction)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	auction, err := e.store.GetAuction(ctx, positionID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if !e.now().After(auction.Deadline) {
		e.mu.Unlock()
		return nil, fmt.Errorf("auction open until %s: %w", auction.Deadline, ErrDeadlineNotReached)
	}

	item, err := e.store.GetItem(ctx, pos.ItemID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	if !auction.HighestBid.IsPositive() {
		// No bids: everything back to the seller.
		if err := e.removePosition(ctx, pos, pl); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		pl.sendUnits(pos.Owner, item, pos.Amount)
		pl.merge(item.ID, pos.Owner)
		e.mu.Unlock()

		e.execute(ctx, pl)
		slog.Info("auction ended without bids", "position_id", positionID, "seller", pos.Owner)
		return nil, nil
	}

	st, err := e.planSettlement(ctx, item, pos, auction.HighestBidder, auction.HighestBid, pos.Amount, pl)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	sale, err := e.recordSale(ctx, item, pos.Owner, auction.HighestBidder, auction.HighestBid, pos.Amount, pl)
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
	logSettlement("auction settled", r)
	return r, nil
}
