package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// PutOnSale ingests units of an item into custody and opens a fixed-price
// sale position at price per unit. The caller must hold the units and have
// granted the engine operator rights.
func (e *Engine) PutOnSale(ctx context.Context, caller string, itemID uint64, units uint64, price decimal.Decimal) (uint64, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("price must be positive: %w", ErrBadParameter)
	}
	if units == 0 {
		return 0, fmt.Errorf("units must be positive: %w", ErrBadParameter)
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

	pos, err := e.createTradePosition(ctx, item, caller, units, price, model.StateSale, pl)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}

	// Custody moves last: a failed ingestion rolls the position back, so
	// custody never holds units no position accounts for.
	if err := e.ingest(ctx, caller, item, units); err != nil {
		if rerr := e.removePosition(ctx, pos, pl); rerr != nil {
			slog.Error("sale position rollback failed", "position_id", pos.ID, "err", rerr)
		}
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()

	e.execute(ctx, pl)
	slog.Info("put on sale", "position_id", pos.ID, "item_id", itemID, "seller", caller, "units", units, "price", price.String())
	return pos.ID, nil
}

// CreateSale buys units out of a sale position for value, which must equal
// price × units exactly. Partial fills shrink the position; the last fill
// deletes it. Proceeds settle royalty → fee → seller; the buyer's available
// position re-syncs to the ledger after the custody transfer.
func (e *Engine) CreateSale(ctx context.Context, buyer string, positionID uint64, units uint64, value decimal.Decimal) (*TradeReceipt, error) {
	pl := &plan{}
	e.mu.Lock()

	pos, err := e.positionInState(ctx, positionID, model.StateSale)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if units == 0 {
		e.mu.Unlock()
		return nil, fmt.Errorf("units must be positive: %w", ErrBadParameter)
	}
	if units > pos.Amount {
		e.mu.Unlock()
		return nil, fmt.Errorf("position %d holds %d of %d units: %w", positionID, pos.Amount, units, ErrInsufficientBalance)
	}
	expected := pos.Price.Mul(decimal.NewFromUint64(units))
	if !value.Equal(expected) {
		e.mu.Unlock()
		return nil, fmt.Errorf("value %s != %s (price %s × %d units): %w", value, expected, pos.Price, units, ErrBadValue)
	}

	item, err := e.store.GetItem(ctx, pos.ItemID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	st, err := e.planSettlement(ctx, item, pos, buyer, value, units, pl)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	sale, err := e.recordSale(ctx, item, pos.Owner, buyer, value, units, pl)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	pos.Amount -= units
	if pos.Amount == 0 {
		err = e.removePosition(ctx, pos, pl)
	} else {
		err = e.store.UpdatePosition(ctx, pos)
		pl.emit(positionUpdate(pos))
	}
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	e.execute(ctx, pl)
	r := receipt(sale, positionID, st)
	logSettlement("sale executed", r)
	return r, nil
}

// Unlist cancels a sale position, returning all units to the seller. Seller
// only.
func (e *Engine) Unlist(ctx context.Context, caller string, positionID uint64) error {
	pl := &plan{}
	e.mu.Lock()

	pos, err := e.positionInState(ctx, positionID, model.StateSale)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if pos.Owner != caller {
		e.mu.Unlock()
		return fmt.Errorf("position %d belongs to %s: %w", positionID, pos.Owner, ErrUnauthorized)
	}

	item, err := e.store.GetItem(ctx, pos.ItemID)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	if err := e.removePosition(ctx, pos, pl); err != nil {
		e.mu.Unlock()
		return err
	}
	pl.sendUnits(caller, item, pos.Amount)
	pl.merge(item.ID, caller)
	e.mu.Unlock()

	e.execute(ctx, pl)
	slog.Info("sale unlisted", "position_id", positionID, "seller", caller, "units", pos.Amount)
	return nil
}
