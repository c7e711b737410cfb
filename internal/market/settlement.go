package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/model"
)

var bpDenominator = decimal.NewFromInt(10000)

// Settlement breaks a gross trade value into its fixed-order splits:
// royalty first (on gross), then platform fee (on the post-royalty base),
// then seller payout. Floor division; rounding residue stays with the seller.
type Settlement struct {
	Gross           decimal.Decimal `json:"gross"`
	Royalty         decimal.Decimal `json:"royalty"`
	RoyaltyReceiver string          `json:"royalty_receiver,omitempty"`
	Fee             decimal.Decimal `json:"fee"`
	Net             decimal.Decimal `json:"net"` // seller receivable
}

// planSettlement computes the split for selling units of item out of pos for
// gross, and queues the payouts plus the custody transfer to recipient on pl.
// Run before any mutation: it validates the royalty configuration and returns
// an error without side effects when the configuration is unusable.
func (e *Engine) planSettlement(ctx context.Context, item *model.Item, pos *model.Position, recipient string, gross decimal.Decimal, units uint64, pl *plan) (*Settlement, error) {
	royalty := decimal.Zero
	receiver := ""

	supports, err := e.ledger.SupportsRoyalty(ctx, item.NFTContract)
	if err != nil {
		return nil, err
	}
	if supports {
		receiver, royalty, err = e.ledger.RoyaltyInfo(ctx, item.NFTContract, item.TokenID, gross)
		if err != nil {
			return nil, err
		}
		if royalty.IsNegative() || royalty.GreaterThan(gross) {
			return nil, fmt.Errorf("royalty %s outside [0, %s]: %w", royalty, gross, ErrBadParameter)
		}
		// Royalty above half of gross would let fee deduction push the
		// seller payout negative at high fee rates; reject outright.
		if royalty.Mul(decimal.NewFromInt(2)).GreaterThan(gross) {
			return nil, fmt.Errorf("royalty %s exceeds half of gross %s: %w", royalty, gross, ErrBadParameter)
		}
		// Royalty owed to the seller collapses into the seller payout.
		if receiver == pos.Owner || !royalty.IsPositive() {
			royalty = decimal.Zero
			receiver = ""
		}
	}

	fee := gross.Sub(royalty).Mul(decimal.NewFromInt(pos.FeeBP)).Div(bpDenominator).Floor()
	net := gross.Sub(royalty).Sub(fee)

	if receiver != "" {
		pl.pay("royalty", receiver, royalty)
		pl.emit(model.RoyaltiesPaid{NFTContract: item.NFTContract, TokenID: item.TokenID, Value: royalty})
	}
	pl.pay("fee", e.owner, fee)
	pl.pay("seller", pos.Owner, net)
	pl.sendUnits(recipient, item, units)
	pl.merge(item.ID, recipient)

	return &Settlement{
		Gross:           gross,
		Royalty:         royalty,
		RoyaltyReceiver: receiver,
		Fee:             fee,
		Net:             net,
	}, nil
}

// recordSale appends the immutable sale record and queues the sold event.
func (e *Engine) recordSale(ctx context.Context, item *model.Item, seller, buyer string, gross decimal.Decimal, units uint64, pl *plan) (*model.ItemSale, error) {
	sale := &model.ItemSale{
		ID:        uuid.New().String(),
		ItemID:    item.ID,
		Seller:    seller,
		Buyer:     buyer,
		Price:     gross,
		Amount:    units,
		Timestamp: e.now(),
	}
	if err := e.store.AppendSale(ctx, sale); err != nil {
		return nil, err
	}
	pl.emit(model.MarketItemSold{
		ItemID:      item.ID,
		NFTContract: item.NFTContract,
		TokenID:     item.TokenID,
		Seller:      seller,
		Buyer:       buyer,
		Price:       gross,
		Amount:      units,
	})
	return sale, nil
}

// TradeReceipt is returned from every settling operation.
type TradeReceipt struct {
	TradeID    string     `json:"trade_id"`
	PositionID uint64     `json:"position_id"`
	ItemID     uint64     `json:"item_id"`
	Seller     string     `json:"seller"`
	Buyer      string     `json:"buyer"`
	Units      uint64     `json:"units"`
	Settlement Settlement `json:"settlement"`
	Timestamp  time.Time  `json:"timestamp"`
}

func receipt(sale *model.ItemSale, positionID uint64, st *Settlement) *TradeReceipt {
	return &TradeReceipt{
		TradeID:    sale.ID,
		PositionID: positionID,
		ItemID:     sale.ItemID,
		Seller:     sale.Seller,
		Buyer:      sale.Buyer,
		Units:      sale.Amount,
		Settlement: *st,
		Timestamp:  sale.Timestamp,
	}
}

func logSettlement(op string, r *TradeReceipt) {
	slog.Info(op,
		"trade_id", r.TradeID,
		"position_id", r.PositionID,
		"item_id", r.ItemID,
		"seller", r.Seller,
		"buyer", r.Buyer,
		"units", r.Units,
		"gross", r.Settlement.Gross.String(),
		"royalty", r.Settlement.Royalty.String(),
		"fee", r.Settlement.Fee.String(),
		"net", r.Settlement.Net.String(),
	)
}
