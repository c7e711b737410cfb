package model

import "github.com/shopspring/decimal"

// Event is a notification emitted by the engine after state mutation and
// before the triggering operation returns.
type Event interface {
	EventType() string
}

// ItemCreated is emitted once, when a token pair is first registered.
type ItemCreated struct {
	ItemID      uint64 `json:"item_id"`
	NFTContract string `json:"nft_contract"`
	TokenID     uint64 `json:"token_id"`
	Creator     string `json:"creator"`
}

func (ItemCreated) EventType() string { return "item_created" }

// PositionUpdate is emitted whenever a position is created or its
// (owner, amount, price, state) tuple changes.
type PositionUpdate struct {
	PositionID uint64          `json:"position_id"`
	ItemID     uint64          `json:"item_id"`
	Owner      string          `json:"owner"`
	Amount     uint64          `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	FeeBP      int64           `json:"fee_bp"`
	State      PositionState   `json:"state"`
}

func (PositionUpdate) EventType() string { return "position_update" }

// PositionDelete is emitted when a position's amount reaches zero and the
// position is removed.
type PositionDelete struct {
	PositionID uint64 `json:"position_id"`
}

func (PositionDelete) EventType() string { return "position_delete" }

// MarketItemSold is emitted for every completed trade, whatever the mode.
type MarketItemSold struct {
	ItemID      uint64          `json:"item_id"`
	NFTContract string          `json:"nft_contract"`
	TokenID     uint64          `json:"token_id"`
	Seller      string          `json:"seller"`
	Buyer       string          `json:"buyer"`
	Price       decimal.Decimal `json:"price"`
	Amount      uint64          `json:"amount"`
}

func (MarketItemSold) EventType() string { return "market_item_sold" }

// MarketFeeChanged is emitted when the platform owner changes the fee rate.
type MarketFeeChanged struct {
	Prev int64 `json:"prev"`
	New  int64 `json:"new"`
}

func (MarketFeeChanged) EventType() string { return "market_fee_changed" }

// RoyaltiesPaid is emitted when a settlement routes a royalty cut.
type RoyaltiesPaid struct {
	NFTContract string          `json:"nft_contract"`
	TokenID     uint64          `json:"token_id"`
	Value       decimal.Decimal `json:"value"`
}

func (RoyaltiesPaid) EventType() string { return "royalties_paid" }
