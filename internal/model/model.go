// Package model defines the core domain types shared across the marketplace
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the trade mode a position is committed to.
type PositionState string

const (
	// StateAvailable marks units owned by an address and not committed to
	// any trade mode. Bookkeeping only; the engine holds no custody for it.
	StateAvailable PositionState = "AVAILABLE"
	StateSale      PositionState = "SALE"
	StateAuction   PositionState = "AUCTION"
	StateRaffle    PositionState = "RAFFLE"
	StateLoan      PositionState = "LOAN"
)

// Valid reports whether s is one of the known position states.
func (s PositionState) Valid() bool {
	switch s {
	case StateAvailable, StateSale, StateAuction, StateRaffle, StateLoan:
		return true
	}
	return false
}

// Item is the engine-assigned identity of one (nftContract, tokenId) pair.
// At most one Item exists per pair; items are never destroyed.
type Item struct {
	ID            uint64    `json:"id" db:"id"`
	NFTContract   string    `json:"nft_contract" db:"nft_contract"`
	TokenID       uint64    `json:"token_id" db:"token_id"`
	Creator       string    `json:"creator" db:"creator"` // first registrant
	PositionCount uint64    `json:"position_count" db:"position_count"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Position is a bucket of Amount units of one Item held by one owner in one
// state. FeeBP is the market fee snapshot captured at creation and applied at
// settlement, so mid-trade admin fee changes never touch open trades.
type Position struct {
	ID        uint64          `json:"id" db:"id"`
	ItemID    uint64          `json:"item_id" db:"item_id"`
	Owner     string          `json:"owner" db:"owner"`
	Amount    uint64          `json:"amount" db:"amount"`
	Price     decimal.Decimal `json:"price" db:"price"` // per-unit (sale), min bid (auction), principal (loan)
	FeeBP     int64           `json:"fee_bp" db:"fee_bp"`
	State     PositionState   `json:"state" db:"state"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ItemSale is an immutable record of one completed trade. Once appended to an
// item's history these are never modified or deleted.
type ItemSale struct {
	ID        string          `json:"id" db:"id"`
	ItemID    uint64          `json:"item_id" db:"item_id"`
	Seller    string          `json:"seller" db:"seller"`
	Buyer     string          `json:"buyer" db:"buyer"`
	Price     decimal.Decimal `json:"price" db:"price"` // gross value paid by the buyer
	Amount    uint64          `json:"amount" db:"amount"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// AuctionData is the auction sidecar keyed by position id.
// Invariant: HighestBid > 0 exactly when HighestBidder != "".
type AuctionData struct {
	PositionID    uint64          `json:"position_id" db:"position_id"`
	Deadline      time.Time       `json:"deadline" db:"deadline"`
	MinBid        decimal.Decimal `json:"min_bid" db:"min_bid"`
	HighestBidder string          `json:"highest_bidder" db:"highest_bidder"`
	HighestBid    decimal.Decimal `json:"highest_bid" db:"highest_bid"`
}

// RaffleEntry tracks one participant's cumulative whole-unit tickets.
// Entries are append-only and keep insertion order for the winner draw.
type RaffleEntry struct {
	Address string `json:"address" db:"address"`
	Tickets uint64 `json:"tickets" db:"tickets"`
}

// RaffleData is the raffle sidecar keyed by position id.
// Invariant: TotalTickets equals the sum of entry tickets.
type RaffleData struct {
	PositionID   uint64        `json:"position_id" db:"position_id"`
	Deadline     time.Time     `json:"deadline" db:"deadline"`
	TotalTickets uint64        `json:"total_tickets" db:"total_tickets"`
	Entries      []RaffleEntry `json:"entries"`
}

// LoanData is the loan sidecar keyed by position id. Deadline stays zero until
// the loan is funded; Lender != "" exactly when Deadline is set.
type LoanData struct {
	PositionID      uint64          `json:"position_id" db:"position_id"`
	LoanAmount      decimal.Decimal `json:"loan_amount" db:"loan_amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount" db:"fee_amount"`
	DurationMinutes uint64          `json:"duration_minutes" db:"duration_minutes"`
	Lender          string          `json:"lender" db:"lender"`
	Deadline        time.Time       `json:"deadline" db:"deadline"`
}

// Funded reports whether the loan has a lender.
func (l *LoanData) Funded() bool { return l.Lender != "" }
