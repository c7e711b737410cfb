// Package store defines the persistence interface for the marketplace engine
// state: items, positions, mode sidecars, sale history, and claimable
// balances. Implementations include PostgreSQL (source of truth), SQLite
// (embedded single-node), Redis (read-through cache), and in-memory (for
// testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface. Item and position ids are assigned by
// the store on creation and are strictly increasing; list methods iterate in
// ascending id order. The engine serializes writes, so implementations only
// need per-call atomicity.
type Store interface {
	// --- Items ---

	// CreateItem persists a new item and assigns its id.
	CreateItem(ctx context.Context, item *model.Item) error

	// GetItem retrieves an item by id.
	GetItem(ctx context.Context, id uint64) (*model.Item, error)

	// GetItemByToken retrieves an item by its (contract, token) identity.
	GetItemByToken(ctx context.Context, nftContract string, tokenID uint64) (*model.Item, error)

	// ListItemsByCreator returns all items first registered by creator.
	ListItemsByCreator(ctx context.Context, creator string) ([]model.Item, error)

	// AdjustPositionCount adds delta to an item's open-position count.
	AdjustPositionCount(ctx context.Context, itemID uint64, delta int64) error

	// --- Positions ---

	// CreatePosition persists a new position and assigns its id.
	CreatePosition(ctx context.Context, p *model.Position) error

	// UpdatePosition rewrites an existing position.
	UpdatePosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by id.
	GetPosition(ctx context.Context, id uint64) (*model.Position, error)

	// DeletePosition removes a position. Sidecar rows are deleted by the
	// caller through the sidecar methods.
	DeletePosition(ctx context.Context, id uint64) error

	// ListPositionsByItem returns all positions of one item.
	ListPositionsByItem(ctx context.Context, itemID uint64) ([]model.Position, error)

	// ListPositionsByState returns all positions in one state.
	ListPositionsByState(ctx context.Context, state model.PositionState) ([]model.Position, error)

	// ListPositionsByOwner returns all positions held by owner.
	ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error)

	// FindAvailable returns the unique available position for
	// (itemID, owner), or ErrNotFound.
	FindAvailable(ctx context.Context, itemID uint64, owner string) (*model.Position, error)

	// --- Mode sidecars, keyed by position id ---

	PutAuction(ctx context.Context, a *model.AuctionData) error
	GetAuction(ctx context.Context, positionID uint64) (*model.AuctionData, error)
	DeleteAuction(ctx context.Context, positionID uint64) error

	PutRaffle(ctx context.Context, r *model.RaffleData) error
	GetRaffle(ctx context.Context, positionID uint64) (*model.RaffleData, error)
	DeleteRaffle(ctx context.Context, positionID uint64) error

	PutLoan(ctx context.Context, l *model.LoanData) error
	GetLoan(ctx context.Context, positionID uint64) (*model.LoanData, error)
	DeleteLoan(ctx context.Context, positionID uint64) error

	// --- Immutable sale history ---

	// AppendSale appends an immutable sale record to an item's history.
	AppendSale(ctx context.Context, s *model.ItemSale) error

	// ListSalesByItem returns an item's sale history in append order.
	ListSalesByItem(ctx context.Context, itemID uint64) ([]model.ItemSale, error)

	// --- Claimable balances (failed-payout accruals) ---

	// CreditClaimable adds amount to an account's claimable balance.
	CreditClaimable(ctx context.Context, account string, amount decimal.Decimal) error

	// TakeClaimable zeroes an account's claimable balance and returns the
	// amount that was accrued.
	TakeClaimable(ctx context.Context, account string) (decimal.Decimal, error)

	// GetClaimable returns an account's claimable balance.
	GetClaimable(ctx context.Context, account string) (decimal.Decimal, error)
}
