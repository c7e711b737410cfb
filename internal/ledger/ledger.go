// Package ledger defines the capability surface the engine consumes on the
// external SFT ledger and payment rail. Production wires chain-backed
// implementations; the in-memory implementations here back tests and
// single-node development, the same way the store package keeps a memory
// implementation next to its production ones.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the engine's view of the external semi-fungible token ledger.
// The ledger is authoritative for unit balances; the engine re-reads balances
// after every custody movement rather than caching them.
type Gateway interface {
	// BalanceOf returns the units of (nftContract, tokenID) held by owner.
	BalanceOf(ctx context.Context, owner, nftContract string, tokenID uint64) (uint64, error)

	// TransferFrom moves units between accounts. It fails if from lacks
	// balance or has not granted the engine operator rights.
	TransferFrom(ctx context.Context, from, to, nftContract string, tokenID uint64, units uint64) error

	// IsApprovedForAll reports whether owner granted operator rights to
	// operator. The engine requires approval before custody ingestion.
	IsApprovedForAll(ctx context.Context, owner, operator string) (bool, error)

	// SupportsRoyalty reports whether the contract exposes royalty info.
	SupportsRoyalty(ctx context.Context, nftContract string) (bool, error)

	// RoyaltyInfo returns the royalty receiver and amount for a gross sale
	// value, with EIP-2981 semantics: deterministic and amount <= gross.
	RoyaltyInfo(ctx context.Context, nftContract string, tokenID uint64, gross decimal.Decimal) (receiver string, amount decimal.Decimal, err error)
}

// Payer moves native currency to a recipient. Transfers may fail (hostile or
// unfunded recipients); the engine treats failures as claimable balances and
// never lets them abort a settlement.
type Payer interface {
	Transfer(ctx context.Context, to string, amount decimal.Decimal) error
}
