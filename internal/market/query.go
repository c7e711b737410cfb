package market

import (
	"context"
	"fmt"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// PositionView is a position together with its mode sidecar, if any.
type PositionView struct {
	Position model.Position     `json:"position"`
	Auction  *model.AuctionData `json:"auction,omitempty"`
	Raffle   *model.RaffleData  `json:"raffle,omitempty"`
	Loan     *model.LoanData    `json:"loan,omitempty"`
}

// FetchPosition returns a position with its sidecar data.
func (e *Engine) FetchPosition(ctx context.Context, positionID uint64) (*PositionView, error) {
	pos, err := e.store.GetPosition(ctx, positionID)
	if errorsIsNotFound(err) {
		return nil, fmt.Errorf("position %d: %w", positionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	view := &PositionView{Position: *pos}
	switch pos.State {
	case model.StateAuction:
		if view.Auction, err = e.store.GetAuction(ctx, positionID); err != nil {
			return nil, err
		}
	case model.StateRaffle:
		if view.Raffle, err = e.store.GetRaffle(ctx, positionID); err != nil {
			return nil, err
		}
	case model.StateLoan:
		if view.Loan, err = e.store.GetLoan(ctx, positionID); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// FetchByState returns all positions in one state, ascending by id.
func (e *Engine) FetchByState(ctx context.Context, state model.PositionState) ([]model.Position, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("unknown state %q: %w", state, ErrBadParameter)
	}
	return e.store.ListPositionsByState(ctx, state)
}

// FetchByOwner returns all positions held by owner, ascending by id.
func (e *Engine) FetchByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	return e.store.ListPositionsByOwner(ctx, owner)
}

// FetchItemsByCreator returns all items first registered by creator,
// ascending by id.
func (e *Engine) FetchItemsByCreator(ctx context.Context, creator string) ([]model.Item, error) {
	return e.store.ListItemsByCreator(ctx, creator)
}
