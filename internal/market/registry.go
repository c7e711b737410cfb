package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// CreateItem registers a (nftContract, tokenId) pair and assigns the next
// item id. The caller becomes the item's creator and must hold at least one
// unit of the token. At most one item exists per pair.
func (e *Engine) CreateItem(ctx context.Context, caller, nftContract string, tokenID uint64) (uint64, error) {
	if nftContract == "" {
		return 0, fmt.Errorf("empty contract address: %w", ErrBadParameter)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.store.GetItemByToken(ctx, nftContract, tokenID); err == nil {
		return 0, fmt.Errorf("item for (%s, %d): %w", nftContract, tokenID, ErrAlreadyExists)
	} else if !errorsIsNotFound(err) {
		return 0, err
	}

	balance, err := e.ledger.BalanceOf(ctx, caller, nftContract, tokenID)
	if err != nil {
		return 0, err
	}
	if balance == 0 {
		return 0, fmt.Errorf("account %s holds no units of (%s, %d): %w", caller, nftContract, tokenID, ErrNoBalance)
	}

	item := &model.Item{
		NFTContract: nftContract,
		TokenID:     tokenID,
		Creator:     caller,
		CreatedAt:   e.now(),
	}
	if err := e.store.CreateItem(ctx, item); err != nil {
		return 0, err
	}

	slog.Info("item created", "item_id", item.ID, "contract", nftContract, "token_id", tokenID, "creator", caller)
	if e.events != nil {
		e.events.Publish(model.ItemCreated{
			ItemID:      item.ID,
			NFTContract: nftContract,
			TokenID:     tokenID,
			Creator:     caller,
		})
	}
	return item.ID, nil
}

// ItemView is an item together with its open positions and sale history.
type ItemView struct {
	Item      model.Item       `json:"item"`
	Positions []model.Position `json:"positions"`
	Sales     []model.ItemSale `json:"sales"`
}

// FetchItem returns an item with its current positions and sale history.
func (e *Engine) FetchItem(ctx context.Context, itemID uint64) (*ItemView, error) {
	item, err := e.store.GetItem(ctx, itemID)
	if errorsIsNotFound(err) {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	positions, err := e.store.ListPositionsByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	sales, err := e.store.ListSalesByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	return &ItemView{Item: *item, Positions: positions, Sales: sales}, nil
}
