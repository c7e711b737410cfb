package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS items (
			id             BIGSERIAL PRIMARY KEY,
			nft_contract   TEXT NOT NULL,
			token_id       BIGINT NOT NULL,
			creator        TEXT NOT NULL,
			position_count BIGINT NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL,
			UNIQUE (nft_contract, token_id)
		);
		CREATE TABLE IF NOT EXISTS positions (
			id         BIGSERIAL PRIMARY KEY,
			item_id    BIGINT NOT NULL REFERENCES items(id),
			owner      TEXT NOT NULL,
			amount     BIGINT NOT NULL,
			price      NUMERIC NOT NULL,
			fee_bp     BIGINT NOT NULL,
			state      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS positions_item_idx  ON positions (item_id);
		CREATE INDEX IF NOT EXISTS positions_owner_idx ON positions (owner);
		CREATE INDEX IF NOT EXISTS positions_state_idx ON positions (state);
		CREATE TABLE IF NOT EXISTS auctions (
			position_id    BIGINT PRIMARY KEY,
			deadline       TIMESTAMPTZ NOT NULL,
			min_bid        NUMERIC NOT NULL,
			highest_bidder TEXT NOT NULL DEFAULT '',
			highest_bid    NUMERIC NOT NULL
		);
		CREATE TABLE IF NOT EXISTS raffles (
			position_id   BIGINT PRIMARY KEY,
			deadline      TIMESTAMPTZ NOT NULL,
			total_tickets BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS raffle_entries (
			position_id BIGINT NOT NULL,
			idx         BIGINT NOT NULL,
			address     TEXT NOT NULL,
			tickets     BIGINT NOT NULL,
			PRIMARY KEY (position_id, idx)
		);
		CREATE TABLE IF NOT EXISTS loans (
			position_id      BIGINT PRIMARY KEY,
			loan_amount      NUMERIC NOT NULL,
			fee_amount       NUMERIC NOT NULL,
			duration_minutes BIGINT NOT NULL,
			lender           TEXT NOT NULL DEFAULT '',
			deadline         TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS sales (
			id        TEXT PRIMARY KEY,
			item_id   BIGINT NOT NULL REFERENCES items(id),
			seller    TEXT NOT NULL,
			buyer     TEXT NOT NULL,
			price     NUMERIC NOT NULL,
			amount    BIGINT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			seq       BIGSERIAL
		);
		CREATE TABLE IF NOT EXISTS claimables (
			account TEXT PRIMARY KEY,
			amount  NUMERIC NOT NULL
		);
	`)
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- Items ---

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.Item) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO items (nft_contract, token_id, creator, position_count, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		item.NFTContract, int64(item.TokenID), item.Creator, int64(item.PositionCount), item.CreatedAt,
	).Scan(&item.ID)
	return err
}

const itemColumns = `id, nft_contract, token_id, creator, position_count, created_at`

func scanItem(row pgx.Row) (*model.Item, error) {
	var it model.Item
	var tokenID, count int64
	if err := row.Scan(&it.ID, &it.NFTContract, &tokenID, &it.Creator, &count, &it.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	it.TokenID = uint64(tokenID)
	it.PositionCount = uint64(count)
	return &it, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id uint64) (*model.Item, error) {
	return scanItem(s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, int64(id)))
}

func (s *PostgresStore) GetItemByToken(ctx context.Context, contract string, tokenID uint64) (*model.Item, error) {
	return scanItem(s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE nft_contract = $1 AND token_id = $2`,
		contract, int64(tokenID)))
}

func (s *PostgresStore) ListItemsByCreator(ctx context.Context, creator string) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE creator = $1 ORDER BY id`, creator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) AdjustPositionCount(ctx context.Context, itemID uint64, delta int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET position_count = position_count + $2 WHERE id = $1`,
		int64(itemID), delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Positions ---

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO positions (item_id, owner, amount, price, fee_bp, state, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7) RETURNING id`,
		int64(p.ItemID), p.Owner, int64(p.Amount), p.Price.String(), p.FeeBP, p.State, p.CreatedAt,
	).Scan(&p.ID)
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET owner = $2, amount = $3, price = $4::NUMERIC, fee_bp = $5, state = $6
		 WHERE id = $1`,
		int64(p.ID), p.Owner, int64(p.Amount), p.Price.String(), p.FeeBP, p.State)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const positionColumns = `id, item_id, owner, amount, price::TEXT, fee_bp, state, created_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var itemID, amount int64
	var price, state string
	if err := row.Scan(&p.ID, &itemID, &p.Owner, &amount, &price, &p.FeeBP, &state, &p.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	p.ItemID = uint64(itemID)
	p.Amount = uint64(amount)
	p.Price, _ = decimal.NewFromString(price)
	p.State = model.PositionState(state)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id uint64) (*model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, int64(id)))
}

func (s *PostgresStore) DeletePosition(ctx context.Context, id uint64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) listPositions(ctx context.Context, where string, arg any) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListPositionsByItem(ctx context.Context, itemID uint64) ([]model.Position, error) {
	return s.listPositions(ctx, `item_id = $1`, int64(itemID))
}

func (s *PostgresStore) ListPositionsByState(ctx context.Context, state model.PositionState) ([]model.Position, error) {
	return s.listPositions(ctx, `state = $1`, string(state))
}

func (s *PostgresStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	return s.listPositions(ctx, `owner = $1`, owner)
}

func (s *PostgresStore) FindAvailable(ctx context.Context, itemID uint64, owner string) (*model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE item_id = $1 AND owner = $2 AND state = $3`,
		int64(itemID), owner, string(model.StateAvailable)))
}

// --- Sidecars ---

func (s *PostgresStore) PutAuction(ctx context.Context, a *model.AuctionData) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions (position_id, deadline, min_bid, highest_bidder, highest_bid)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5::NUMERIC)
		 ON CONFLICT (position_id) DO UPDATE SET
			deadline = EXCLUDED.deadline,
			highest_bidder = EXCLUDED.highest_bidder,
			highest_bid = EXCLUDED.highest_bid`,
		int64(a.PositionID), a.Deadline, a.MinBid.String(), a.HighestBidder, a.HighestBid.String())
	return err
}

func (s *PostgresStore) GetAuction(ctx context.Context, positionID uint64) (*model.AuctionData, error) {
	var a model.AuctionData
	var minBid, highestBid string
	err := s.pool.QueryRow(ctx,
		`SELECT position_id, deadline, min_bid::TEXT, highest_bidder, highest_bid::TEXT
		 FROM auctions WHERE position_id = $1`, int64(positionID)).
		Scan(&a.PositionID, &a.Deadline, &minBid, &a.HighestBidder, &highestBid)
	if err != nil {
		return nil, notFound(err)
	}
	a.MinBid, _ = decimal.NewFromString(minBid)
	a.HighestBid, _ = decimal.NewFromString(highestBid)
	return &a, nil
}

func (s *PostgresStore) DeleteAuction(ctx context.Context, positionID uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM auctions WHERE position_id = $1`, int64(positionID))
	return err
}

func (s *PostgresStore) PutRaffle(ctx context.Context, r *model.RaffleData) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raffles (position_id, deadline, total_tickets)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (position_id) DO UPDATE SET total_tickets = EXCLUDED.total_tickets`,
		int64(r.PositionID), r.Deadline, int64(r.TotalTickets))
	if err != nil {
		return err
	}
	// Entries are append-only with per-address accumulation; rewriting the
	// small entry list keeps the store call sequence simple.
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM raffle_entries WHERE position_id = $1`, int64(r.PositionID)); err != nil {
		return err
	}
	for i, entry := range r.Entries {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO raffle_entries (position_id, idx, address, tickets) VALUES ($1, $2, $3, $4)`,
			int64(r.PositionID), int64(i), entry.Address, int64(entry.Tickets)); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetRaffle(ctx context.Context, positionID uint64) (*model.RaffleData, error) {
	var r model.RaffleData
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT position_id, deadline, total_tickets FROM raffles WHERE position_id = $1`,
		int64(positionID)).Scan(&r.PositionID, &r.Deadline, &total)
	if err != nil {
		return nil, notFound(err)
	}
	r.TotalTickets = uint64(total)

	rows, err := s.pool.Query(ctx,
		`SELECT address, tickets FROM raffle_entries WHERE position_id = $1 ORDER BY idx`,
		int64(positionID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry model.RaffleEntry
		var tickets int64
		if err := rows.Scan(&entry.Address, &tickets); err != nil {
			return nil, err
		}
		entry.Tickets = uint64(tickets)
		r.Entries = append(r.Entries, entry)
	}
	return &r, rows.Err()
}

func (s *PostgresStore) DeleteRaffle(ctx context.Context, positionID uint64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM raffle_entries WHERE position_id = $1`, int64(positionID)); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM raffles WHERE position_id = $1`, int64(positionID))
	return err
}

func (s *PostgresStore) PutLoan(ctx context.Context, l *model.LoanData) error {
	var deadline *time.Time
	if !l.Deadline.IsZero() {
		deadline = &l.Deadline
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO loans (position_id, loan_amount, fee_amount, duration_minutes, lender, deadline)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6)
		 ON CONFLICT (position_id) DO UPDATE SET
			lender = EXCLUDED.lender,
			deadline = EXCLUDED.deadline`,
		int64(l.PositionID), l.LoanAmount.String(), l.FeeAmount.String(),
		int64(l.DurationMinutes), l.Lender, deadline)
	return err
}

func (s *PostgresStore) GetLoan(ctx context.Context, positionID uint64) (*model.LoanData, error) {
	var l model.LoanData
	var loanAmount, feeAmount string
	var duration int64
	var deadline *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT position_id, loan_amount::TEXT, fee_amount::TEXT, duration_minutes, lender, deadline
		 FROM loans WHERE position_id = $1`, int64(positionID)).
		Scan(&l.PositionID, &loanAmount, &feeAmount, &duration, &l.Lender, &deadline)
	if err != nil {
		return nil, notFound(err)
	}
	l.LoanAmount, _ = decimal.NewFromString(loanAmount)
	l.FeeAmount, _ = decimal.NewFromString(feeAmount)
	l.DurationMinutes = uint64(duration)
	if deadline != nil {
		l.Deadline = *deadline
	}
	return &l, nil
}

func (s *PostgresStore) DeleteLoan(ctx context.Context, positionID uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM loans WHERE position_id = $1`, int64(positionID))
	return err
}

// --- Sale history ---

func (s *PostgresStore) AppendSale(ctx context.Context, sale *model.ItemSale) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sales (id, item_id, seller, buyer, price, amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		sale.ID, int64(sale.ItemID), sale.Seller, sale.Buyer,
		sale.Price.String(), int64(sale.Amount), sale.Timestamp)
	return err
}

func (s *PostgresStore) ListSalesByItem(ctx context.Context, itemID uint64) ([]model.ItemSale, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, item_id, seller, buyer, price::TEXT, amount, timestamp
		 FROM sales WHERE item_id = $1 ORDER BY seq`, int64(itemID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []model.ItemSale
	for rows.Next() {
		var sale model.ItemSale
		var itemID, amount int64
		var price string
		if err := rows.Scan(&sale.ID, &itemID, &sale.Seller, &sale.Buyer, &price, &amount, &sale.Timestamp); err != nil {
			return nil, err
		}
		sale.ItemID = uint64(itemID)
		sale.Amount = uint64(amount)
		sale.Price, _ = decimal.NewFromString(price)
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

// --- Claimables ---

func (s *PostgresStore) CreditClaimable(ctx context.Context, account string, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claimables (account, amount) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (account) DO UPDATE SET amount = claimables.amount + EXCLUDED.amount`,
		account, amount.String())
	return err
}

func (s *PostgresStore) TakeClaimable(ctx context.Context, account string) (decimal.Decimal, error) {
	var amountStr string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM claimables WHERE account = $1 RETURNING amount::TEXT`, account).
		Scan(&amountStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("claimable amount for %s: %w", account, err)
	}
	return amount, nil
}

func (s *PostgresStore) GetClaimable(ctx context.Context, account string) (decimal.Decimal, error) {
	var amountStr string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM claimables WHERE account = $1`, account).Scan(&amountStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	amount, _ := decimal.NewFromString(amountStr)
	return amount, nil
}
