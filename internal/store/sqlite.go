package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// SqliteStore implements Store on an embedded SQLite database, for
// single-node deployments without a PostgreSQL instance. Monetary values are
// stored as TEXT, timestamps as unix seconds.
type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore opens (or creates) the database at path and migrates the
// schema.
func NewSqliteStore(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single writer; the engine serializes mutations anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set sqlite pragmas: %w", err)
	}

	s := &SqliteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SqliteStore) Close() error { return s.db.Close() }

func (s *SqliteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS items (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			nft_contract   TEXT NOT NULL,
			token_id       INTEGER NOT NULL,
			creator        TEXT NOT NULL,
			position_count INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			UNIQUE (nft_contract, token_id)
		);
		CREATE TABLE IF NOT EXISTS positions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id    INTEGER NOT NULL,
			owner      TEXT NOT NULL,
			amount     INTEGER NOT NULL,
			price      TEXT NOT NULL,
			fee_bp     INTEGER NOT NULL,
			state      TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS positions_item_idx  ON positions (item_id);
		CREATE INDEX IF NOT EXISTS positions_owner_idx ON positions (owner);
		CREATE INDEX IF NOT EXISTS positions_state_idx ON positions (state);
		CREATE TABLE IF NOT EXISTS auctions (
			position_id    INTEGER PRIMARY KEY,
			deadline       INTEGER NOT NULL,
			min_bid        TEXT NOT NULL,
			highest_bidder TEXT NOT NULL DEFAULT '',
			highest_bid    TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS raffles (
			position_id   INTEGER PRIMARY KEY,
			deadline      INTEGER NOT NULL,
			total_tickets INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS raffle_entries (
			position_id INTEGER NOT NULL,
			idx         INTEGER NOT NULL,
			address     TEXT NOT NULL,
			tickets     INTEGER NOT NULL,
			PRIMARY KEY (position_id, idx)
		);
		CREATE TABLE IF NOT EXISTS loans (
			position_id      INTEGER PRIMARY KEY,
			loan_amount      TEXT NOT NULL,
			fee_amount       TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			lender           TEXT NOT NULL DEFAULT '',
			deadline         INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS sales (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			id        TEXT NOT NULL UNIQUE,
			item_id   INTEGER NOT NULL,
			seller    TEXT NOT NULL,
			buyer     TEXT NOT NULL,
			price     TEXT NOT NULL,
			amount    INTEGER NOT NULL,
			timestamp INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS claimables (
			account TEXT PRIMARY KEY,
			amount  TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

func sqliteNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func secOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// --- Items ---

func (s *SqliteStore) CreateItem(ctx context.Context, item *model.Item) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items (nft_contract, token_id, creator, position_count, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		item.NFTContract, int64(item.TokenID), item.Creator, int64(item.PositionCount), item.CreatedAt.Unix())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	item.ID = uint64(id)
	return nil
}

func (s *SqliteStore) scanItem(row *sql.Row) (*model.Item, error) {
	var it model.Item
	var tokenID, count, created int64
	if err := row.Scan(&it.ID, &it.NFTContract, &tokenID, &it.Creator, &count, &created); err != nil {
		return nil, sqliteNotFound(err)
	}
	it.TokenID = uint64(tokenID)
	it.PositionCount = uint64(count)
	it.CreatedAt = time.Unix(created, 0).UTC()
	return &it, nil
}

func (s *SqliteStore) GetItem(ctx context.Context, id uint64) (*model.Item, error) {
	return s.scanItem(s.db.QueryRowContext(ctx,
		`SELECT id, nft_contract, token_id, creator, position_count, created_at
		 FROM items WHERE id = ?`, int64(id)))
}

func (s *SqliteStore) GetItemByToken(ctx context.Context, contract string, tokenID uint64) (*model.Item, error) {
	return s.scanItem(s.db.QueryRowContext(ctx,
		`SELECT id, nft_contract, token_id, creator, position_count, created_at
		 FROM items WHERE nft_contract = ? AND token_id = ?`, contract, int64(tokenID)))
}

func (s *SqliteStore) ListItemsByCreator(ctx context.Context, creator string) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, nft_contract, token_id, creator, position_count, created_at
		 FROM items WHERE creator = ? ORDER BY id`, creator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		var tokenID, count, created int64
		if err := rows.Scan(&it.ID, &it.NFTContract, &tokenID, &it.Creator, &count, &created); err != nil {
			return nil, err
		}
		it.TokenID = uint64(tokenID)
		it.PositionCount = uint64(count)
		it.CreatedAt = time.Unix(created, 0).UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SqliteStore) AdjustPositionCount(ctx context.Context, itemID uint64, delta int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET position_count = position_count + ? WHERE id = ?`, delta, int64(itemID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Positions ---

func (s *SqliteStore) CreatePosition(ctx context.Context, p *model.Position) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (item_id, owner, amount, price, fee_bp, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(p.ItemID), p.Owner, int64(p.Amount), p.Price.String(), p.FeeBP, string(p.State), p.CreatedAt.Unix())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

func (s *SqliteStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET owner = ?, amount = ?, price = ?, fee_bp = ?, state = ? WHERE id = ?`,
		p.Owner, int64(p.Amount), p.Price.String(), p.FeeBP, string(p.State), int64(p.ID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSqlitePosition(scan func(...any) error) (*model.Position, error) {
	var p model.Position
	var itemID, amount, created int64
	var price, state string
	if err := scan(&p.ID, &itemID, &p.Owner, &amount, &price, &p.FeeBP, &state, &created); err != nil {
		return nil, sqliteNotFound(err)
	}
	p.ItemID = uint64(itemID)
	p.Amount = uint64(amount)
	p.Price, _ = decimal.NewFromString(price)
	p.State = model.PositionState(state)
	p.CreatedAt = time.Unix(created, 0).UTC()
	return &p, nil
}

const sqlitePositionColumns = `id, item_id, owner, amount, price, fee_bp, state, created_at`

func (s *SqliteStore) GetPosition(ctx context.Context, id uint64) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions WHERE id = ?`, int64(id))
	return scanSqlitePosition(row.Scan)
}

func (s *SqliteStore) DeletePosition(ctx context.Context, id uint64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, int64(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SqliteStore) listPositions(ctx context.Context, where string, arg any) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions WHERE `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanSqlitePosition(rows.Scan)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *SqliteStore) ListPositionsByItem(ctx context.Context, itemID uint64) ([]model.Position, error) {
	return s.listPositions(ctx, `item_id = ?`, int64(itemID))
}

func (s *SqliteStore) ListPositionsByState(ctx context.Context, state model.PositionState) ([]model.Position, error) {
	return s.listPositions(ctx, `state = ?`, string(state))
}

func (s *SqliteStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	return s.listPositions(ctx, `owner = ?`, owner)
}

func (s *SqliteStore) FindAvailable(ctx context.Context, itemID uint64, owner string) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions
		 WHERE item_id = ? AND owner = ? AND state = '`+string(model.StateAvailable)+`'`,
		int64(itemID), owner)
	return scanSqlitePosition(row.Scan)
}

// --- Sidecars ---

func (s *SqliteStore) PutAuction(ctx context.Context, a *model.AuctionData) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auctions (position_id, deadline, min_bid, highest_bidder, highest_bid)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (position_id) DO UPDATE SET
			deadline = excluded.deadline,
			highest_bidder = excluded.highest_bidder,
			highest_bid = excluded.highest_bid`,
		int64(a.PositionID), a.Deadline.Unix(), a.MinBid.String(), a.HighestBidder, a.HighestBid.String())
	return err
}

func (s *SqliteStore) GetAuction(ctx context.Context, positionID uint64) (*model.AuctionData, error) {
	var a model.AuctionData
	var deadline int64
	var minBid, highestBid string
	err := s.db.QueryRowContext(ctx,
		`SELECT position_id, deadline, min_bid, highest_bidder, highest_bid
		 FROM auctions WHERE position_id = ?`, int64(positionID)).
		Scan(&a.PositionID, &deadline, &minBid, &a.HighestBidder, &highestBid)
	if err != nil {
		return nil, sqliteNotFound(err)
	}
	a.Deadline = time.Unix(deadline, 0).UTC()
	a.MinBid, _ = decimal.NewFromString(minBid)
	a.HighestBid, _ = decimal.NewFromString(highestBid)
	return &a, nil
}

func (s *SqliteStore) DeleteAuction(ctx context.Context, positionID uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auctions WHERE position_id = ?`, int64(positionID))
	return err
}

func (s *SqliteStore) PutRaffle(ctx context.Context, r *model.RaffleData) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raffles (position_id, deadline, total_tickets) VALUES (?, ?, ?)
		 ON CONFLICT (position_id) DO UPDATE SET total_tickets = excluded.total_tickets`,
		int64(r.PositionID), r.Deadline.Unix(), int64(r.TotalTickets))
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM raffle_entries WHERE position_id = ?`, int64(r.PositionID)); err != nil {
		return err
	}
	for i, entry := range r.Entries {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO raffle_entries (position_id, idx, address, tickets) VALUES (?, ?, ?, ?)`,
			int64(r.PositionID), int64(i), entry.Address, int64(entry.Tickets)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SqliteStore) GetRaffle(ctx context.Context, positionID uint64) (*model.RaffleData, error) {
	var r model.RaffleData
	var deadline, total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT position_id, deadline, total_tickets FROM raffles WHERE position_id = ?`,
		int64(positionID)).Scan(&r.PositionID, &deadline, &total)
	if err != nil {
		return nil, sqliteNotFound(err)
	}
	r.Deadline = time.Unix(deadline, 0).UTC()
	r.TotalTickets = uint64(total)

	rows, err := s.db.QueryContext(ctx,
		`SELECT address, tickets FROM raffle_entries WHERE position_id = ? ORDER BY idx`,
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

func (s *SqliteStore) DeleteRaffle(ctx context.Context, positionID uint64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM raffle_entries WHERE position_id = ?`, int64(positionID)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM raffles WHERE position_id = ?`, int64(positionID))
	return err
}

func (s *SqliteStore) PutLoan(ctx context.Context, l *model.LoanData) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (position_id, loan_amount, fee_amount, duration_minutes, lender, deadline)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (position_id) DO UPDATE SET
			lender = excluded.lender,
			deadline = excluded.deadline`,
		int64(l.PositionID), l.LoanAmount.String(), l.FeeAmount.String(),
		int64(l.DurationMinutes), l.Lender, secOrZero(l.Deadline))
	return err
}

func (s *SqliteStore) GetLoan(ctx context.Context, positionID uint64) (*model.LoanData, error) {
	var l model.LoanData
	var loanAmount, feeAmount string
	var duration, deadline int64
	err := s.db.QueryRowContext(ctx,
		`SELECT position_id, loan_amount, fee_amount, duration_minutes, lender, deadline
		 FROM loans WHERE position_id = ?`, int64(positionID)).
		Scan(&l.PositionID, &loanAmount, &feeAmount, &duration, &l.Lender, &deadline)
	if err != nil {
		return nil, sqliteNotFound(err)
	}
	l.LoanAmount, _ = decimal.NewFromString(loanAmount)
	l.FeeAmount, _ = decimal.NewFromString(feeAmount)
	l.DurationMinutes = uint64(duration)
	l.Deadline = unixOrZero(deadline)
	return &l, nil
}

func (s *SqliteStore) DeleteLoan(ctx context.Context, positionID uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM loans WHERE position_id = ?`, int64(positionID))
	return err
}

// --- Sale history ---

func (s *SqliteStore) AppendSale(ctx context.Context, sale *model.ItemSale) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sales (id, item_id, seller, buyer, price, amount, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, int64(sale.ItemID), sale.Seller, sale.Buyer,
		sale.Price.String(), int64(sale.Amount), sale.Timestamp.Unix())
	return err
}

func (s *SqliteStore) ListSalesByItem(ctx context.Context, itemID uint64) ([]model.ItemSale, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, seller, buyer, price, amount, timestamp
		 FROM sales WHERE item_id = ? ORDER BY seq`, int64(itemID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []model.ItemSale
	for rows.Next() {
		var sale model.ItemSale
		var itemID, amount, ts int64
		var price string
		if err := rows.Scan(&sale.ID, &itemID, &sale.Seller, &sale.Buyer, &price, &amount, &ts); err != nil {
			return nil, err
		}
		sale.ItemID = uint64(itemID)
		sale.Amount = uint64(amount)
		sale.Price, _ = decimal.NewFromString(price)
		sale.Timestamp = time.Unix(ts, 0).UTC()
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

// --- Claimables ---

func (s *SqliteStore) CreditClaimable(ctx context.Context, account string, amount decimal.Decimal) error {
	current, err := s.GetClaimable(ctx, account)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO claimables (account, amount) VALUES (?, ?)
		 ON CONFLICT (account) DO UPDATE SET amount = excluded.amount`,
		account, current.Add(amount).String())
	return err
}

func (s *SqliteStore) TakeClaimable(ctx context.Context, account string) (decimal.Decimal, error) {
	amount, err := s.GetClaimable(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM claimables WHERE account = ?`, account); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func (s *SqliteStore) GetClaimable(ctx context.Context, account string) (decimal.Decimal, error) {
	var amountStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM claimables WHERE account = ?`, account).Scan(&amountStr)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	amount, _ := decimal.NewFromString(amountStr)
	return amount, nil
}
