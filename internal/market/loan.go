package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// CreateLoan pledges tokenUnits as collateral for a loan of loanAmount plus
// feeAmount interest, open for funding. The collateral moves into custody;
// the deadline starts only when a lender funds.
func (e *Engine) CreateLoan(ctx context.Context, caller string, itemID uint64, tokenUnits uint64, loanAmount, feeAmount decimal.Decimal, durationMinutes uint64) (uint64, error) {
	if !loanAmount.IsPositive() {
		return 0, fmt.Errorf("loan amount must be positive: %w", ErrBadParameter)
	}
	if feeAmount.IsNegative() {
		return 0, fmt.Errorf("loan fee must not be negative: %w", ErrBadParameter)
	}
	if tokenUnits == 0 {
		return 0, fmt.Errorf("collateral units must be positive: %w", ErrBadParameter)
	}
	if durationMinutes < minLoanMinutes || durationMinutes > maxLoanMinutes {
		return 0, fmt.Errorf("loan duration %dmin outside [%d, %d]: %w",
			durationMinutes, minLoanMinutes, maxLoanMinutes, ErrBadParameter)
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

	pos, err := e.createTradePosition(ctx, item, caller, tokenUnits, loanAmount, model.StateLoan, pl)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}

	loan := &model.LoanData{
		PositionID:      pos.ID,
		LoanAmount:      loanAmount,
		FeeAmount:       feeAmount,
		DurationMinutes: durationMinutes,
	}
	if err := e.store.PutLoan(ctx, loan); err != nil {
		if rerr := e.removePosition(ctx, pos, pl); rerr != nil {
			slog.Error("loan position rollback failed", "position_id", pos.ID, "err", rerr)
		}
		e.mu.Unlock()
		return 0, err
	}

	// Custody moves last: a failed ingestion rolls the position back, so
	// custody never holds units no position accounts for.
	if err := e.ingest(ctx, caller, item, tokenUnits); err != nil {
		if rerr := e.removePosition(ctx, pos, pl); rerr != nil {
			slog.Error("loan position rollback failed", "position_id", pos.ID, "err", rerr)
		}
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()

	e.execute(ctx, pl)
	slog.Info("loan created",
		"position_id", pos.ID, "item_id", itemID, "borrower", caller,
		"collateral_units", tokenUnits, "loan_amount", loanAmount.String(),
		"fee_amount", feeAmount.String(), "duration_min", durationMinutes)
	return pos.ID, nil
}

// FundLoan funds an open loan with value, which must equal the loan amount
// exactly. The caller becomes the lender, the repayment deadline starts, and
// the principal is paid out to the borrower.
func (e *Engine) FundLoan(ctx context.Context, caller string, positionID uint64, value decimal.Decimal) error {
	pl := &plan{}
	e.mu.Lock()

	pos, err := e.positionInState(ctx, positionID, model.StateLoan)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	loan, err := e.store.GetLoan(ctx, positionID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if loan.Funded() {
		e.mu.Unlock()
		return fmt.Errorf("loan %d funded by %s: %w", positionID, loan.Lender, ErrAlreadyFunded)
	}
	if !value.Equal(loan.LoanAmount) {
		e.mu.Unlock()
		return fmt.Errorf("funding %s != loan amount %s: %w", value, loan.LoanAmount, ErrBadValue)
	}

	loan.Lender = caller
	loan.Deadline = e.now().Add(time.Duration(loan.DurationMinutes) * time.Minute)
	if err := e.store.PutLoan(ctx, loan); err != nil {
		e.mu.Unlock()
		return err
	}
	pl.pay("funding", pos.Owner, value)
	e.mu.Unlock()

	e.execute(ctx, pl)
	slog.Info("loan funded",
		"position_id", positionID, "lender", caller, "borrower", pos.Owner,
		"amount", value.String(), "deadline", loan.Deadline)
	return nil
}

// RepayLoan repays a funded loan with value, which must cover principal plus
// fee. The whole value goes to the lender (claimable on transfer failure) and
// the collateral returns to the borrower.
func (e *Engine) RepayLoan(ctx context.Context, positionID uint64, value decimal.Decimal) error {
	pl := &plan{}
	e.mu.Lock()

	pos, err := e.positionInState(ctx, positionID, model.StateLoan)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	loan, err := e.store.GetLoan(ctx, positionID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !loan.Funded() {
		e.mu.Unlock()
		return fmt.Errorf("loan %d not funded: %w", positionID, ErrWrongState)
	}
	owed := loan.LoanAmount.Add(loan.FeeAmount)
	if value.LessThan(owed) {
		e.mu.Unlock()
		return fmt.Errorf("repayment %s below owed %s: %w", value, owed, ErrBadValue)
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
	pl.pay("repayment", loan.Lender, value)
	pl.sendUnits(pos.Owner, item, pos.Amount)
	pl.merge(item.ID, pos.Owner)
	e.mu.Unlock()

	e.execute(ctx, pl)
	slog.Info("loan repaid",
		"position_id", positionID, "borrower", pos.Owner, "lender", loan.Lender, "value", value.String())
	return nil
}

// Liquidate claims the collateral after the repayment deadline. Lender only.
func (e *Engine) Liquidate(ctx context.Context, caller string, positionID uint64) error {
	pl := &plan{}
	e.mu.Lock()

	pos, err := e.positionInState(ctx, positionID, model.StateLoan)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	loan, err := e.store.GetLoan(ctx, positionID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !loan.Funded() || caller != loan.Lender {
		e.mu.Unlock()
		return fmt.Errorf("liquidation requires the lender: %w", ErrUnauthorized)
	}
	if !e.now().After(loan.Deadline) {
		e.mu.Unlock()
		return fmt.Errorf("loan repayable until %s: %w", loan.Deadline, ErrDeadlineNotReached)
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
	pl.sendUnits(loan.Lender, item, pos.Amount)
	pl.merge(item.ID, loan.Lender)
	e.mu.Unlock()

	e.execute(ctx, pl)
	slog.Info("loan liquidated",
		"position_id", positionID, "lender", loan.Lender, "borrower", pos.Owner, "collateral_units", pos.Amount)
	return nil
}

// UnlistLoan cancels an unfunded loan, returning the collateral. Borrower
// only; fails once a lender has funded.
func (e *Engine) UnlistLoan(ctx context.Context, caller string, positionID uint64) error {
	pl := &plan{}
	e.mu.Lock()

	pos, err := e.positionInState(ctx, positionID, model.StateLoan)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if pos.Owner != caller {
		e.mu.Unlock()
		return fmt.Errorf("position %d belongs to %s: %w", positionID, pos.Owner, ErrUnauthorized)
	}
	loan, err := e.store.GetLoan(ctx, positionID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if loan.Funded() {
		e.mu.Unlock()
		return fmt.Errorf("loan %d funded by %s: %w", positionID, loan.Lender, ErrAlreadyFunded)
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
	slog.Info("loan unlisted", "position_id", positionID, "borrower", caller)
	return nil
}
