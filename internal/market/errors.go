package market

import "errors"

// Sentinel errors returned by engine operations. Callers match with
// errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrNotFound — referenced item or position id is absent.
	ErrNotFound = errors.New("not found")

	// ErrWrongState — position is not in the state the operation requires.
	ErrWrongState = errors.New("position in wrong state")

	// ErrAlreadyExists — duplicate item registration.
	ErrAlreadyExists = errors.New("item already exists")

	// ErrUnauthorized — caller is not the required role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoBalance — caller holds no units of the token.
	ErrNoBalance = errors.New("no balance")

	// ErrInsufficientBalance — ledger balance or position amount too low.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBadValue — payable value does not satisfy the operation's rule.
	ErrBadValue = errors.New("bad value")

	// ErrDeadlineNotReached — the trade's deadline has not passed yet.
	ErrDeadlineNotReached = errors.New("deadline not reached")

	// ErrDeadlineExceeded — the trade's deadline has passed.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrBadParameter — out-of-range duration, fee, price, or amount.
	ErrBadParameter = errors.New("bad parameter")

	// ErrAlreadyFunded — the loan already has a lender.
	ErrAlreadyFunded = errors.New("loan already funded")
)
