package payments

import "errors"

var (
	ErrPackageNotFound   = errors.New("payments: package not found")
	ErrInvalidSignature  = errors.New("payments: invalid webhook signature")
	ErrReferenceMismatch = errors.New("payments: provider transaction does not match tx_ref")
	ErrAmountTooLow      = errors.New("payments: paid amount below package price")
	ErrNotPurchase       = errors.New("payments: entry is not a purchase")
)
