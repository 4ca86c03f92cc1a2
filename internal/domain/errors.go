package domain

import "errors"

var (
	ErrConfigurationError  = errors.New("configuration error")
	ErrUnsupportedNetwork  = errors.New("unsupported network")
	ErrUnsupportedAsset    = errors.New("unsupported asset")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrNetworkUnavailable  = errors.New("network unavailable")
	// ErrBroadcastRejected means the node answered a send with an error, so
	// the transaction is known not to be in its pool.
	ErrBroadcastRejected   = errors.New("broadcast rejected")
	ErrTransactionTimeout  = errors.New("transaction timeout")
	ErrTransactionFailed   = errors.New("transaction failed")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransferMismatch    = errors.New("transfer mismatch")
	ErrPriceFetchFailed    = errors.New("price fetch failed")
	ErrDuplicatePurchase   = errors.New("purchase already granted")
)

// MismatchError carries the operator-facing reason behind ErrTransferMismatch.
type MismatchError struct {
	Reason string
}

func (e *MismatchError) Error() string {
	return ErrTransferMismatch.Error() + ": " + e.Reason
}

func (e *MismatchError) Unwrap() error {
	return ErrTransferMismatch
}
