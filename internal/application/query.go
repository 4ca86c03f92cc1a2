package application

import (
	"context"
	"errors"

	"chainsettle/internal/domain"
)

// ErrRecordFailed means a purchase passed verification but the grant could
// not be stored, so it was not granted.
var ErrRecordFailed = errors.New("record purchase grant failed")

type RewardQueryFilter struct {
	Address string
	Network domain.NetworkID
	Symbol  string
	Limit   int
}

type RewardQuery interface {
	QueryRewards(ctx context.Context, filter RewardQueryFilter) ([]domain.RewardRecord, error)
}

// PurchaseStore records granted purchases. RecordPurchase returns
// domain.ErrDuplicatePurchase when the transaction hash was granted before.
type PurchaseStore interface {
	RecordPurchase(ctx context.Context, grant domain.PurchaseGrant) error
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// NormalizeLimit defaults a non-positive limit to 100 and caps it at 1000.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultQueryLimit
	case limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return limit
	}
}
