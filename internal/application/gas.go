package application

import (
	"context"
	"fmt"
	"math/big"

	"chainsettle/internal/domain"
)

var (
	weiPerGwei = big.NewInt(1_000_000_000)
	hundred    = big.NewInt(100)
)

type GasBidConfig struct {
	MinGwei             uint64
	MaxGwei             uint64
	BaseIncreasePercent uint64
}

func DefaultGasBidConfig() GasBidConfig {
	return GasBidConfig{MinGwei: 5, MaxGwei: 50, BaseIncreasePercent: 10}
}

// ComputeBid raises current by BaseIncreasePercent for every attempt and
// clamps the result into [MinGwei, MaxGwei]. The result is in wei.
func ComputeBid(current *big.Int, attempt uint64, cfg GasBidConfig) *big.Int {
	bid := new(big.Int)
	if current != nil && current.Sign() > 0 {
		bid.Set(current)
	}

	factor := new(big.Int).SetUint64(cfg.BaseIncreasePercent)
	factor.Mul(factor, new(big.Int).SetUint64(attempt))
	factor.Add(factor, hundred)
	bid.Mul(bid, factor)
	bid.Quo(bid, hundred)

	minWei := new(big.Int).Mul(new(big.Int).SetUint64(cfg.MinGwei), weiPerGwei)
	maxWei := new(big.Int).Mul(new(big.Int).SetUint64(cfg.MaxGwei), weiPerGwei)
	if bid.Cmp(minWei) < 0 {
		bid.Set(minWei)
	}
	if bid.Cmp(maxWei) > 0 {
		bid.Set(maxWei)
	}
	return bid
}

type GasPriceReader interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// GasOracle keeps no state between calls; callers pass the attempt ordinal.
type GasOracle struct {
	cfg GasBidConfig
}

func NewGasOracle(cfg GasBidConfig) (GasOracle, error) {
	if cfg.MaxGwei == 0 {
		return GasOracle{}, fmt.Errorf("%w: max gas price must be positive", domain.ErrConfigurationError)
	}
	if cfg.MinGwei > cfg.MaxGwei {
		return GasOracle{}, fmt.Errorf("%w: min gas price %d exceeds max %d", domain.ErrConfigurationError, cfg.MinGwei, cfg.MaxGwei)
	}
	return GasOracle{cfg: cfg}, nil
}

func (o GasOracle) Bid(ctx context.Context, reader GasPriceReader, attempt uint64) (*big.Int, error) {
	current, err := reader.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read gas price: %v", domain.ErrNetworkUnavailable, err)
	}
	if current == nil || current.Sign() <= 0 {
		return nil, fmt.Errorf("%w: node reported no gas price", domain.ErrNetworkUnavailable)
	}
	return ComputeBid(current, attempt, o.cfg), nil
}
