package application

import (
	"context"
	"math/big"
	"time"

	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the per-network RPC surface the settlement engine needs.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash string) (domain.Transaction, error)
	TransactionReceipt(ctx context.Context, hash string) (domain.Receipt, error)
	Close()
}

// Dialer opens a ChainClient for an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (ChainClient, error)

// SecretSource resolves signer key references.
type SecretSource interface {
	Lookup(key string) (string, bool)
}

type PriceSource interface {
	USDPrice(ctx context.Context, id string) (*big.Rat, error)
}

type RewardStore interface {
	StoreRewardRecords(ctx context.Context, records []domain.RewardRecord) error
}

type EventPublisher interface {
	PublishRewardResult(ctx context.Context, recipient string, result domain.RewardResult) error
	PublishPurchaseGrant(ctx context.Context, grant domain.PurchaseGrant) error
}

// ClaimGuard makes a key claimable once.
type ClaimGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Observer interface {
	OnGasBid(network domain.NetworkID, bidWei *big.Int)
	OnRewardLeg(network domain.NetworkID, symbol string, status domain.OutcomeStatus, elapsed time.Duration)
	OnPurchaseVerification(network domain.NetworkID, asset domain.AssetType, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnGasBid(domain.NetworkID, *big.Int) {}

func (nopObserver) OnRewardLeg(domain.NetworkID, string, domain.OutcomeStatus, time.Duration) {}

func (nopObserver) OnPurchaseVerification(domain.NetworkID, domain.AssetType, string, time.Duration) {}
