package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"chainsettle/internal/contracts"
	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const (
	distributorGasLimit uint64 = 300_000
	nativeGasLimit      uint64 = 21_000
	tokenGasLimit       uint64 = 100_000
)

// RewardOrder is a validated reward request.
type RewardOrder struct {
	Recipient common.Address
	// Amount is the requested decimal amount; Units is the same value in the
	// reward token's smallest unit.
	Amount string
	Units  *big.Int
}

// RewardStrategy moves the reward assets of one network.
type RewardStrategy interface {
	// ValidatePrerequisites reads every balance the strategy will spend from
	// before anything is sent.
	ValidatePrerequisites(ctx context.Context, client *NetworkClient, order RewardOrder) error
	// Distribute reports one outcome per asset; a failed asset never
	// prevents the others from being attempted.
	Distribute(ctx context.Context, client *NetworkClient, order RewardOrder) []domain.RewardOutcome
}

// DefaultStrategies is the strategy table keyed by network.
func DefaultStrategies(sender *TxSender) map[domain.NetworkID]RewardStrategy {
	return map[domain.NetworkID]RewardStrategy{
		domain.NetworkFuse:     NewDualAssetStrategy(sender),
		domain.NetworkEthereum: NewTokenStrategy(sender),
	}
}

// DualAssetStrategy pays the reward token through a distributor contract
// and a fixed native quantum from a second signer.
type DualAssetStrategy struct {
	sender *TxSender
}

func NewDualAssetStrategy(sender *TxSender) *DualAssetStrategy {
	return &DualAssetStrategy{sender: sender}
}

func (s *DualAssetStrategy) ValidatePrerequisites(ctx context.Context, client *NetworkClient, order RewardOrder) error {
	token, distributor, err := distributorOf(client.Profile)
	if err != nil {
		return err
	}
	nativeUnits, err := nativeRewardUnits(client.Profile)
	if err != nil {
		return err
	}
	if _, err := client.Signer(domain.SignerToken); err != nil {
		return err
	}
	nativeSigner, err := client.Signer(domain.SignerNative)
	if err != nil {
		return err
	}

	treasury, err := tokenBalance(ctx, client.Chain, common.HexToAddress(token.Address), distributor)
	if err != nil {
		return err
	}
	nativeBalance, err := client.Chain.BalanceAt(ctx, nativeSigner.Address)
	if err != nil {
		return fmt.Errorf("%w: read %s balance: %v", domain.ErrNetworkUnavailable, client.Profile.NativeSymbol, err)
	}

	if treasury.Cmp(order.Units) < 0 {
		return fmt.Errorf("%w: distributor holds %s %s units, need %s", domain.ErrInsufficientFunds, treasury, token.Symbol, order.Units)
	}
	if nativeBalance.Cmp(nativeUnits) < 0 {
		return fmt.Errorf("%w: %s signer holds %s wei, need %s", domain.ErrInsufficientFunds, client.Profile.NativeSymbol, nativeBalance, nativeUnits)
	}
	return nil
}

func (s *DualAssetStrategy) Distribute(ctx context.Context, client *NetworkClient, order RewardOrder) []domain.RewardOutcome {
	token := client.Profile.RewardToken
	outcomes := make([]domain.RewardOutcome, 2)

	var g errgroup.Group
	g.Go(func() error {
		outcomes[0] = s.tokenLeg(ctx, client, order)
		return nil
	})
	g.Go(func() error {
		outcomes[1] = s.nativeLeg(ctx, client, order)
		return nil
	})
	_ = g.Wait()

	slog.Info("dual asset reward settled",
		"network", client.Profile.ID,
		"recipient", order.Recipient.Hex(),
		"token", token.Symbol,
		"token_status", outcomes[0].Status,
		"native_status", outcomes[1].Status,
	)
	return outcomes
}

func (s *DualAssetStrategy) tokenLeg(ctx context.Context, client *NetworkClient, order RewardOrder) domain.RewardOutcome {
	token := client.Profile.RewardToken
	start := time.Now()
	signer, err := client.Signer(domain.SignerToken)
	if err != nil {
		return s.finish(client, token.Symbol, order.Amount, "", err, start)
	}
	_, distributor, err := distributorOf(client.Profile)
	if err != nil {
		return s.finish(client, token.Symbol, order.Amount, "", err, start)
	}
	data, err := contracts.PackDistributeReward(order.Recipient, order.Units)
	if err != nil {
		return s.finish(client, token.Symbol, order.Amount, "", err, start)
	}
	hash, err := s.sender.Send(ctx, client, transfer{
		From:     signer,
		To:       distributor,
		Data:     data,
		GasLimit: distributorGasLimit,
	})
	return s.finish(client, token.Symbol, order.Amount, hash, err, start)
}

func (s *DualAssetStrategy) nativeLeg(ctx context.Context, client *NetworkClient, order RewardOrder) domain.RewardOutcome {
	symbol := client.Profile.NativeSymbol
	amount := client.Profile.NativeReward
	start := time.Now()
	signer, err := client.Signer(domain.SignerNative)
	if err != nil {
		return s.finish(client, symbol, amount, "", err, start)
	}
	units, err := nativeRewardUnits(client.Profile)
	if err != nil {
		return s.finish(client, symbol, amount, "", err, start)
	}
	hash, err := s.sender.Send(ctx, client, transfer{
		From:     signer,
		To:       order.Recipient,
		Value:    units,
		GasLimit: nativeGasLimit,
	})
	return s.finish(client, symbol, amount, hash, err, start)
}

func (s *DualAssetStrategy) finish(client *NetworkClient, symbol, amount, hash string, err error, start time.Time) domain.RewardOutcome {
	outcome := newOutcome(symbol, amount, hash, err)
	s.sender.observer.OnRewardLeg(client.Profile.ID, symbol, outcome.Status, time.Since(start))
	return outcome
}

// TokenStrategy pays the reward token with a plain ERC-20 transfer from the
// token signer's own balance.
type TokenStrategy struct {
	sender *TxSender
}

func NewTokenStrategy(sender *TxSender) *TokenStrategy {
	return &TokenStrategy{sender: sender}
}

func (s *TokenStrategy) ValidatePrerequisites(ctx context.Context, client *NetworkClient, order RewardOrder) error {
	token := client.Profile.RewardToken
	if token == nil {
		return fmt.Errorf("%w: %s has no reward token", domain.ErrConfigurationError, client.Profile.ID)
	}
	signer, err := client.Signer(domain.SignerToken)
	if err != nil {
		return err
	}
	balance, err := tokenBalance(ctx, client.Chain, common.HexToAddress(token.Address), signer.Address)
	if err != nil {
		return err
	}
	if balance.Cmp(order.Units) < 0 {
		return fmt.Errorf("%w: signer holds %s %s units, need %s", domain.ErrInsufficientFunds, balance, token.Symbol, order.Units)
	}
	return nil
}

func (s *TokenStrategy) Distribute(ctx context.Context, client *NetworkClient, order RewardOrder) []domain.RewardOutcome {
	token := client.Profile.RewardToken
	start := time.Now()
	hash, err := s.send(ctx, client, order)
	outcome := newOutcome(token.Symbol, order.Amount, hash, err)
	s.sender.observer.OnRewardLeg(client.Profile.ID, token.Symbol, outcome.Status, time.Since(start))
	return []domain.RewardOutcome{outcome}
}

func (s *TokenStrategy) send(ctx context.Context, client *NetworkClient, order RewardOrder) (string, error) {
	signer, err := client.Signer(domain.SignerToken)
	if err != nil {
		return "", err
	}
	data, err := contracts.PackTransfer(order.Recipient, order.Units)
	if err != nil {
		return "", err
	}
	return s.sender.Send(ctx, client, transfer{
		From:     signer,
		To:       common.HexToAddress(client.Profile.RewardToken.Address),
		Data:     data,
		GasLimit: tokenGasLimit,
	})
}

func newOutcome(symbol, amount, hash string, err error) domain.RewardOutcome {
	outcome := domain.RewardOutcome{Symbol: symbol, Amount: amount, TxHash: hash, Err: err}
	switch {
	case err == nil:
		outcome.Status = domain.OutcomeConfirmed
	case errors.Is(err, domain.ErrTransactionTimeout):
		outcome.Status = domain.OutcomeTimeout
	default:
		outcome.Status = domain.OutcomeFailed
	}
	return outcome
}

func distributorOf(profile domain.NetworkProfile) (*domain.TokenProfile, common.Address, error) {
	token := profile.RewardToken
	if token == nil || token.Distributor == "" {
		return nil, common.Address{}, fmt.Errorf("%w: %s has no reward distributor", domain.ErrConfigurationError, profile.ID)
	}
	return token, common.HexToAddress(token.Distributor), nil
}

func nativeRewardUnits(profile domain.NetworkProfile) (*big.Int, error) {
	if profile.NativeReward == "" {
		return nil, fmt.Errorf("%w: %s has no native reward", domain.ErrConfigurationError, profile.ID)
	}
	units, err := ParseUnits(profile.NativeReward, profile.NativeDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %s native reward: %v", domain.ErrConfigurationError, profile.ID, err)
	}
	return units, nil
}

func tokenBalance(ctx context.Context, chain ChainClient, token, owner common.Address) (*big.Int, error) {
	data, err := contracts.PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	output, err := chain.CallContract(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf %s: %v", domain.ErrNetworkUnavailable, owner.Hex(), err)
	}
	balance, err := contracts.UnpackBalance(output)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf %s: %v", domain.ErrNetworkUnavailable, owner.Hex(), err)
	}
	return balance, nil
}
