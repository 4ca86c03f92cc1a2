package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type SenderConfig struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// TxSender runs the nonce, bid, sign, broadcast, confirm pipeline for one
// transaction at a time.
type TxSender struct {
	gas      GasOracle
	cfg      SenderConfig
	observer Observer
}

func NewTxSender(gas GasOracle, cfg SenderConfig, observer Observer) *TxSender {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &TxSender{gas: gas, cfg: cfg, observer: observer}
}

type transfer struct {
	From     Signer
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// Send returns the transaction hash once the transaction is broadcast, even
// when confirmation later fails, so callers can report it.
func (s *TxSender) Send(ctx context.Context, client *NetworkClient, t transfer) (string, error) {
	ctx, span := otel.Tracer("chainsettle/application").Start(ctx, "settlement.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("network", string(client.Profile.ID)),
		attribute.String("from", t.From.Address.Hex()),
		attribute.String("to", t.To.Hex()),
	)

	hash, err := s.send(ctx, client, t)
	if hash != "" {
		span.SetAttributes(attribute.String("tx.hash", hash))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return hash, err
}

func (s *TxSender) send(ctx context.Context, client *NetworkClient, t transfer) (string, error) {
	nonce, err := client.Chain.PendingNonce(ctx, t.From.Address)
	if err != nil {
		return "", fmt.Errorf("%w: read nonce: %v", domain.ErrNetworkUnavailable, err)
	}
	gasPrice, err := s.gas.Bid(ctx, client.Chain, nonce)
	if err != nil {
		return "", err
	}
	s.observer.OnGasBid(client.Profile.ID, gasPrice)

	value := t.Value
	if value == nil {
		value = new(big.Int)
	}
	to := t.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      t.GasLimit,
		GasPrice: gasPrice,
		Data:     t.Data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(client.ChainID()), t.From.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	hash := signed.Hash().Hex()

	if err := client.Chain.SendTransaction(ctx, signed); err != nil {
		if errors.Is(err, domain.ErrBroadcastRejected) {
			return "", fmt.Errorf("%w: broadcast: %w", domain.ErrNetworkUnavailable, err)
		}
		// The node may hold the transaction even though the call failed.
		if !s.knownToNode(ctx, client, hash) {
			return hash, fmt.Errorf("%w: broadcast of %s unacknowledged: %v", domain.ErrTransactionTimeout, hash, err)
		}
		slog.Warn("broadcast error but transaction is pending",
			"network", client.Profile.ID,
			"tx", hash,
			"err", err,
		)
	}
	slog.Info("transaction broadcast",
		"network", client.Profile.ID,
		"tx", hash,
		"nonce", nonce,
		"gas_price", gasPrice.String(),
	)
	return hash, s.waitForReceipt(ctx, client, hash)
}

func (s *TxSender) knownToNode(ctx context.Context, client *NetworkClient, hash string) bool {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := client.Chain.TransactionByHash(lookupCtx, hash)
	return err == nil
}

// waitForReceipt polls until a receipt appears or the confirm timeout
// elapses. Running out of time is reported as ErrTransactionTimeout because
// the transaction may still be mined.
func (s *TxSender) waitForReceipt(ctx context.Context, client *NetworkClient, hash string) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.Chain.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil && receipt.Failed():
			return fmt.Errorf("%w: %s reverted in block %d", domain.ErrTransactionFailed, hash, receipt.BlockNumber)
		case err == nil:
			return nil
		case !errors.Is(err, domain.ErrTransactionNotFound) && waitCtx.Err() == nil:
			slog.Warn("receipt poll failed", "network", client.Profile.ID, "tx", hash, "err", err)
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("%w: %s not confirmed within %s", domain.ErrTransactionTimeout, hash, s.cfg.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}
