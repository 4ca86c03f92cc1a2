package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is a short-lived JSON-RPC connection to one network.
type Client struct {
	url string
	eth *ethclient.Client
}

func Dial(ctx context.Context, url string) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("rpc url is required")
	}
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{url: url, eth: eth}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// PendingNonce includes transactions still in the node's pool so that two
// calls from the same signer never reuse a nonce.
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, nil)
}

func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// SendTransaction marks JSON-RPC error replies with domain.ErrBroadcastRejected.
// Any other failure leaves it open whether the node took the transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return mapSendError(c.eth.SendTransaction(ctx, tx))
}

func (c *Client) TransactionByHash(ctx context.Context, hash string) (domain.Transaction, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		return domain.Transaction{}, mapNotFound(err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("recover sender: %w", err)
	}
	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	return domain.Transaction{
		ChainID:  tx.ChainId().Uint64(),
		TxHash:   tx.Hash().Hex(),
		From:     from.Hex(),
		To:       to,
		Value:    tx.Value(),
		Nonce:    tx.Nonce(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Input:    tx.Data(),
	}, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, hash string) (domain.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return domain.Receipt{}, mapNotFound(err)
	}
	logs := make([]domain.LogEntry, 0, len(receipt.Logs))
	for _, log := range receipt.Logs {
		topics := make([]string, 0, len(log.Topics))
		for _, topic := range log.Topics {
			topics = append(topics, topic.Hex())
		}
		logs = append(logs, domain.LogEntry{
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash.Hex(),
			LogIndex:    uint64(log.Index),
			Address:     strings.ToLower(log.Address.Hex()),
			Data:        "0x" + common.Bytes2Hex(log.Data),
			Topics:      topics,
			Removed:     log.Removed,
		})
	}
	effectiveGasPrice := ""
	if receipt.EffectiveGasPrice != nil {
		effectiveGasPrice = receipt.EffectiveGasPrice.String()
	}
	blockNumber := uint64(0)
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Uint64()
	}
	return domain.Receipt{
		TxHash:            receipt.TxHash.Hex(),
		BlockNumber:       blockNumber,
		BlockHash:         receipt.BlockHash.Hex(),
		TxIndex:           uint64(receipt.TransactionIndex),
		Status:            receipt.Status,
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: effectiveGasPrice,
		Logs:              logs,
	}, nil
}

func mapSendError(err error) error {
	if err == nil {
		return nil
	}
	var reply rpc.Error
	if errors.As(err, &reply) {
		return fmt.Errorf("%w: %v", domain.ErrBroadcastRejected, err)
	}
	return err
}

func mapNotFound(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %v", domain.ErrTransactionNotFound, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrNetworkUnavailable, err)
}
