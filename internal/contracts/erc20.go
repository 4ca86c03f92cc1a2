package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20ABIJSON = `[
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

const distributorABIJSON = `[
{"inputs":[{"internalType":"address","name":"user","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"distributeReward","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	erc20ABI       = mustParseABI(erc20ABIJSON)
	distributorABI = mustParseABI(distributorABIJSON)

	// TransferTopic is keccak256("Transfer(address,address,uint256)").
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	return data, nil
}

func PackBalanceOf(owner common.Address) ([]byte, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	return data, nil
}

func UnpackBalance(output []byte) (*big.Int, error) {
	values, err := erc20ABI.Unpack("balanceOf", output)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(values) != 1 {
		return nil, errors.New("unpack balanceOf: unexpected output length")
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("unpack balanceOf: unexpected output type")
	}
	return balance, nil
}

func PackDistributeReward(user common.Address, amount *big.Int) ([]byte, error) {
	data, err := distributorABI.Pack("distributeReward", user, amount)
	if err != nil {
		return nil, fmt.Errorf("pack distributeReward: %w", err)
	}
	return data, nil
}

// IsTransferLog reports whether entry is a Transfer event emitted by token.
func IsTransferLog(entry domain.LogEntry, token string) bool {
	if entry.Removed || len(entry.Topics) != 3 {
		return false
	}
	if !strings.EqualFold(entry.Address, token) {
		return false
	}
	return common.HexToHash(entry.Topics[0]) == TransferTopic
}

// DecodeTransfer reads sender and recipient from the indexed topics and the
// value from the log data.
func DecodeTransfer(entry domain.LogEntry) (domain.DecodedTransfer, error) {
	if len(entry.Topics) != 3 || common.HexToHash(entry.Topics[0]) != TransferTopic {
		return domain.DecodedTransfer{}, errors.New("not a transfer log")
	}
	values, err := erc20ABI.Unpack("Transfer", common.FromHex(entry.Data))
	if err != nil {
		return domain.DecodedTransfer{}, fmt.Errorf("unpack transfer: %w", err)
	}
	if len(values) != 1 {
		return domain.DecodedTransfer{}, errors.New("unpack transfer: unexpected data length")
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return domain.DecodedTransfer{}, errors.New("unpack transfer: unexpected value type")
	}
	return domain.DecodedTransfer{
		From:   common.HexToAddress(entry.Topics[1]).Hex(),
		To:     common.HexToAddress(entry.Topics[2]).Hex(),
		Amount: amount,
	}, nil
}
