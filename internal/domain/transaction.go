package domain

import "math/big"

// Transaction represents a chain transaction as seen by the verifier.
type Transaction struct {
	ChainID  uint64
	TxHash   string
	From     string
	To       string
	Value    *big.Int
	Nonce    uint64
	Gas      uint64
	GasPrice *big.Int
	Input    []byte
}
