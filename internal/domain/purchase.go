package domain

import (
	"math/big"
	"time"
)

// PurchaseClaim is a caller-supplied payment claim; none of it is trusted
// until checked against the chain.
type PurchaseClaim struct {
	TxHash  string
	Asset   AssetType
	Network NetworkID
	From    string
	To      string
	// Amount is denominated in the reference unit (USD), as a decimal string.
	Amount string
}

// DecodedTransfer is what the chain says actually moved.
type DecodedTransfer struct {
	From   string
	To     string
	Amount *big.Int
}

// PurchaseGrant signals that the claimed payment matched the chain.
type PurchaseGrant struct {
	TxHash         string    `json:"txHash"`
	Network        NetworkID `json:"network"`
	Asset          AssetType `json:"asset"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	OnChainAmount  string    `json:"onChainAmount"`
	ExpectedAmount string    `json:"expectedAmount"`
	VerifiedAt     time.Time `json:"verifiedAt"`
}
