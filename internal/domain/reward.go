package domain

import "time"

// RewardRequest asks for a token reward on one network.
type RewardRequest struct {
	Recipient string
	Amount    string
	Network   NetworkID
}

// RewardTransactionRecord is produced once a reward transfer is broadcast and confirmed.
type RewardTransactionRecord struct {
	TxHash  string    `json:"txHash"`
	Symbol  string    `json:"symbol"`
	Amount  string    `json:"amount"`
	Network NetworkID `json:"network"`
}

type OutcomeStatus string

const (
	OutcomeConfirmed OutcomeStatus = "confirmed"
	OutcomeTimeout   OutcomeStatus = "timeout"
	OutcomeFailed    OutcomeStatus = "failed"
)

// RewardOutcome is the result of one asset leg. TxHash is set whenever the
// transaction reached the network, including timeouts and reverts.
type RewardOutcome struct {
	Symbol string        `json:"symbol"`
	Amount string        `json:"amount"`
	TxHash string        `json:"txHash,omitempty"`
	Status OutcomeStatus `json:"status"`
	Err    error         `json:"-"`
}

func (o RewardOutcome) Succeeded() bool {
	return o.Status == OutcomeConfirmed
}

type RewardResult struct {
	Network      NetworkID                 `json:"network"`
	Transactions []RewardTransactionRecord `json:"transactions"`
	Outcomes     []RewardOutcome           `json:"outcomes"`
}

// RewardRecord is the persisted form of a confirmed reward transfer.
type RewardRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Address   string    `json:"address"`
	Symbol    string    `json:"symbol"`
	Network   NetworkID `json:"network"`
	Amount    string    `json:"amount"`
	TxHash    string    `json:"txHash"`
}
