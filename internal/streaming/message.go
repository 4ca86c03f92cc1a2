package streaming

import (
	"encoding/json"
	"errors"
	"time"
)

type MessageType string

const (
	MessageTypeRewardResult  MessageType = "reward_result"
	MessageTypePurchaseGrant MessageType = "purchase_grant"
)

// Transfer is one asset leg of a reward event.
type Transfer struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	TxHash string `json:"tx_hash,omitempty"`
	Status string `json:"status"`
}

type Message struct {
	Type       MessageType `json:"type"`
	EventID    string      `json:"event_id"`
	Network    string      `json:"network"`
	TraceID    string      `json:"trace_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`

	Recipient string     `json:"recipient,omitempty"`
	Transfers []Transfer `json:"transfers,omitempty"`

	TxHash         string `json:"tx_hash,omitempty"`
	Asset          string `json:"asset,omitempty"`
	From           string `json:"from,omitempty"`
	To             string `json:"to,omitempty"`
	OnChainAmount  string `json:"on_chain_amount,omitempty"`
	ExpectedAmount string `json:"expected_amount,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg Message) error {
	switch {
	case msg.Type == "":
		return errors.New("message type is required")
	case msg.EventID == "":
		return errors.New("event_id is required")
	case msg.Network == "":
		return errors.New("network is required")
	}
	switch msg.Type {
	case MessageTypeRewardResult:
		if msg.Recipient == "" {
			return errors.New("reward_result requires recipient")
		}
	case MessageTypePurchaseGrant:
		if msg.TxHash == "" {
			return errors.New("purchase_grant requires tx_hash")
		}
	default:
		return errors.New("unknown message type " + string(msg.Type))
	}
	return nil
}
