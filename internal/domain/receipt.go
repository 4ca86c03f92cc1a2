package domain

const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

// Receipt represents a transaction receipt from the chain.
type Receipt struct {
	TxHash            string
	BlockNumber       uint64
	BlockHash         string
	TxIndex           uint64
	Status            uint64
	GasUsed           uint64
	EffectiveGasPrice string
	Logs              []LogEntry
}

func (r Receipt) Failed() bool {
	return r.Status == ReceiptStatusFailed
}
