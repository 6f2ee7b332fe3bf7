package model

// DecodeError is a factory log the decoder rejected. Data keeps the raw
// payload so the log can be decoded again without refetching it.
type DecodeError struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Factory     string `json:"factory"`
	Topic0      string `json:"topic0,omitempty"`
	Data        string `json:"data,omitempty"`
	Removed     bool   `json:"removed,omitempty"`
	Reason      string `json:"reason"`
}
