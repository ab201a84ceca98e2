package amqp

import (
	"encoding/json"
	"time"
)

// LedgerExportMessage announces that a refresh finished and its snapshot is
// in the archive. It carries summary counts only; the worker reads the full
// snapshot from the database.
type LedgerExportMessage struct {
	RefreshedAt      time.Time `json:"refreshed_at"`
	TransactionCount int       `json:"transaction_count"`
	AccountCount     int       `json:"account_count"`
	NetWorth         string    `json:"net_worth"`
	Timestamp        time.Time `json:"timestamp"`
}

func NewLedgerExportMessage(refreshedAt time.Time, transactionCount, accountCount int, netWorth string) *LedgerExportMessage {
	return &LedgerExportMessage{
		RefreshedAt:      refreshedAt,
		TransactionCount: transactionCount,
		AccountCount:     accountCount,
		NetWorth:         netWorth,
		Timestamp:        time.Now(),
	}
}

func (m *LedgerExportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerExportMessageFromJSON(data []byte) (*LedgerExportMessage, error) {
	var msg LedgerExportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
