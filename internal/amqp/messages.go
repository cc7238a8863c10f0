package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// Reasons carried by LedgerChangedMessage.
const (
	ReasonGroupCreated       = "group_created"
	ReasonMemberJoined       = "member_joined"
	ReasonExpenseAdded       = "expense_added"
	ReasonSettlementRecorded = "settlement_recorded"
	ReasonRecompute          = "recompute"
)

// LedgerChangedMessage tells the worker that a group's records or roster
// changed. It carries only identifiers; the worker reloads the group from
// the store.
type LedgerChangedMessage struct {
	GroupKey  string    `json:"group_key"`
	Reason    string    `json:"reason"`
	ExpenseID string    `json:"expense_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerChangedMessage(groupKey, reason, expenseID string) *LedgerChangedMessage {
	return &LedgerChangedMessage{
		GroupKey:  groupKey,
		Reason:    reason,
		ExpenseID: expenseID,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangedMessageFromJSON decodes a message and rejects one without a
// group key.
func LedgerChangedMessageFromJSON(data []byte) (*LedgerChangedMessage, error) {
	var msg LedgerChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.GroupKey == "" {
		return nil, errors.New("ledger changed message without group_key")
	}
	return &msg, nil
}
