package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried on the ledger queue.
const (
	EventExpenseRecorded = "expense.recorded"
	EventPaymentRecorded = "payment.recorded"
)

// LedgerEvent announces a newly appended ledger record. It carries only the
// record id; consumers fetch the record itself from the store.
type LedgerEvent struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEvent(eventType, id, groupID string) *LedgerEvent {
	return &LedgerEvent{
		Type:      eventType,
		ID:        id,
		GroupID:   groupID,
		Timestamp: time.Now(),
	}
}

func (m *LedgerEvent) Validate() error {
	switch m.Type {
	case EventExpenseRecorded, EventPaymentRecorded:
	default:
		return fmt.Errorf("unknown event type %q", m.Type)
	}
	if m.ID == "" {
		return fmt.Errorf("event has no record id")
	}
	if m.GroupID == "" {
		return fmt.Errorf("event has no group id")
	}
	return nil
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and validates an event body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
