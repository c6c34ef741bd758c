package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"gastos/internal/core"
)

// EventType names the write that produced an event
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// ExpenseEventMessage is published after every committed write.
// Months lists each month whose analysis may have changed; an update that
// moves an expense carries both the old and the new month.
type ExpenseEventMessage struct {
	Type      EventType `json:"type"`
	ID        int64     `json:"id"`
	Months    []string  `json:"months"`
	Timestamp time.Time `json:"timestamp"`
}

// NewExpenseEventMessage creates an event, dropping duplicate months
func NewExpenseEventMessage(eventType EventType, id int64, months ...core.MonthKey) *ExpenseEventMessage {
	keys := make([]string, 0, len(months))
	seen := make(map[core.MonthKey]bool, len(months))
	for _, m := range months {
		if m.IsZero() || seen[m] {
			continue
		}
		seen[m] = true
		keys = append(keys, m.String())
	}
	return &ExpenseEventMessage{
		Type:      eventType,
		ID:        id,
		Months:    keys,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MonthKeys parses Months
func (m *ExpenseEventMessage) MonthKeys() ([]core.MonthKey, error) {
	out := make([]core.MonthKey, 0, len(m.Months))
	for _, raw := range m.Months {
		key, err := core.ParseMonthKey(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, nil
}

// Validate rejects messages the worker cannot act on
func (m *ExpenseEventMessage) Validate() error {
	switch m.Type {
	case EventCreated, EventUpdated, EventDeleted:
	default:
		return fmt.Errorf("unknown event type %q", m.Type)
	}
	if m.ID <= 0 {
		return fmt.Errorf("invalid expense id %d", m.ID)
	}
	if len(m.Months) == 0 {
		return fmt.Errorf("event for expense %d carries no months", m.ID)
	}
	if _, err := m.MonthKeys(); err != nil {
		return err
	}
	return nil
}

// ExpenseEventMessageFromJSON creates a message from JSON bytes
func ExpenseEventMessageFromJSON(data []byte) (*ExpenseEventMessage, error) {
	var msg ExpenseEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
