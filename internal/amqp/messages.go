package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"dompet/internal/core"
)

// MessageVersion is bumped when LedgerChangeMessage changes incompatibly.
const MessageVersion = 1

// LedgerChangeMessage announces one committed ledger write. It names what
// changed; consumers read current state from the store.
type LedgerChangeMessage struct {
	Version   int       `json:"v"`
	UserID    string    `json:"user_id"`
	Entity    string    `json:"entity"`
	Op        string    `json:"op"`
	ID        string    `json:"id,omitempty"`
	Methods   []string  `json:"methods,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var errMissingUser = errors.New("ledger change message has no user_id")

func NewLedgerChangeMessage(c core.Change) *LedgerChangeMessage {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &LedgerChangeMessage{
		Version:   MessageVersion,
		UserID:    string(c.UserID),
		Entity:    c.Entity,
		Op:        c.Op,
		ID:        c.ID,
		Methods:   c.Methods,
		Timestamp: at,
	}
}

// Change converts the message back to the engine's change record.
func (m *LedgerChangeMessage) Change() core.Change {
	return core.Change{
		UserID:  core.UserID(m.UserID),
		Entity:  m.Entity,
		Op:      m.Op,
		ID:      m.ID,
		Methods: m.Methods,
		At:      m.Timestamp,
	}
}

func (m *LedgerChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangeMessageFromJSON decodes and checks a message body.
func LedgerChangeMessageFromJSON(data []byte) (*LedgerChangeMessage, error) {
	var msg LedgerChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, errMissingUser
	}
	return &msg, nil
}
