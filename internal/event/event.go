// Package event defines the messages that flow over the bus between the
// pipeline stages. All of them are immutable once published.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ChatMessage is one chat line, normalized by the listener and consumed by
// the ingester and the anomaly detector. Timestamp is milliseconds since
// the Unix epoch. Message carries the full serialized payload (room, user
// and textual fields); analytics only ever reads its text field.
type ChatMessage struct {
	BroadcasterID int64  `json:"broadcaster_id"`
	Timestamp     int64  `json:"timestamp"`
	MessageID     string `json:"message_id"`
	Message       string `json:"message"`
}

// Validate reports whether the message carries everything the storage and
// analytics stages need. Consumers treat a validation failure as a poison
// message: logged, counted, acked away.
func (m ChatMessage) Validate() error {
	if m.BroadcasterID <= 0 {
		return fmt.Errorf("broadcaster_id must be positive, got %d", m.BroadcasterID)
	}
	if m.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive, got %d", m.Timestamp)
	}
	if _, err := uuid.Parse(m.MessageID); err != nil {
		return fmt.Errorf("message_id %q is not a UUID: %w", m.MessageID, err)
	}
	if m.Message == "" {
		return fmt.Errorf("message payload is empty")
	}
	return nil
}

// BroadcasterEvent announces one currently-live broadcaster. Rank is the
// position in the viewer-descending online listing at poll time. On the
// wire it is a bare 3-element JSON array, [id, login, rank].
type BroadcasterEvent struct {
	BroadcasterID int64
	Login         string
	Rank          int
}

func (e BroadcasterEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{e.BroadcasterID, e.Login, e.Rank})
}

func (e *BroadcasterEvent) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("broadcaster event is not a JSON array: %w", err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("broadcaster event must have 3 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &e.BroadcasterID); err != nil {
		return fmt.Errorf("broadcaster event id: %w", err)
	}
	if err := json.Unmarshal(parts[1], &e.Login); err != nil {
		return fmt.Errorf("broadcaster event login: %w", err)
	}
	if err := json.Unmarshal(parts[2], &e.Rank); err != nil {
		return fmt.Errorf("broadcaster event rank: %w", err)
	}
	return nil
}

// AnomalyEvent marks a chat surge in one broadcaster's room. Timestamp is
// seconds since the Unix epoch, the closing moment of the hot bucket.
type AnomalyEvent struct {
	BroadcasterID int64 `json:"broadcaster_id"`
	Timestamp     int64 `json:"timestamp"`
}
