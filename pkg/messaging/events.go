package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// Purchase item events
	EventItemUpdated = "purchase.item.updated"
	EventItemDeleted = "purchase.item.deleted"

	// Retention cleanup events
	EventCleanupCompleted = "purchase.cleanup.completed"
)

// Exchange names
const (
	ExchangePurchaseEvents = "purchase.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// ItemUpdatedEvent is published after a purchase line item and its
// dependent rows have been updated.
type ItemUpdatedEvent struct {
	ItemID     string         `json:"item_id"`
	PurchaseID string         `json:"purchase_id"`
	MedicineID string         `json:"medicine_id"`
	Fields     map[string]any `json:"fields"` // Changed fields
}

// ItemDeletedEvent is published after a purchase line item and its
// dependent rows have been deleted.
type ItemDeletedEvent struct {
	ItemID          string `json:"item_id"`
	PurchaseID      string `json:"purchase_id"`
	MedicineID      string `json:"medicine_id"`
	PurchaseRemoved bool   `json:"purchase_removed"`
	MedicineRemoved bool   `json:"medicine_removed"`
}

// CleanupCompletedEvent is published after a retention cleanup run finishes.
type CleanupCompletedEvent struct {
	PharmacyID       string `json:"pharmacy_id,omitempty"`
	CutoffDate       string `json:"cutoff_date"`
	BatchesProcessed int    `json:"batches_processed"`
	ItemsDeleted     int    `json:"items_deleted"`
	PurchasesDeleted int    `json:"purchases_deleted"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
