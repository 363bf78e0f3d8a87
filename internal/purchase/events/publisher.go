package events

import (
	"context"

	"github.com/rxledger/pharmacy-backend/pkg/logger"
	"github.com/rxledger/pharmacy-backend/pkg/messaging"
)

// PurchasePublisher publishes purchase mutation events. A nil publisher
// is valid and publishes nothing, so messaging stays optional in tests
// and local runs.
type PurchasePublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewPurchasePublisher creates a new purchase event publisher
func NewPurchasePublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*PurchasePublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangePurchaseEvents, "pharmacy-service", log)
	if err != nil {
		return nil, err
	}

	return &PurchasePublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishItemUpdated publishes an item updated event
func (p *PurchasePublisher) PublishItemUpdated(ctx context.Context, itemID, purchaseID, medicineID string, fields map[string]any) {
	if p == nil {
		return
	}

	data := messaging.ItemUpdatedEvent{
		ItemID:     itemID,
		PurchaseID: purchaseID,
		MedicineID: medicineID,
		Fields:     fields,
	}

	if err := p.publisher.Publish(ctx, messaging.EventItemUpdated, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to publish item updated event")
	}
}

// PublishItemDeleted publishes an item deleted event
func (p *PurchasePublisher) PublishItemDeleted(ctx context.Context, itemID, purchaseID, medicineID string, purchaseRemoved, medicineRemoved bool) {
	if p == nil {
		return
	}

	data := messaging.ItemDeletedEvent{
		ItemID:          itemID,
		PurchaseID:      purchaseID,
		MedicineID:      medicineID,
		PurchaseRemoved: purchaseRemoved,
		MedicineRemoved: medicineRemoved,
	}

	if err := p.publisher.Publish(ctx, messaging.EventItemDeleted, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to publish item deleted event")
	}
}

// PublishCleanupCompleted publishes a cleanup completed event
func (p *PurchasePublisher) PublishCleanupCompleted(ctx context.Context, data messaging.CleanupCompletedEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventCleanupCompleted, data); err != nil {
		p.logger.Error().Err(err).Str("pharmacy_id", data.PharmacyID).Msg("failed to publish cleanup completed event")
	}
}
