package interfaces

import "github.com/ternarybob/specto/internal/models"

// ProgressBus is the process-local progress channel. Publish never
// blocks: events to a slow subscriber are dropped, never reordered.
type ProgressBus interface {
	// Publish fans an event out to all subscribers of its entity id
	Publish(event models.ProgressEvent)

	// Subscribe returns a channel of events for the entity and a cancel
	// function. The channel is closed on cancel or bus shutdown.
	Subscribe(entityID string) (<-chan models.ProgressEvent, func())

	Close() error
}
