package event

import "github.com/erp/catalogsync/internal/domain/integration"

// RegisterCatalogEvents registers the catalog sync event types with the serializer
func RegisterCatalogEvents(serializer *EventSerializer) {
	serializer.Register(integration.EventTypeCatalogSynced, &integration.CatalogSyncedEvent{})
	serializer.Register(integration.EventTypeCatalogSyncFailed, &integration.CatalogSyncFailedEvent{})
}

// NewCatalogEventSerializer returns a serializer that knows every catalog event type
func NewCatalogEventSerializer() *EventSerializer {
	s := NewEventSerializer()
	RegisterCatalogEvents(s)
	return s
}
