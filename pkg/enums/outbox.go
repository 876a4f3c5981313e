package enums

import "fmt"

// OutboxAggregateType names the entity an outbox row is about.
type OutboxAggregateType string

const (
	AggregateLedgerEvent  OutboxAggregateType = "ledger_event"
	AggregateOrganization OutboxAggregateType = "organization"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateLedgerEvent,
	AggregateOrganization,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names the domain event carried by an outbox row.
type OutboxEventType string

const (
	EventLedgerEventRecorded OutboxEventType = "ledger_event_recorded"
	EventLedgerEventUpdated  OutboxEventType = "ledger_event_updated"
	EventLedgerEventDeleted  OutboxEventType = "ledger_event_deleted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventLedgerEventRecorded,
	EventLedgerEventUpdated,
	EventLedgerEventDeleted,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// IsLedgerChange reports whether the event invalidates reconciled months.
func (e OutboxEventType) IsLedgerChange() bool {
	switch e {
	case EventLedgerEventRecorded, EventLedgerEventUpdated, EventLedgerEventDeleted:
		return true
	}
	return false
}
