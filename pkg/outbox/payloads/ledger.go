package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/proofledger/pkg/enums"
)

// LedgerChangedVersion is the current schema version of LedgerChangedEvent.
const LedgerChangedVersion = 1

// LedgerChangedEvent announces that a ledger mutation invalidated every report from
// AffectedMonth (YYYY-MM) onward.
type LedgerChangedEvent struct {
	OrganizationID uuid.UUID       `json:"organizationId"`
	LedgerEventID  uuid.UUID       `json:"ledgerEventId"`
	Kind           enums.EventKind `json:"kind"`
	OccurredOn     string          `json:"occurredOn"`
	AffectedMonth  string          `json:"affectedMonth"`
}
