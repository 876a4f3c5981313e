package enums

import (
	"fmt"
	"strings"
)

// EventKind maps to the event_kind column of ledger_events.
type EventKind string

const (
	EventKindProduction     EventKind = "production"
	EventKindBottling       EventKind = "bottling"
	EventKindTransferIn     EventKind = "transfer_in"
	EventKindTransferOut    EventKind = "transfer_out"
	EventKindLoss           EventKind = "loss"
	EventKindAddition       EventKind = "addition"
	EventKindRedistillation EventKind = "redistillation"
	EventKindTaxWithdrawal  EventKind = "tax_withdrawal"
)

var validEventKinds = []EventKind{
	EventKindProduction,
	EventKindBottling,
	EventKindTransferIn,
	EventKindTransferOut,
	EventKindLoss,
	EventKindAddition,
	EventKindRedistillation,
	EventKindTaxWithdrawal,
}

// EventKinds returns every recognised ledger event kind.
func EventKinds() []EventKind {
	out := make([]EventKind, len(validEventKinds))
	copy(out, validEventKinds)
	return out
}

// IsValid reports whether the value matches a known event kind.
func (k EventKind) IsValid() bool {
	for _, candidate := range validEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func (k EventKind) String() string {
	return string(k)
}

// ParseEventKind converts raw input into EventKind. Hyphenated spellings are accepted.
func ParseEventKind(value string) (EventKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	for _, candidate := range validEventKinds {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event kind %q", value)
}
