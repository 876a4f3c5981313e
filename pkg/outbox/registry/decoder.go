package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/proofledger/pkg/enums"
	"github.com/angelmondragon/proofledger/pkg/outbox/payloads"
)

type DecoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]DecoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]DecoderFunc)}
}

// NewLedgerDecoderRegistry registers the current ledger change payload for every
// ledger event type.
func NewLedgerDecoderRegistry() *DecoderRegistry {
	reg := NewDecoderRegistry()
	decode := func(payload json.RawMessage) (any, error) {
		var event payloads.LedgerChangedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return event, nil
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventLedgerEventRecorded,
		enums.EventLedgerEventUpdated,
		enums.EventLedgerEventDeleted,
	} {
		reg.Register(eventType, payloads.LedgerChangedVersion, decode)
	}
	return reg
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder DecoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decoder(payload)
}
