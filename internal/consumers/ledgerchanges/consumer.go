package ledgerchanges

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/proofledger/internal/reconcile"
	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/logger"
	"github.com/angelmondragon/proofledger/pkg/outbox"
	"github.com/angelmondragon/proofledger/pkg/outbox/payloads"
)

// ConsumerName scopes the idempotency keys of this consumer.
const ConsumerName = "reconcile-ledger-changes"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type decoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

type dedupe interface {
	Seen(ctx context.Context, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, eventID uuid.UUID) error
}

type notifier interface {
	NotifyLedgerChanged(ctx context.Context, organizationID uuid.UUID, affectedMonth time.Time) error
}

// Outcome tells the subscription loop what to do with a message.
type Outcome int

const (
	Ack Outcome = iota
	Nack
)

// Consumer turns ledger change messages into reconciliation cascades. Transient
// failures are nacked for redelivery; malformed messages are acked and dropped.
type Consumer struct {
	subscription receiver
	decoders     decoder
	dedupe       dedupe
	notifier     notifier
	logg         *logger.Logger
}

type Params struct {
	Subscription receiver
	Decoders     decoder
	Dedupe       dedupe
	Notifier     notifier
	Logger       *logger.Logger
}

func NewConsumer(params Params) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, errors.New("ledger subscription is required")
	}
	if params.Decoders == nil {
		return nil, errors.New("decoder registry is required")
	}
	if params.Dedupe == nil {
		return nil, errors.New("idempotency guard is required")
	}
	if params.Notifier == nil {
		return nil, errors.New("reconcile notifier is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		subscription: params.Subscription,
		decoders:     params.Decoders,
		dedupe:       params.Dedupe,
		notifier:     params.Notifier,
		logg:         params.Logger,
	}, nil
}

// Run drains the subscription until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.Process(innerCtx, msg.ID, msg.Data, msg.Attributes) == Nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process handles one delivery.
func (c *Consumer) Process(ctx context.Context, messageID string, data []byte, attributes map[string]string) Outcome {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	change, eventID, err := c.decode(data, attributes)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "ledger_changes.malformed_message")
		return Ack
	}
	if change == nil {
		return Ack
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":        eventID.String(),
		"organization_id": change.OrganizationID.String(),
		"affected_month":  change.AffectedMonth,
	})

	month, err := reconcile.ParseMonth(change.AffectedMonth)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "ledger_changes.malformed_message")
		return Ack
	}

	seen, err := c.dedupe.Seen(logCtx, eventID)
	if err != nil {
		c.logg.Error(logCtx, "ledger_changes.idempotency_failed", err)
		return Nack
	}
	if seen {
		c.logg.Info(logCtx, "ledger_changes.duplicate")
		return Ack
	}

	if err := c.notifier.NotifyLedgerChanged(logCtx, change.OrganizationID, month); err != nil {
		_ = c.dedupe.Forget(logCtx, eventID)
		if pkgerrors.IsUnavailable(err) {
			c.logg.Error(logCtx, "ledger_changes.refresh_unavailable", err)
			return Nack
		}
		c.logg.Error(logCtx, "ledger_changes.refresh_rejected", err)
		return Ack
	}

	c.logg.Info(logCtx, "ledger_changes.refreshed")
	return Ack
}

// decode returns a nil change for event types this consumer ignores.
func (c *Consumer) decode(data []byte, attributes map[string]string) (*payloads.LedgerChangedEvent, uuid.UUID, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, uuid.Nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(attributes["event_type"]))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("event_type: %w", err)
	}
	if !eventType.IsLedgerChange() {
		return nil, uuid.Nil, nil
	}

	rawID := strings.TrimSpace(envelope.EventID)
	if rawID == "" {
		rawID = strings.TrimSpace(attributes["event_id"])
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("event_id: %w", err)
	}

	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, uuid.Nil, err
	}
	change, ok := decoded.(payloads.LedgerChangedEvent)
	if !ok {
		return nil, uuid.Nil, fmt.Errorf("unexpected payload %T", decoded)
	}
	if change.OrganizationID == uuid.Nil {
		return nil, uuid.Nil, errors.New("organization id missing")
	}
	return &change, eventID, nil
}
