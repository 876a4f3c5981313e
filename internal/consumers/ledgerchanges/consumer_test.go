package ledgerchanges

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/logger"
	"github.com/angelmondragon/proofledger/pkg/outbox"
	"github.com/angelmondragon/proofledger/pkg/outbox/payloads"
	"github.com/angelmondragon/proofledger/pkg/outbox/registry"
)

type fakeDedupe struct {
	seen      map[uuid.UUID]bool
	err       error
	forgotten []uuid.UUID
}

func (f *fakeDedupe) Seen(_ context.Context, id uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[id] {
		return true, nil
	}
	f.seen[id] = true
	return false, nil
}

func (f *fakeDedupe) Forget(_ context.Context, id uuid.UUID) error {
	delete(f.seen, id)
	f.forgotten = append(f.forgotten, id)
	return nil
}

type fakeNotifier struct {
	calls int
	org   uuid.UUID
	month time.Time
	err   error
}

func (f *fakeNotifier) NotifyLedgerChanged(_ context.Context, org uuid.UUID, month time.Time) error {
	f.calls++
	f.org = org
	f.month = month
	return f.err
}

type noopReceiver struct{}

func (noopReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

func newConsumer(t *testing.T) (*Consumer, *fakeDedupe, *fakeNotifier) {
	t.Helper()
	dedupe := &fakeDedupe{seen: map[uuid.UUID]bool{}}
	notifier := &fakeNotifier{}
	c, err := NewConsumer(Params{
		Subscription: noopReceiver{},
		Decoders:     registry.NewLedgerDecoderRegistry(),
		Dedupe:       dedupe,
		Notifier:     notifier,
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)
	return c, dedupe, notifier
}

func message(t *testing.T, eventID uuid.UUID, change payloads.LedgerChangedEvent) []byte {
	t.Helper()
	data, err := json.Marshal(change)
	require.NoError(t, err)
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    payloads.LedgerChangedVersion,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return raw
}

var ledgerAttrs = map[string]string{"event_type": string(enums.EventLedgerEventRecorded)}

func TestProcessNotifiesOnce(t *testing.T) {
	c, _, notifier := newConsumer(t)
	org := uuid.New()
	eventID := uuid.New()
	data := message(t, eventID, payloads.LedgerChangedEvent{OrganizationID: org, AffectedMonth: "2024-04"})

	assert.Equal(t, Ack, c.Process(context.Background(), "m1", data, ledgerAttrs))
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, org, notifier.org)
	assert.Equal(t, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), notifier.month)

	assert.Equal(t, Ack, c.Process(context.Background(), "m2", data, ledgerAttrs))
	assert.Equal(t, 1, notifier.calls, "redelivery must not refresh twice")
}

func TestProcessNacksUnavailable(t *testing.T) {
	c, dedupe, notifier := newConsumer(t)
	notifier.err = pkgerrors.Unavailable(errors.New("db down"), "query ledger")
	eventID := uuid.New()
	data := message(t, eventID, payloads.LedgerChangedEvent{OrganizationID: uuid.New(), AffectedMonth: "2024-04"})

	assert.Equal(t, Nack, c.Process(context.Background(), "m1", data, ledgerAttrs))
	assert.Equal(t, []uuid.UUID{eventID}, dedupe.forgotten)

	notifier.err = nil
	assert.Equal(t, Ack, c.Process(context.Background(), "m1", data, ledgerAttrs))
	assert.Equal(t, 2, notifier.calls)
}

func TestProcessAcksRejectedRefresh(t *testing.T) {
	c, _, notifier := newConsumer(t)
	notifier.err = pkgerrors.InvalidArgument("walk too long")
	data := message(t, uuid.New(), payloads.LedgerChangedEvent{OrganizationID: uuid.New(), AffectedMonth: "1990-01"})
	assert.Equal(t, Ack, c.Process(context.Background(), "m1", data, ledgerAttrs))
}

func TestProcessNacksIdempotencyFailure(t *testing.T) {
	c, dedupe, notifier := newConsumer(t)
	dedupe.err = errors.New("redis down")
	data := message(t, uuid.New(), payloads.LedgerChangedEvent{OrganizationID: uuid.New(), AffectedMonth: "2024-04"})
	assert.Equal(t, Nack, c.Process(context.Background(), "m1", data, ledgerAttrs))
	assert.Zero(t, notifier.calls)
}

func TestProcessAcksMalformed(t *testing.T) {
	c, _, notifier := newConsumer(t)
	ctx := context.Background()
	good := message(t, uuid.New(), payloads.LedgerChangedEvent{OrganizationID: uuid.New(), AffectedMonth: "2024-04"})

	cases := map[string]struct {
		data  []byte
		attrs map[string]string
	}{
		"not json":        {data: []byte("{"), attrs: ledgerAttrs},
		"unknown type":    {data: good, attrs: map[string]string{"event_type": "order_created"}},
		"missing org":     {data: message(t, uuid.New(), payloads.LedgerChangedEvent{AffectedMonth: "2024-04"}), attrs: ledgerAttrs},
		"bad month":       {data: message(t, uuid.New(), payloads.LedgerChangedEvent{OrganizationID: uuid.New(), AffectedMonth: "April"}), attrs: ledgerAttrs},
		"missing eventid": {data: []byte(`{"version":1,"data":{"organizationId":"` + uuid.NewString() + `","affectedMonth":"2024-04"}}`), attrs: ledgerAttrs},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, Ack, c.Process(ctx, "m", tc.data, tc.attrs))
		})
	}
	assert.Zero(t, notifier.calls)
}
