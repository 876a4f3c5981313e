package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/proofledger/pkg/db"
	"github.com/angelmondragon/proofledger/pkg/db/dbtest"
	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/logger"
	"github.com/angelmondragon/proofledger/pkg/outbox"
	"github.com/angelmondragon/proofledger/pkg/outbox/payloads"
)

type notifyCall struct {
	org   uuid.UUID
	month time.Time
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (f *fakeNotifier) NotifyLedgerChanged(_ context.Context, org uuid.UUID, month time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{org: org, month: month})
	return f.err
}

type fixture struct {
	client   *db.Client
	svc      Service
	notifier *fakeNotifier
	org      uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.NewClient(t)
	notifier := &fakeNotifier{}
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(client.DB()),
		DB:         client,
		Outbox:     outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		Notifier:   notifier,
	})
	require.NoError(t, err)
	return &fixture{client: client, svc: svc, notifier: notifier, org: uuid.New()}
}

func (f *fixture) input(kind enums.EventKind, on time.Time) EventInput {
	operator := "op-12"
	return EventInput{
		OrganizationID: f.org,
		Kind:           kind,
		OccurredOn:     on,
		VolumeLiters:   decimal.RequireFromString("400"),
		StrengthProof:  decimal.RequireFromString("90"),
		OperatorID:     &operator,
	}
}

func (f *fixture) outboxRows(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.client.DB().Order("created_at ASC").Find(&rows).Error)
	return rows
}

func decodeChange(t *testing.T, row models.OutboxEvent) payloads.LedgerChangedEvent {
	t.Helper()
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	var change payloads.LedgerChangedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &change))
	return change
}

func TestRecordPersistsEmitsAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, err := f.svc.Record(ctx, f.input(enums.EventKindProduction, time.Date(2024, time.April, 5, 15, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC), event.OccurredOn)

	stored, err := f.svc.Get(ctx, f.org, event.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EventKindProduction, stored.Kind)

	rows := f.outboxRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventLedgerEventRecorded, rows[0].EventType)
	change := decodeChange(t, rows[0])
	assert.Equal(t, "2024-04", change.AffectedMonth)
	assert.Equal(t, "2024-04-05", change.OccurredOn)

	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), f.notifier.calls[0].month)
}

func TestRecordRejectsMalformedEvents(t *testing.T) {
	f := newFixture(t)

	in := f.input(enums.EventKind("distill"), time.Time{})
	in.VolumeLiters = decimal.NewFromInt(-1)
	in.StrengthProof = decimal.NewFromInt(201)

	_, err := f.svc.Record(context.Background(), in)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "kind")
	assert.Contains(t, details, "occurred_on")
	assert.Contains(t, details, "volume_liters")
	assert.Contains(t, details, "strength_proof")

	assert.Empty(t, f.outboxRows(t))
	assert.Empty(t, f.notifier.calls)
}

func TestRecordRejectsPrecisionTheStoreWouldRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		liters string
		proof  string
		field  string
	}{
		{name: "volume past milliliters", liters: "12.3456", proof: "80", field: "volume_liters"},
		{name: "proof past hundredths", liters: "12.5", proof: "80.125", field: "strength_proof"},
		{name: "volume too large", liters: "100000000000", proof: "80", field: "volume_liters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := f.input(enums.EventKindProduction, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
			in.VolumeLiters = decimal.RequireFromString(tc.liters)
			in.StrengthProof = decimal.RequireFromString(tc.proof)

			_, err := f.svc.Record(ctx, in)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			details, ok := typed.Details().(map[string]string)
			require.True(t, ok)
			assert.Contains(t, details, tc.field)
		})
	}
	assert.Empty(t, f.outboxRows(t))

	in := f.input(enums.EventKindProduction, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	in.VolumeLiters = decimal.RequireFromString("12.3450")
	in.StrengthProof = decimal.RequireFromString("80.10")
	_, err := f.svc.Record(ctx, in)
	require.NoError(t, err)
}

func TestUpdateUsesEarliestMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, err := f.svc.Record(ctx, f.input(enums.EventKindBottling, time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	moved := f.input(enums.EventKindBottling, time.Date(2024, time.February, 28, 0, 0, 0, 0, time.UTC))
	_, err = f.svc.Update(ctx, f.org, event.ID, moved)
	require.NoError(t, err)

	rows := f.outboxRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.EventLedgerEventUpdated, rows[1].EventType)
	assert.Equal(t, "2024-02", decodeChange(t, rows[1]).AffectedMonth)
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), f.notifier.calls[1].month)

	_, err = f.svc.Update(ctx, f.org, uuid.New(), moved)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDeleteEmitsAndRemoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, err := f.svc.Record(ctx, f.input(enums.EventKindLoss, time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.org, event.ID))
	_, err = f.svc.Get(ctx, f.org, event.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	rows := f.outboxRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.EventLedgerEventDeleted, rows[1].EventType)

	// another organization cannot delete it
	assert.True(t, pkgerrors.IsNotFound(f.svc.Delete(ctx, uuid.New(), event.ID)))
}

func TestNotifyFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("reports busy")

	_, err := f.svc.Record(context.Background(), f.input(enums.EventKindProduction, time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Len(t, f.outboxRows(t), 1)
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox full")
}

func TestOutboxFailureRollsBackEvent(t *testing.T) {
	client := dbtest.NewClient(t)
	repo := NewRepository(client.DB())
	svc, err := NewService(ServiceParams{Repository: repo, DB: client, Outbox: failingEmitter{}})
	require.NoError(t, err)

	org := uuid.New()
	_, err = svc.Record(context.Background(), EventInput{
		OrganizationID: org,
		Kind:           enums.EventKindProduction,
		OccurredOn:     time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC),
		VolumeLiters:   decimal.NewFromInt(10),
		StrengthProof:  decimal.NewFromInt(100),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUnavailable(err))

	events, err := repo.ListEvents(context.Background(), Query{OrganizationID: org})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListValidatesQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.List(ctx, Query{})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	bad := enums.EventKind("nope")
	_, err = f.svc.List(ctx, Query{OrganizationID: f.org, Kind: &bad})
	require.Error(t, err)

	from := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.List(ctx, Query{OrganizationID: f.org, From: &from, To: &to})
	require.Error(t, err)
}
