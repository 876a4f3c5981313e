package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/logger"
	"github.com/angelmondragon/proofledger/pkg/outbox"
	"github.com/angelmondragon/proofledger/pkg/outbox/payloads"
)

var (
	maxProof  = decimal.NewFromInt(200)
	// numeric(14,3) leaves eleven integer digits
	maxVolume = decimal.New(1, 11)
)

// Notifier is told which month a committed mutation invalidated.
type Notifier interface {
	NotifyLedgerChanged(ctx context.Context, organizationID uuid.UUID, affectedMonth time.Time) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service records, edits and removes ledger events. Malformed events are rejected
// here so everything downstream can assume a clean ledger.
type Service interface {
	Record(ctx context.Context, input EventInput) (*models.LedgerEvent, error)
	Update(ctx context.Context, organizationID, id uuid.UUID, input EventInput) (*models.LedgerEvent, error)
	Delete(ctx context.Context, organizationID, id uuid.UUID) error
	Get(ctx context.Context, organizationID, id uuid.UUID) (*models.LedgerEvent, error)
	List(ctx context.Context, q Query) ([]models.LedgerEvent, error)
}

// EventInput captures the fields a caller supplies for a ledger event.
type EventInput struct {
	OrganizationID uuid.UUID
	Kind           enums.EventKind
	OccurredOn     time.Time
	VolumeLiters   decimal.Decimal
	StrengthProof  decimal.Decimal
	BatchID        *string
	ProductID      *string
	Bottles        *int
	BottleSizeML   *int
	Counterparty   *string
	Notes          *string
	OperatorID     *string
}

type ServiceParams struct {
	Repository Repository
	DB         txRunner
	Outbox     outboxEmitter
	Notifier   Notifier
	Logger     *logger.Logger
}

type service struct {
	repo     Repository
	db       txRunner
	outbox   outboxEmitter
	notifier Notifier
	logg     *logger.Logger
}

// NewService wires a ledger service. Notifier is optional; without it reports are
// refreshed only through the outbox pipeline or on the next read.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:     params.Repository,
		db:       params.DB,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		logg:     logg,
	}, nil
}

func (s *service) Record(ctx context.Context, input EventInput) (*models.LedgerEvent, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	event := &models.LedgerEvent{ID: uuid.New(), OrganizationID: input.OrganizationID}
	applyInput(event, input)

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
			return pkgerrors.Unavailable(err, "record ledger event")
		}
		return s.emit(ctx, tx, enums.EventLedgerEventRecorded, event, monthOf(event.OccurredOn))
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, event.OrganizationID, monthOf(event.OccurredOn))
	return event, nil
}

func (s *service) Update(ctx context.Context, organizationID, id uuid.UUID, input EventInput) (*models.LedgerEvent, error) {
	input.OrganizationID = organizationID
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var (
		event    *models.LedgerEvent
		affected time.Time
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		existing, err := txRepo.FindByID(ctx, organizationID, id)
		if err != nil {
			return pkgerrors.Unavailable(err, "load ledger event")
		}
		if existing == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "ledger event not found")
		}

		// an edit can move an event across months; both months need recomputing
		affected = earliestMonth(existing.OccurredOn, input.OccurredOn)
		applyInput(existing, input)
		if err := txRepo.Save(ctx, existing); err != nil {
			return pkgerrors.Unavailable(err, "update ledger event")
		}
		event = existing
		return s.emit(ctx, tx, enums.EventLedgerEventUpdated, existing, affected)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, organizationID, affected)
	return event, nil
}

func (s *service) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	if organizationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}

	var affected time.Time
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		existing, err := txRepo.FindByID(ctx, organizationID, id)
		if err != nil {
			return pkgerrors.Unavailable(err, "load ledger event")
		}
		if existing == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "ledger event not found")
		}
		if err := txRepo.Delete(ctx, organizationID, id); err != nil {
			return pkgerrors.Unavailable(err, "delete ledger event")
		}
		affected = monthOf(existing.OccurredOn)
		return s.emit(ctx, tx, enums.EventLedgerEventDeleted, existing, affected)
	})
	if err != nil {
		return err
	}

	s.notify(ctx, organizationID, affected)
	return nil
}

func (s *service) Get(ctx context.Context, organizationID, id uuid.UUID) (*models.LedgerEvent, error) {
	event, err := s.repo.FindByID(ctx, organizationID, id)
	if err != nil {
		return nil, pkgerrors.Unavailable(err, "load ledger event")
	}
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger event not found")
	}
	return event, nil
}

func (s *service) List(ctx context.Context, q Query) ([]models.LedgerEvent, error) {
	if q.OrganizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	if q.Kind != nil && !q.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid event kind %q", *q.Kind))
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date range is inverted")
	}
	events, err := s.repo.ListEvents(ctx, q)
	if err != nil {
		return nil, pkgerrors.Unavailable(err, "list ledger events")
	}
	return events, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, event *models.LedgerEvent, affected time.Time) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateLedgerEvent,
		AggregateID:   event.ID,
		Version:       payloads.LedgerChangedVersion,
		Actor:         actorFor(event),
		Data: payloads.LedgerChangedEvent{
			OrganizationID: event.OrganizationID,
			LedgerEventID:  event.ID,
			Kind:           event.Kind,
			OccurredOn:     event.OccurredOn.Format(time.DateOnly),
			AffectedMonth:  affected.Format("2006-01"),
		},
	})
	if err != nil {
		return pkgerrors.Unavailable(err, "queue ledger change")
	}
	return nil
}

func (s *service) notify(ctx context.Context, organizationID uuid.UUID, month time.Time) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyLedgerChanged(ctx, organizationID, month); err != nil {
		// the outbox event still drives the refresh asynchronously
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"organization_id": organizationID.String(),
			"affected_month":  month.Format("2006-01"),
			"error":           err.Error(),
		})
		s.logg.Warn(logCtx, "ledger.sync_notify_failed")
	}
}

func validateInput(input EventInput) error {
	problems := map[string]string{}
	if input.OrganizationID == uuid.Nil {
		problems["organization_id"] = "is required"
	}
	if !input.Kind.IsValid() {
		problems["kind"] = fmt.Sprintf("unknown event kind %q", input.Kind)
	}
	if input.OccurredOn.IsZero() {
		problems["occurred_on"] = "is required"
	}
	switch {
	case input.VolumeLiters.IsNegative():
		problems["volume_liters"] = "must not be negative"
	case !input.VolumeLiters.LessThan(maxVolume):
		problems["volume_liters"] = "is too large"
	case exceedsScale(input.VolumeLiters, models.VolumeLitersScale):
		problems["volume_liters"] = fmt.Sprintf("must have at most %d decimal places", models.VolumeLitersScale)
	}
	switch {
	case input.StrengthProof.IsNegative() || input.StrengthProof.GreaterThan(maxProof):
		problems["strength_proof"] = "must be between 0 and 200"
	case exceedsScale(input.StrengthProof, models.StrengthProofScale):
		problems["strength_proof"] = fmt.Sprintf("must have at most %d decimal places", models.StrengthProofScale)
	}
	if input.Bottles != nil && *input.Bottles < 0 {
		problems["bottles"] = "must not be negative"
	}
	if input.BottleSizeML != nil && *input.BottleSizeML <= 0 {
		problems["bottle_size_ml"] = "must be positive"
	}
	if len(problems) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger event").WithDetails(problems)
}

// exceedsScale reports whether d carries significant digits past places. Trailing
// zeros do not count.
func exceedsScale(d decimal.Decimal, places int32) bool {
	return !d.Equal(d.Truncate(places))
}

func applyInput(event *models.LedgerEvent, input EventInput) {
	event.Kind = input.Kind
	event.OccurredOn = dateOnly(input.OccurredOn)
	event.VolumeLiters = input.VolumeLiters
	event.StrengthProof = input.StrengthProof
	event.BatchID = input.BatchID
	event.ProductID = input.ProductID
	event.Bottles = input.Bottles
	event.BottleSizeML = input.BottleSizeML
	event.Counterparty = input.Counterparty
	event.Notes = input.Notes
	event.OperatorID = input.OperatorID
}

func actorFor(event *models.LedgerEvent) *outbox.ActorRef {
	if event.OperatorID == nil || *event.OperatorID == "" {
		return nil
	}
	return &outbox.ActorRef{OperatorID: *event.OperatorID, OrganizationID: event.OrganizationID}
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func earliestMonth(a, b time.Time) time.Time {
	ma, mb := monthOf(a), monthOf(b)
	if mb.Before(ma) {
		return mb
	}
	return ma
}
