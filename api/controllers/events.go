package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/proofledger/api/middleware"
	"github.com/angelmondragon/proofledger/api/responses"
	"github.com/angelmondragon/proofledger/api/validators"
	"github.com/angelmondragon/proofledger/internal/ledger"
	"github.com/angelmondragon/proofledger/internal/units"
	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/logger"
)

const maxFreeTextLen = 500

type eventRequest struct {
	Kind          string           `json:"kind" validate:"required"`
	OccurredOn    string           `json:"occurred_on" validate:"required,datetime=2006-01-02"`
	VolumeLiters  *decimal.Decimal `json:"volume_liters" validate:"required"`
	StrengthProof *decimal.Decimal `json:"strength_proof" validate:"required"`
	BatchID       *string          `json:"batch_id"`
	ProductID     *string          `json:"product_id"`
	Bottles       *int             `json:"bottles" validate:"omitempty,gte=0"`
	BottleSizeML  *int             `json:"bottle_size_ml" validate:"omitempty,gt=0"`
	Counterparty  *string          `json:"counterparty"`
	Notes         *string          `json:"notes"`
	OperatorID    *string          `json:"operator_id"`
}

func (r eventRequest) toInput(organizationID uuid.UUID) (ledger.EventInput, error) {
	kind, err := enums.ParseEventKind(r.Kind)
	if err != nil {
		return ledger.EventInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid event kind").
			WithDetails(map[string]string{"kind": err.Error()})
	}
	occurredOn, err := time.Parse(time.DateOnly, strings.TrimSpace(r.OccurredOn))
	if err != nil {
		return ledger.EventInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid occurred_on")
	}
	return ledger.EventInput{
		OrganizationID: organizationID,
		Kind:           kind,
		OccurredOn:     occurredOn,
		VolumeLiters:   *r.VolumeLiters,
		StrengthProof:  *r.StrengthProof,
		BatchID:        trimmed(r.BatchID),
		ProductID:      trimmed(r.ProductID),
		Bottles:        r.Bottles,
		BottleSizeML:   r.BottleSizeML,
		Counterparty:   trimmed(r.Counterparty),
		Notes:          trimmed(r.Notes),
		OperatorID:     trimmed(r.OperatorID),
	}, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	clean := validators.SanitizeString(*value, maxFreeTextLen)
	if clean == "" {
		return nil
	}
	return &clean
}

type eventResponse struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	Kind           enums.EventKind `json:"kind"`
	OccurredOn     string          `json:"occurred_on"`
	VolumeLiters   decimal.Decimal `json:"volume_liters"`
	StrengthProof  decimal.Decimal `json:"strength_proof"`
	ProofGallons   decimal.Decimal `json:"proof_gallons"`
	BatchID        *string         `json:"batch_id,omitempty"`
	ProductID      *string         `json:"product_id,omitempty"`
	Bottles        *int            `json:"bottles,omitempty"`
	BottleSizeML   *int            `json:"bottle_size_ml,omitempty"`
	Counterparty   *string         `json:"counterparty,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	OperatorID     *string         `json:"operator_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func eventResponseFromModel(m *models.LedgerEvent) eventResponse {
	return eventResponse{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Kind:           m.Kind,
		OccurredOn:     m.OccurredOn.Format(time.DateOnly),
		VolumeLiters:   m.VolumeLiters,
		StrengthProof:  m.StrengthProof,
		ProofGallons:   units.ToProofGallons(m.VolumeLiters, m.StrengthProof),
		BatchID:        m.BatchID,
		ProductID:      m.ProductID,
		Bottles:        m.Bottles,
		BottleSizeML:   m.BottleSizeML,
		Counterparty:   m.Counterparty,
		Notes:          m.Notes,
		OperatorID:     m.OperatorID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// EventCreate records a ledger event for the organization in the path.
func EventCreate(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := middleware.OrganizationIDFromContext(r.Context())

		var payload eventRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Record(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, eventResponseFromModel(created))
	}
}

// EventList lists events filtered by kind and an inclusive date range.
func EventList(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := ledger.Query{OrganizationID: middleware.OrganizationIDFromContext(r.Context())}

		if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
			kind, err := enums.ParseEventKind(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid event kind").
					WithDetails(map[string]string{"kind": err.Error()}))
				return
			}
			q.Kind = &kind
		}
		from, err := validators.ParseQueryDate(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryDate(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q.From, q.To = from, to

		events, err := svc.List(r.Context(), q)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]eventResponse, 0, len(events))
		for i := range events {
			out = append(out, eventResponseFromModel(&events[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// EventUpdate replaces the mutable fields of an existing event.
func EventUpdate(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := middleware.OrganizationIDFromContext(r.Context())
		eventID, err := parseEventID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload eventRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.Update(r.Context(), orgID, eventID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, eventResponseFromModel(updated))
	}
}

func EventDelete(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := middleware.OrganizationIDFromContext(r.Context())
		eventID, err := parseEventID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), orgID, eventID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": eventID, "deleted": true})
	}
}

func parseEventID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "eventId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.InvalidArgument("invalid event id %q", raw)
	}
	return id, nil
}
