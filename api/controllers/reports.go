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
	"github.com/angelmondragon/proofledger/internal/reconcile"
	"github.com/angelmondragon/proofledger/internal/reports"
	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/logger"
)

type reportMetadataResponse struct {
	RegistrationNumber string              `json:"registration_number"`
	ProprietorName     string              `json:"proprietor_name"`
	ProprietorAddress  string              `json:"proprietor_address"`
	EIN                string              `json:"ein"`
	Variant            enums.ReportVariant `json:"variant"`
}

type reportResponse struct {
	ID                  uuid.UUID                             `json:"id"`
	OrganizationID      uuid.UUID                             `json:"organization_id"`
	Schema              enums.ReportSchema                    `json:"schema"`
	FormNumber          string                                `json:"form_number"`
	Month               string                                `json:"month"`
	BeginningBalance    decimal.Decimal                       `json:"beginning_balance"`
	Quantities          map[reconcile.Quantity]decimal.Decimal `json:"quantities"`
	EndingBalance       decimal.Decimal                       `json:"ending_balance"`
	Metadata            reportMetadataResponse                `json:"metadata"`
	DataQualityWarnings []string                              `json:"data_quality_warnings"`
	ComputedAt          time.Time                             `json:"computed_at"`
}

// reportResponseFrom exposes only the quantities the report's schema tracks.
func reportResponseFrom(report *reconcile.Report) reportResponse {
	record := report.Record
	quantities := make(map[reconcile.Quantity]decimal.Decimal, len(report.Tracked))
	for _, q := range report.Tracked {
		if v, ok := report.Quantity(q); ok {
			quantities[q] = v
		}
	}
	meta := reports.MetadataOf(record)
	return reportResponse{
		ID:               record.ID,
		OrganizationID:   record.OrganizationID,
		Schema:           record.Schema,
		FormNumber:       record.Schema.FormNumber(),
		Month:            reconcile.FormatMonth(record.Month),
		BeginningBalance: record.BeginningBalance,
		Quantities:       quantities,
		EndingBalance:    record.EndingBalance,
		Metadata: reportMetadataResponse{
			RegistrationNumber: meta.RegistrationNumber,
			ProprietorName:     meta.ProprietorName,
			ProprietorAddress:  meta.ProprietorAddress,
			EIN:                meta.EIN,
			Variant:            meta.Variant,
		},
		DataQualityWarnings: report.Warnings(),
		ComputedAt:          record.ComputedAt,
	}
}

func reportResponses(list []*reconcile.Report) []reportResponse {
	out := make([]reportResponse, 0, len(list))
	for _, report := range list {
		out = append(out, reportResponseFrom(report))
	}
	return out
}

type reportMetadataRequest struct {
	RegistrationNumber *string `json:"registration_number" validate:"omitempty,max=64"`
	ProprietorName     *string `json:"proprietor_name" validate:"omitempty,max=255"`
	ProprietorAddress  *string `json:"proprietor_address" validate:"omitempty,max=500"`
	EIN                *string `json:"ein" validate:"omitempty,max=32"`
	Variant            *string `json:"variant"`
}

func (r reportMetadataRequest) toPatch() (reports.MetadataPatch, error) {
	patch := reports.MetadataPatch{
		RegistrationNumber: sanitized(r.RegistrationNumber),
		ProprietorName:     sanitized(r.ProprietorName),
		ProprietorAddress:  sanitized(r.ProprietorAddress),
		EIN:                sanitized(r.EIN),
	}
	if r.Variant != nil {
		variant, err := enums.ParseReportVariant(strings.ToLower(strings.TrimSpace(*r.Variant)))
		if err != nil {
			return reports.MetadataPatch{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid variant").
				WithDetails(map[string]string{"variant": err.Error()})
		}
		patch.Variant = &variant
	}
	if patch.Empty() {
		return reports.MetadataPatch{}, pkgerrors.New(pkgerrors.CodeValidation, "no metadata fields supplied")
	}
	return patch, nil
}

func sanitized(value *string) *string {
	if value == nil {
		return nil
	}
	clean := validators.SanitizeString(*value, maxFreeTextLen)
	return &clean
}

// ReportList refreshes and returns every report of a schema, newest month first.
func ReportList(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schema, err := parseSchema(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListReports(r.Context(), middleware.OrganizationIDFromContext(r.Context()), schema)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reportResponses(list))
	}
}

// ReportGet returns the freshly recomputed report for one month.
func ReportGet(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schema, month, err := parseReportKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.GetOrRefreshReport(r.Context(), middleware.OrganizationIDFromContext(r.Context()), schema, month)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reportResponseFrom(report))
	}
}

func ReportUpdateMetadata(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schema, month, err := parseReportKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reportMetadataRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patch, err := payload.toPatch()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.UpdateMetadata(r.Context(), middleware.OrganizationIDFromContext(r.Context()), schema, month, patch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reportResponseFrom(report))
	}
}

// ReportCascade recomputes a schema's chain from ?from= through the latest month.
func ReportCascade(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schema, err := parseSchema(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, err := parseMonthQuery(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.RefreshCascade(r.Context(), middleware.OrganizationIDFromContext(r.Context()), schema, from)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reportResponses(list))
	}
}

// LedgerChanged refreshes every schema from ?month= forward.
func LedgerChanged(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := middleware.OrganizationIDFromContext(r.Context())
		month, err := parseMonthQuery(r, "month")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.NotifyLedgerChanged(r.Context(), orgID, month); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"organization_id": orgID,
			"month":           reconcile.FormatMonth(month),
			"status":          "refreshed",
		})
	}
}

func parseReportKey(r *http.Request) (enums.ReportSchema, time.Time, error) {
	schema, err := parseSchema(r)
	if err != nil {
		return "", time.Time{}, err
	}
	month, err := parseMonth(chi.URLParam(r, "month"))
	if err != nil {
		return "", time.Time{}, err
	}
	return schema, month, nil
}

func parseSchema(r *http.Request) (enums.ReportSchema, error) {
	raw := chi.URLParam(r, "schema")
	schema, err := enums.ParseReportSchema(raw)
	if err != nil {
		return "", pkgerrors.InvalidArgument("unknown report schema %q", raw)
	}
	return schema, nil
}

func parseMonthQuery(r *http.Request, key string) (time.Time, error) {
	raw, err := validators.RequireQuery(r, key)
	if err != nil {
		return time.Time{}, err
	}
	return parseMonth(raw)
}

// parseMonth accepts exactly YYYY-MM.
func parseMonth(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	month, err := time.Parse(reconcile.MonthLayout, raw)
	if err != nil {
		return time.Time{}, pkgerrors.InvalidArgument("malformed month %q (expected YYYY-MM)", raw)
	}
	return month, nil
}
