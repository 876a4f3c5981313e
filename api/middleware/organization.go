package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/proofledger/api/responses"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/logger"
)

// OrganizationParam is the route parameter holding the organization id.
const OrganizationParam = "orgId"

// Organization resolves {orgId} for every route below it and tags the request logger.
func Organization(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(chi.URLParam(r, OrganizationParam))
			orgID, err := uuid.Parse(raw)
			if err != nil || orgID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.InvalidArgument("invalid organization id %q", raw))
				return
			}

			ctx := WithOrganizationID(r.Context(), orgID)
			if logg != nil {
				ctx = logg.WithOrganizationID(ctx, orgID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
