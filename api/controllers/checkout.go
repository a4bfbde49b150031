package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/commonsportal-backend/api/responses"
	"github.com/angelmondragon/commonsportal-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/commonsportal-backend/internal/checkout"
	"github.com/angelmondragon/commonsportal-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
)

type checkoutRequest struct {
	CartID uuid.UUID `json:"cart_id" validate:"required"`
}

// Checkout converts the caller's cart into an order.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		buyerID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Checkout(r.Context(), buyerID, payload.CartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, orders.DetailFromModel(*order))
	}
}
