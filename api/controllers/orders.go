package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/commonsportal-backend/api/responses"
	"github.com/angelmondragon/commonsportal-backend/api/validators"
	"github.com/angelmondragon/commonsportal-backend/internal/orders"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
)

func OrderList(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListForBuyer(r.Context(), buyerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), actorID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

type itemTransition func(ctx context.Context, actorID, orderItemID uuid.UUID) (*orders.OrderDetail, error)

// OrderItemComplete lets the seller mark one item fulfilled.
func OrderItemComplete(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderItemAction(svc.Complete, logg)
}

// OrderItemCancel lets the buyer or the seller cancel one pending item.
func OrderItemCancel(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderItemAction(svc.Cancel, logg)
}

func orderItemAction(fn itemTransition, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.PathUUID(r, "orderItemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := fn(r.Context(), actorID, itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}
