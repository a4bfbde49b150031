package controllers

import (
	"net/http"
	"time"


	"github.com/angelmondragon/commonsportal-backend/api/responses"
	"github.com/angelmondragon/commonsportal-backend/api/validators"
	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/money"
)

// ListingList serves the public feed. on_sale defaults to true.
func ListingList(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		onSale, err := validators.ParseQueryBool(r, "on_sale", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		owner, err := validators.ParseQueryUUID(r, "owner_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), listings.ListParams{
			Limit:     page.Limit,
			Cursor:    page.Cursor,
			OwnerID:   owner,
			OnSaleNow: onSale,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ListingDetail(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := validators.PathUUID(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.Get(r.Context(), listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

type imageRequest struct {
	ImageKey  string `json:"image_key" validate:"required,max=512"`
	Thumbhash string `json:"thumbhash" validate:"max=128"`
}

type createListingRequest struct {
	Title        string         `json:"title" validate:"required,max=200"`
	Description  string         `json:"description" validate:"max=10000"`
	PriceCents   int64          `json:"price_cents" validate:"gte=0"`
	Capacity     *int           `json:"capacity" validate:"omitempty,min=1"`
	SaleStartsAt *time.Time     `json:"sale_starts_at" validate:"required_with=SaleEndsAt"`
	SaleEndsAt   *time.Time     `json:"sale_ends_at" validate:"required_with=SaleStartsAt"`
	Images       []imageRequest `json:"images" validate:"max=20,dive"`
}

// updateListingRequest is a partial patch; capacity and the window may be
// cleared with an explicit null.
type updateListingRequest struct {
	Title        *string             `json:"title" validate:"omitempty,max=200"`
	Description  *string             `json:"description" validate:"omitempty,max=10000"`
	PriceCents   *int64              `json:"price_cents" validate:"omitempty,gte=0"`
	Capacity     nullable[int]       `json:"capacity"`
	SaleStartsAt nullable[time.Time] `json:"sale_starts_at"`
	SaleEndsAt   nullable[time.Time] `json:"sale_ends_at"`
	Images       []imageRequest      `json:"images" validate:"omitempty,max=20,dive"`
}

func toImageInputs(in []imageRequest) []listings.ImageInput {
	if in == nil {
		return nil
	}
	out := make([]listings.ImageInput, 0, len(in))
	for _, img := range in {
		out = append(out, listings.ImageInput{ImageKey: img.ImageKey, Thumbhash: img.Thumbhash})
	}
	return out
}

func SellerCreateListing(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createListingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Create(r.Context(), ownerID, listings.CreateInput{
			Title:        payload.Title,
			Description:  payload.Description,
			Price:        money.Cents(payload.PriceCents),
			Capacity:     payload.Capacity,
			SaleStartsAt: payload.SaleStartsAt,
			SaleEndsAt:   payload.SaleEndsAt,
			Images:       toImageInputs(payload.Images),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

func SellerUpdateListing(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID, err := validators.PathUUID(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateListingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.SaleStartsAt.Set != payload.SaleEndsAt.Set {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sale_starts_at and sale_ends_at must be changed together"))
			return
		}

		input := listings.UpdateInput{
			Title:        payload.Title,
			Description:  payload.Description,
			CapacitySet:  payload.Capacity.Set,
			Capacity:     payload.Capacity.Value,
			WindowSet:    payload.SaleStartsAt.Set,
			SaleStartsAt: payload.SaleStartsAt.Value,
			SaleEndsAt:   payload.SaleEndsAt.Value,
			Images:       toImageInputs(payload.Images),
		}
		if payload.PriceCents != nil {
			price := money.Cents(*payload.PriceCents)
			input.Price = &price
		}

		dto, err := svc.Update(r.Context(), actorID, listingID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

func SellerDeleteListing(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID, err := validators.PathUUID(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), actorID, listingID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

// SellerListingSales reports the order items of one listing to its owner.
func SellerListingSales(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID, err := validators.PathUUID(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sales, err := svc.Sales(r.Context(), actorID, listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sales)
	}
}

