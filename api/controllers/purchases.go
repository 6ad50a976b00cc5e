package controllers

import (
	"net/http"

	"github.com/angelmondragon/scholarmarket-backend/api/middleware"
	"github.com/angelmondragon/scholarmarket-backend/api/responses"
	"github.com/angelmondragon/scholarmarket-backend/api/validators"
	"github.com/angelmondragon/scholarmarket-backend/internal/purchases"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
)

type createPurchaseRequest struct {
	WorkID  int64  `json:"work_id" validate:"gt=0"`
	Funding string `json:"funding" validate:"omitempty,oneof=balance external"`
}

type createPurchaseResponse struct {
	Purchase    *purchaseResponse     `json:"purchase,omitempty"`
	Requisites  string                `json:"requisites,omitempty"`
	Fulfillment *payloads.Fulfillment `json:"fulfillment,omitempty"`
}

// CreatePurchase buys a work. Balance funding settles immediately and returns
// the fulfillment; external funding opens a pending purchase whose id the
// buyer quotes in the payment comment, alongside the platform requisites.
func CreatePurchase(svc purchases.Service, requisites string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		var payload createPurchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		funding, err := enums.ParseFundingSource(payload.Funding)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid funding"))
			return
		}

		if funding == enums.FundingBalance {
			fulfillment, err := svc.Buy(r.Context(), payload.WorkID, userID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccessStatus(w, http.StatusCreated, createPurchaseResponse{Fulfillment: fulfillment})
			return
		}

		purchase, err := svc.Initiate(r.Context(), purchases.InitiateInput{
			WorkID:  payload.WorkID,
			BuyerID: userID,
			Funding: funding,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := purchaseResponseFromModel(*purchase)
		responses.WriteSuccessStatus(w, http.StatusCreated, createPurchaseResponse{
			Purchase:   &resp,
			Requisites: requisites,
		})
	}
}

// GetPurchase is visible to the buyer and administrators.
func GetPurchase(svc purchases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		purchaseID, err := validators.ParsePathUUID(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchase, err := svc.Get(r.Context(), purchaseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if purchase.BuyerID != userID && middleware.RoleFromContext(r.Context()) != enums.RoleAdmin {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found"))
			return
		}
		responses.WriteSuccess(w, purchaseResponseFromModel(*purchase))
	}
}
