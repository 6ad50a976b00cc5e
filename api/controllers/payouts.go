package controllers

import (
	"net/http"

	"github.com/angelmondragon/scholarmarket-backend/api/responses"
	"github.com/angelmondragon/scholarmarket-backend/api/validators"
	"github.com/angelmondragon/scholarmarket-backend/internal/payouts"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
)

type payoutRequest struct {
	Amount     money.Amount `json:"amount" validate:"gt=0"`
	Requisites string       `json:"requisites" validate:"max=500"`
}

// RequestPayout records a withdrawal request. Funds move only when an
// administrator marks it paid.
func RequestPayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		var payload payoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		req, err := svc.Request(r.Context(), payouts.RequestInput{
			UserID:     userID,
			Amount:     payload.Amount,
			Requisites: payload.Requisites,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payoutResponseFromModel(*req))
	}
}
