package controllers

import (
	"net/http"

	"github.com/angelmondragon/scholarmarket-backend/api/middleware"
	"github.com/angelmondragon/scholarmarket-backend/api/responses"
	"github.com/angelmondragon/scholarmarket-backend/api/validators"
	"github.com/angelmondragon/scholarmarket-backend/internal/catalog"
	"github.com/angelmondragon/scholarmarket-backend/internal/ledger"
	"github.com/angelmondragon/scholarmarket-backend/internal/payouts"
	"github.com/angelmondragon/scholarmarket-backend/internal/purchases"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
)

const historyLimit = 50

func MyWorks(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		works, err := svc.ListByAuthor(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, workResponses(works))
	}
}

// MyStats returns per-work sales and earnings for the caller.
func MyStats(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		stats, err := svc.AuthorStats(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func MyPurchases(svc purchases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		rows, err := svc.ListByBuyer(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]purchaseResponse, 0, len(rows))
		for _, p := range rows {
			out = append(out, purchaseResponseFromModel(p))
		}
		responses.WriteSuccess(w, out)
	}
}

func MyPayouts(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		rows, err := svc.ListByUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutResponses(rows))
	}
}

type balanceResponse struct {
	UserID       int64                 `json:"user_id"`
	Balance      money.Amount          `json:"balance"`
	Transactions []transactionResponse `json:"transactions"`
}

// MyBalance returns the caller's balance and recent ledger rows. The account is
// created on first sight so a new user sees a zero balance instead of 404.
func MyBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		account, err := svc.EnsureAccount(r.Context(), userID, middleware.UsernameFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.History(r.Context(), userID, historyLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := balanceResponse{
			UserID:       userID,
			Balance:      money.Amount(account.Balance),
			Transactions: make([]transactionResponse, 0, len(rows)),
		}
		for _, t := range rows {
			resp.Transactions = append(resp.Transactions, transactionResponseFromModel(t))
		}
		responses.WriteSuccess(w, resp)
	}
}

type depositRequest struct {
	Amount money.Amount `json:"amount" validate:"gt=0"`
}

// MyDeposit credits the calling administrator's own account.
func MyDeposit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		deposit(w, r, svc, logg, userID)
	}
}

func deposit(w http.ResponseWriter, r *http.Request, svc ledger.Service, logg *logger.Logger, accountID int64) {
	var payload depositRequest
	if err := validators.DecodeJSONBody(r, &payload); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	row, err := svc.Deposit(r.Context(), accountID, payload.Amount)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusCreated, transactionResponseFromModel(*row))
}
