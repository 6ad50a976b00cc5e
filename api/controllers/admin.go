package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/scholarmarket-backend/api/responses"
	"github.com/angelmondragon/scholarmarket-backend/api/validators"
	"github.com/angelmondragon/scholarmarket-backend/internal/catalog"
	"github.com/angelmondragon/scholarmarket-backend/internal/ledger"
	"github.com/angelmondragon/scholarmarket-backend/internal/payouts"
	"github.com/angelmondragon/scholarmarket-backend/internal/purchases"
	"github.com/angelmondragon/scholarmarket-backend/internal/settlement"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/metrics"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
)

func AdminPendingWorks(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		works, err := svc.ListPending(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, workResponses(works))
	}
}

type moderationRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
}

// AdminModerateWork approves or rejects a pending work. The second verdict on
// the same work answers ALREADY_MODERATED.
func AdminModerateWork(svc catalog.Service, m *metrics.Market, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		workID, err := validators.ParsePathID(r, "workId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload moderationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Moderate(r.Context(), catalog.ModerateInput{
			WorkID:   workID,
			AdminID:  adminID,
			Decision: enums.ModerationDecision(payload.Decision),
		})
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeAlreadyModerated) {
				m.Moderation("already_moderated")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		m.Moderation(payload.Decision)
		responses.WriteSuccess(w, result)
	}
}

type updateWorkRequest struct {
	Title          *string `json:"title" validate:"omitempty,max=200"`
	Description    *string `json:"description" validate:"omitempty,max=4000"`
	CategoryID     *int64  `json:"category_id" validate:"omitempty,gt=0"`
	SubcategoryID  *int64  `json:"subcategory_id" validate:"omitempty,gt=0"`
	PreviewImageID *string `json:"preview_image_id"`
}

func AdminUpdateWork(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		workID, err := validators.ParsePathID(r, "workId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateWorkRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		work, err := svc.UpdateDetails(r.Context(), catalog.UpdateInput{
			WorkID:         workID,
			AdminID:        adminID,
			Title:          payload.Title,
			Description:    payload.Description,
			CategoryID:     payload.CategoryID,
			SubcategoryID:  payload.SubcategoryID,
			PreviewImageID: payload.PreviewImageID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, workResponseFromModel(*work))
	}
}

type hardDeleteResponse struct {
	WorkID       int64              `json:"work_id"`
	RemovedFiles []payloads.FileRef `json:"removed_files"`
}

// AdminDeleteWork removes a work and its files for good. Purchases and ledger
// rows that reference it are kept.
func AdminDeleteWork(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		workID, err := validators.ParsePathID(r, "workId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		files, err := svc.HardDelete(r.Context(), workID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if files == nil {
			files = []payloads.FileRef{}
		}
		responses.WriteSuccess(w, hardDeleteResponse{WorkID: workID, RemovedFiles: files})
	}
}

type settleRequest struct {
	Proof string `json:"proof" validate:"max=4000"`
}

// AdminSettlePurchase confirms an external payment by hand.
func AdminSettlePurchase(svc purchases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		purchaseID, err := validators.ParsePathUUID(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload settleRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		fulfillment, err := svc.Settle(r.Context(), purchases.SettleInput{
			PurchaseID: purchaseID,
			Proof:      strings.TrimSpace(payload.Proof),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, fulfillment)
	}
}

type paymentNotificationRequest struct {
	SenderID  int64  `json:"sender_id" validate:"gt=0"`
	Forwarded bool   `json:"forwarded"`
	Text      string `json:"text" validate:"required,max=8000"`
}

// AdminPaymentNotification relays a payment message seen by the gateway. A
// message that settles nothing still answers 200 with the reason.
func AdminPaymentNotification(trigger settlement.UntrustedTrigger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload paymentNotificationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := trigger.HandleNotification(r.Context(), settlement.Notification{
			SenderID:  payload.SenderID,
			Forwarded: payload.Forwarded,
			Text:      payload.Text,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func AdminPendingPayouts(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.ListPending(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutResponses(rows))
	}
}

type resolvePayoutRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=paid rejected"`
}

func AdminResolvePayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		payoutID, err := validators.ParsePathID(r, "payoutId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload resolvePayoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		req, err := svc.Resolve(r.Context(), payouts.ResolveInput{
			PayoutID: payoutID,
			AdminID:  adminID,
			Outcome:  enums.PayoutStatus(payload.Outcome),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutResponseFromModel(*req))
	}
}

// AdminDeposit credits a user's balance, e.g. after a manual top-up.
func AdminDeposit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := validators.ParsePathID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deposit(w, r, svc, logg, accountID)
	}
}

type reconcileResponse struct {
	*ledger.Reconciliation
	Consistent bool `json:"consistent"`
}

// AdminReconcile compares an account balance with its transaction log.
func AdminReconcile(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := validators.ParsePathID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rec, err := svc.Reconcile(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reconcileResponse{Reconciliation: rec, Consistent: rec.Consistent()})
	}
}
