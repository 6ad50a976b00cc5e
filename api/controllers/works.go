package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/scholarmarket-backend/api/middleware"
	"github.com/angelmondragon/scholarmarket-backend/api/responses"
	"github.com/angelmondragon/scholarmarket-backend/api/validators"
	"github.com/angelmondragon/scholarmarket-backend/internal/catalog"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/scholarmarket-backend/pkg/pagination"
)

type workListResponse struct {
	Works      []workResponse `json:"works"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ListCategories returns top-level categories, or the children of ?parent_id.
func ListCategories(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, err := validators.ParseQueryID(r, "parent_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListCategories(r.Context(), parentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]categoryResponse, 0, len(rows))
		for _, c := range rows {
			out = append(out, categoryResponse{ID: c.ID, Name: c.Name, ParentID: c.ParentID})
		}
		responses.WriteSuccess(w, out)
	}
}

// ListCategoryWorks pages through approved works of a category or subcategory.
func ListCategoryWorks(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categoryID, err := validators.ParsePathID(r, "categoryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListApproved(r.Context(), categoryID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, workListResponse{Works: workResponses(page.Works), NextCursor: page.NextCursor})
	}
}

// GetWork shows a work. Unapproved works are visible only to their author and
// administrators, and file references never leave through this route for
// anyone else.
func GetWork(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workID, err := validators.ParsePathID(r, "workId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), workID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		privileged := middleware.RoleFromContext(r.Context()) == enums.RoleAdmin ||
			middleware.UserIDFromContext(r.Context()) == detail.Work.AuthorID
		if detail.Work.Status != enums.WorkStatusApproved && !privileged {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "work not found"))
			return
		}

		resp := workResponseFromModel(detail.Work)
		if privileged {
			resp.Files = detail.Files
		}
		responses.WriteSuccess(w, resp)
	}
}

type submitWorkRequest struct {
	Title          string             `json:"title" validate:"required,max=200"`
	Description    string             `json:"description" validate:"max=4000"`
	Price          money.Amount       `json:"price" validate:"gt=0"`
	CategoryID     *int64             `json:"category_id"`
	SubcategoryID  *int64             `json:"subcategory_id"`
	PreviewImageID string             `json:"preview_image_id"`
	Files          []payloads.FileRef `json:"files" validate:"required,min=1,max=20"`
}

// SubmitWork queues a fully described work for moderation in one call.
func SubmitWork(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		var payload submitWorkRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		work, err := svc.Submit(r.Context(), catalog.SubmitInput{
			AuthorID:       userID,
			AuthorUsername: middleware.UsernameFromContext(r.Context()),
			Title:          payload.Title,
			Description:    payload.Description,
			Price:          payload.Price,
			CategoryID:     payload.CategoryID,
			SubcategoryID:  payload.SubcategoryID,
			PreviewImageID: strings.TrimSpace(payload.PreviewImageID),
			Files:          payload.Files,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, workResponseFromModel(*work))
	}
}

// DeleteWork hides the caller's own work from listings.
func DeleteWork(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		workID, err := validators.ParsePathID(r, "workId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SoftDelete(r.Context(), workID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
