package controllers

import (
	"time"

	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
)

type workResponse struct {
	ID             int64              `json:"id"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Price          money.Amount       `json:"price"`
	AuthorIncome   money.Amount       `json:"author_income"`
	CategoryID     *int64             `json:"category_id,omitempty"`
	SubcategoryID  *int64             `json:"subcategory_id,omitempty"`
	AuthorID       int64              `json:"author_id"`
	PreviewImageID string             `json:"preview_image_id,omitempty"`
	TimesSold      int64              `json:"times_sold"`
	Status         enums.WorkStatus   `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	Files          []payloads.FileRef `json:"files,omitempty"`
}

func workResponseFromModel(w models.Work) workResponse {
	return workResponse{
		ID:             w.ID,
		Title:          w.Title,
		Description:    w.Description,
		Price:          money.Amount(w.Price),
		AuthorIncome:   money.Amount(w.AuthorIncome),
		CategoryID:     w.CategoryID,
		SubcategoryID:  w.SubcategoryID,
		AuthorID:       w.AuthorID,
		PreviewImageID: w.PreviewImageID,
		TimesSold:      w.TimesSold,
		Status:         w.Status,
		CreatedAt:      w.CreatedAt,
	}
}

func workResponses(works []models.Work) []workResponse {
	out := make([]workResponse, 0, len(works))
	for _, w := range works {
		out = append(out, workResponseFromModel(w))
	}
	return out
}

type categoryResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

type purchaseResponse struct {
	ID          string               `json:"id"`
	WorkID      int64                `json:"work_id"`
	BuyerID     int64                `json:"buyer_id"`
	Amount      money.Amount         `json:"amount"`
	Funding     enums.FundingSource  `json:"funding"`
	Status      enums.PurchaseStatus `json:"status"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func purchaseResponseFromModel(p models.Purchase) purchaseResponse {
	return purchaseResponse{
		ID:          p.ID,
		WorkID:      p.WorkID,
		BuyerID:     p.BuyerID,
		Amount:      money.Amount(p.Amount),
		Funding:     p.Funding,
		Status:      p.Status,
		CompletedAt: p.CompletedAt,
		CreatedAt:   p.CreatedAt,
	}
}

type payoutResponse struct {
	ID         int64              `json:"id"`
	UserID     int64              `json:"user_id"`
	Amount     money.Amount       `json:"amount"`
	Requisites string             `json:"requisites,omitempty"`
	Status     enums.PayoutStatus `json:"status"`
	ResolvedBy *int64             `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

func payoutResponseFromModel(p models.PayoutRequest) payoutResponse {
	return payoutResponse{
		ID:         p.ID,
		UserID:     p.UserID,
		Amount:     money.Amount(p.Amount),
		Requisites: p.Requisites,
		Status:     p.Status,
		ResolvedBy: p.ResolvedBy,
		ResolvedAt: p.ResolvedAt,
		CreatedAt:  p.CreatedAt,
	}
}

func payoutResponses(rows []models.PayoutRequest) []payoutResponse {
	out := make([]payoutResponse, 0, len(rows))
	for _, p := range rows {
		out = append(out, payoutResponseFromModel(p))
	}
	return out
}

type transactionResponse struct {
	ID         int64                 `json:"id"`
	FromUser   *int64                `json:"from_user,omitempty"`
	ToUser     *int64                `json:"to_user,omitempty"`
	WorkID     *int64                `json:"work_id,omitempty"`
	PurchaseID *string               `json:"purchase_id,omitempty"`
	Amount     money.Amount          `json:"amount"`
	Type       enums.TransactionKind `json:"type"`
	CreatedAt  time.Time             `json:"created_at"`
}

func transactionResponseFromModel(t models.Transaction) transactionResponse {
	return transactionResponse{
		ID:         t.ID,
		FromUser:   t.FromUser,
		ToUser:     t.ToUser,
		WorkID:     t.WorkID,
		PurchaseID: t.PurchaseID,
		Amount:     money.Amount(t.Amount),
		Type:       t.Type,
		CreatedAt:  t.CreatedAt,
	}
}
