package payloads

import (
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
)

// FileRef is an opaque artifact reference plus the display name shown to buyers.
type FileRef struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
}

// Fulfillment is everything the chat gateway needs to deliver a settled
// purchase: the files for the buyer and the sale notice for the author.
type Fulfillment struct {
	PurchaseID   string              `json:"purchase_id"`
	WorkID       int64               `json:"work_id"`
	Title        string              `json:"title"`
	BuyerID      int64               `json:"buyer_id"`
	AuthorID     int64               `json:"author_id"`
	Price        money.Amount        `json:"price"`
	AuthorIncome money.Amount        `json:"author_income"`
	Funding      enums.FundingSource `json:"funding"`
	Files        []FileRef           `json:"files"`
}

// Publication is the channel post queued when a work is approved.
type Publication struct {
	WorkID      int64        `json:"work_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Price       money.Amount `json:"price"`
	PreviewRef  string       `json:"preview_ref,omitempty"`
}

// WorkSubmitted notifies administrators that a work awaits moderation.
type WorkSubmitted struct {
	WorkID   int64        `json:"work_id"`
	AuthorID int64        `json:"author_id"`
	Title    string       `json:"title"`
	Price    money.Amount `json:"price"`
}

// WorkRejected notifies the author that moderation declined their work.
type WorkRejected struct {
	WorkID   int64  `json:"work_id"`
	AuthorID int64  `json:"author_id"`
	Title    string `json:"title"`
}

// PayoutRequested notifies administrators of a new withdrawal request.
type PayoutRequested struct {
	PayoutID   int64        `json:"payout_id"`
	UserID     int64        `json:"user_id"`
	Amount     money.Amount `json:"amount"`
	Requisites string       `json:"requisites,omitempty"`
}

// PayoutResolved tells the author how their request ended.
type PayoutResolved struct {
	PayoutID int64              `json:"payout_id"`
	UserID   int64              `json:"user_id"`
	Amount   money.Amount       `json:"amount"`
	Status   enums.PayoutStatus `json:"status"`
}
