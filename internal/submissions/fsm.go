// Package submissions holds the multi-step upload form an author fills in
// before a work reaches moderation.
package submissions

import (
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
)

// Step is the field the form is currently waiting for.
type Step string

const (
	StepTitle       Step = "title"
	StepDescription Step = "description"
	StepPrice       Step = "price"
	StepCategory    Step = "category"
	StepPreview     Step = "preview"
	StepFiles       Step = "files"
	StepConfirm     Step = "confirm"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 4000
	maxFiles          = 20
)

// Session is one author's form in progress.
type Session struct {
	UserID         int64              `json:"user_id"`
	Step           Step               `json:"step"`
	Title          string             `json:"title,omitempty"`
	Description    string             `json:"description,omitempty"`
	Price          money.Amount       `json:"price,omitempty"`
	CategoryID     *int64             `json:"category_id,omitempty"`
	SubcategoryID  *int64             `json:"subcategory_id,omitempty"`
	PreviewImageID string             `json:"preview_image_id,omitempty"`
	Files          []payloads.FileRef `json:"files,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Input is what the author sent for the current step. Only the fields that
// step reads are consulted.
type Input struct {
	Text          string            `json:"text"`
	CategoryID    *int64            `json:"category_id"`
	SubcategoryID *int64            `json:"subcategory_id"`
	PreviewID     string            `json:"preview_id"`
	File          *payloads.FileRef `json:"file"`
	Skip          bool              `json:"skip"`
	Done          bool              `json:"done"`
}

// NewSession starts an empty form at the title step.
func NewSession(userID int64, now time.Time) *Session {
	return &Session{UserID: userID, Step: StepTitle, UpdatedAt: now}
}

// Advance applies in to the current step and moves to the next one. A failed
// step leaves the session unchanged.
func (s *Session) Advance(in Input, now time.Time) error {
	switch s.Step {
	case StepTitle:
		title := strings.TrimSpace(in.Text)
		if title == "" || len([]rune(title)) > maxTitleLen {
			return invalid("title is required and must be at most 200 characters")
		}
		s.Title = title
		s.Step = StepDescription
	case StepDescription:
		description := strings.TrimSpace(in.Text)
		if len([]rune(description)) > maxDescriptionLen {
			return invalid("description is too long")
		}
		s.Description = description
		s.Step = StepPrice
	case StepPrice:
		price, err := money.Parse(strings.TrimSpace(in.Text))
		if err != nil || price <= 0 {
			return invalid("price must be a positive amount")
		}
		s.Price = price
		s.Step = StepCategory
	case StepCategory:
		if in.CategoryID == nil || *in.CategoryID <= 0 {
			return invalid("category is required")
		}
		s.CategoryID = in.CategoryID
		s.SubcategoryID = in.SubcategoryID
		s.Step = StepPreview
	case StepPreview:
		preview := strings.TrimSpace(in.PreviewID)
		if preview == "" && !in.Skip {
			return invalid("send a preview image or skip")
		}
		s.PreviewImageID = preview
		s.Step = StepFiles
	case StepFiles:
		if in.File != nil {
			if strings.TrimSpace(in.File.FileID) == "" {
				return invalid("file reference is empty")
			}
			if len(s.Files) >= maxFiles {
				return invalid("at most 20 files per work")
			}
			s.Files = append(s.Files, *in.File)
		}
		if in.Done {
			if len(s.Files) == 0 {
				return invalid("attach at least one file")
			}
			s.Step = StepConfirm
		}
	case StepConfirm:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "form is complete, submit or cancel it")
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "unknown form step")
	}
	s.UpdatedAt = now
	return nil
}

// Complete reports whether the form can be handed to the catalog.
func (s *Session) Complete() bool {
	return s.Step == StepConfirm
}

func invalid(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}
