// Package settlement turns inbound payment notifications into purchase
// settlements. Notifications are free text with no signature, so the trust
// decision is limited to who sent or forwarded the message.
package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/angelmondragon/scholarmarket-backend/internal/purchases"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
)

const replayConsumer = "payment-notifications"

// Reasons reported when a notification does not settle anything.
const (
	ReasonSettled         = "settled"
	ReasonKeywordMissing  = "keyword_missing"
	ReasonUntrustedSender = "sender_not_trusted"
	ReasonNoPurchaseID    = "no_purchase_id"
	ReasonDuplicate       = "duplicate"
	ReasonNotFound        = "not_found"
	ReasonAlreadySettled  = "already_settled"
)

var purchaseIDPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// Notification is a payment message as the chat gateway received it.
type Notification struct {
	SenderID  int64
	Forwarded bool
	Text      string
}

// Result describes what a notification did. Matched is true only when it
// settled a purchase.
type Result struct {
	Matched     bool                  `json:"matched"`
	Reason      string                `json:"reason"`
	PurchaseID  string                `json:"purchase_id,omitempty"`
	Fulfillment *payloads.Fulfillment `json:"fulfillment,omitempty"`
}

// UntrustedTrigger settles purchases named by unauthenticated notifications.
type UntrustedTrigger interface {
	HandleNotification(ctx context.Context, n Notification) (*Result, error)
}

type purchaseSettler interface {
	Get(ctx context.Context, purchaseID string) (*models.Purchase, error)
	Settle(ctx context.Context, input purchases.SettleInput) (*payloads.Fulfillment, error)
}

type replayGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, id string) (bool, error)
	Delete(ctx context.Context, consumer string, id string) error
}

// TextTrigger scans notification text for the first purchase id.
type TextTrigger struct {
	purchases purchaseSettler
	admins    map[int64]struct{}
	keyword   string
	guard     replayGuard
	logg      *logger.Logger
}

// Options configure a TextTrigger. An empty Keyword accepts every message; a
// nil Guard disables replay protection.
type Options struct {
	AdminIDs []int64
	Keyword  string
	Guard    replayGuard
	Logger   *logger.Logger
}

func NewTextTrigger(settler purchaseSettler, opts Options) (*TextTrigger, error) {
	if settler == nil {
		return nil, fmt.Errorf("purchase settler required")
	}
	admins := make(map[int64]struct{}, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = struct{}{}
	}
	return &TextTrigger{
		purchases: settler,
		admins:    admins,
		keyword:   strings.TrimSpace(opts.Keyword),
		guard:     opts.Guard,
		logg:      opts.Logger,
	}, nil
}

func (t *TextTrigger) HandleNotification(ctx context.Context, n Notification) (*Result, error) {
	if strings.TrimSpace(n.Text) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification text is required")
	}
	if t.keyword != "" && !strings.Contains(n.Text, t.keyword) {
		return &Result{Reason: ReasonKeywordMissing}, nil
	}
	if _, admin := t.admins[n.SenderID]; !admin && !n.Forwarded {
		t.warn(ctx, n, "payment notification from untrusted sender ignored")
		return &Result{Reason: ReasonUntrustedSender}, nil
	}

	purchaseID := strings.ToLower(purchaseIDPattern.FindString(n.Text))
	if purchaseID == "" {
		return &Result{Reason: ReasonNoPurchaseID}, nil
	}
	res := &Result{PurchaseID: purchaseID}

	digest := fingerprint(n.Text)
	if t.guard != nil {
		seen, err := t.guard.CheckAndMarkProcessed(ctx, replayConsumer, digest)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check notification replay")
		}
		if seen {
			res.Reason = ReasonDuplicate
			return res, nil
		}
	}

	purchase, err := t.purchases.Get(ctx, purchaseID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			res.Reason = ReasonNotFound
			return res, nil
		}
		return nil, t.forget(ctx, digest, err)
	}
	if purchase.Status == enums.PurchaseStatusCompleted {
		res.Reason = ReasonAlreadySettled
		return res, nil
	}

	fulfillment, err := t.purchases.Settle(ctx, purchases.SettleInput{PurchaseID: purchaseID, Proof: n.Text})
	switch {
	case err == nil:
	case pkgerrors.IsCode(err, pkgerrors.CodeAlreadySettled):
		res.Reason = ReasonAlreadySettled
		return res, nil
	default:
		return nil, t.forget(ctx, digest, err)
	}

	res.Matched = true
	res.Reason = ReasonSettled
	res.Fulfillment = fulfillment
	return res, nil
}

// forget clears the replay mark so a retried notification is processed again.
func (t *TextTrigger) forget(ctx context.Context, digest string, cause error) error {
	if t.guard != nil {
		if err := t.guard.Delete(ctx, replayConsumer, digest); err != nil && t.logg != nil {
			t.logg.Error(ctx, "clear notification replay mark", err)
		}
	}
	return cause
}

func (t *TextTrigger) warn(ctx context.Context, n Notification, msg string) {
	if t.logg == nil {
		return
	}
	t.logg.Warn(t.logg.WithUserID(ctx, n.SenderID), msg)
}

func fingerprint(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}
