package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

func TestMetadataForMarketplaceCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeInsufficientFunds, status: http.StatusPaymentRequired, publicMsg: "insufficient funds", detailsOK: true},
		{code: CodeAlreadySettled, status: http.StatusConflict, publicMsg: "purchase already settled", detailsOK: true},
		{code: CodeAlreadyModerated, status: http.StatusConflict, publicMsg: "work already moderated", detailsOK: true},
		{code: CodeAlreadyResolved, status: http.StatusConflict, publicMsg: "payout already resolved", detailsOK: true},
		{code: CodeBusy, status: http.StatusServiceUnavailable, publicMsg: "resource busy, retry later", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("database is locked")
	wrapped := Wrap(CodeBusy, cause, "settle purchase")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeBusy {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}

	detailed := New(CodeInsufficientFunds, "balance too low").WithDetails(map[string]any{"required": "1000.00"})
	if detailed.Details() == nil {
		t.Fatalf("details should be preserved")
	}
}

func TestIsCodeFollowsChain(t *testing.T) {
	err := fmt.Errorf("buy: %w", New(CodeAlreadySettled, "purchase completed"))
	if !IsCode(err, CodeAlreadySettled) {
		t.Fatalf("expected already settled in chain")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatalf("unexpected code match")
	}
	if IsCode(nil, CodeNotFound) {
		t.Fatalf("nil error must not match")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestDumpReadsDriverErrors(t *testing.T) {
	busy := fmt.Errorf("insert work: %w", sqlite3.Error{Code: sqlite3.ErrBusy})
	d := Dump(Wrap(CodeBusy, busy, "database busy"))
	if d.Code != CodeBusy || d.DBDriver != "sqlite" || d.DBCode != "5/0" {
		t.Fatalf("unexpected sqlite dump: %+v", d)
	}

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "purchases_pkey", TableName: "purchases"}
	fields := Dump(fmt.Errorf("create purchase: %w", pgErr)).Fields()
	if fields["db_driver"] != "pgx" || fields["db_constraint"] != "purchases_pkey" {
		t.Fatalf("unexpected pgx fields: %v", fields)
	}
	if _, ok := fields["error_code"]; ok {
		t.Fatalf("untyped error must not carry an error code")
	}
}
