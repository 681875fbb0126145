package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"paygate/internal/types"
)

func TestJSON_WritesBodyAndContentType(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(rr, req, http.StatusOK, map[string]string{"hello": "world"})

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"hello":"world"}` {
		t.Errorf("body = %s", got)
	}
}

func TestError_AppErrorMapsStatusAndCode(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(rr, req, types.NewAppError(types.ErrCodeValidationInvalidEmail, "bad email", nil))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeValidationInvalidEmail) {
		t.Errorf("code = %q", resp.Error.Code)
	}
	if resp.Paid != nil {
		t.Error("plain Error must not set the paid flag")
	}
}

func TestError_GenericErrorIs500(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(rr, req, errors.New("something broke"))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestErrorNotPaid_SetsPaidFalse(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	ErrorNotPaid(rr, req, types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Paid == nil || *resp.Paid {
		t.Error("expected paid:false in the error envelope")
	}
}

func TestDecodeJSON_Valid(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@example.com"}`))

	var dst struct {
		Email string `json:"email"`
	}
	if err := DecodeJSON(rr, req, &dst); err != nil {
		t.Fatalf("DecodeJSON() returned error: %v", err)
	}
	if dst.Email != "a@example.com" {
		t.Errorf("email = %q", dst.Email)
	}
}

func TestDecodeJSON_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{not json`},
		{"empty", ``},
		{"unknown field", `{"email":"a@example.com","bogus":1}`},
		{"multiple values", `{"email":"a@example.com"}{"email":"b@example.com"}`},
		{"wrong type", `{"email":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst struct {
				Email string `json:"email"`
			}
			err := DecodeJSON(rr, req, &dst)
			if err == nil {
				t.Fatal("expected error")
			}

			appErr, ok := err.(*types.AppError)
			if !ok {
				t.Fatalf("error type = %T, want *types.AppError", err)
			}
			if appErr.Code != types.ErrCodeValidationInvalidJSON {
				t.Errorf("code = %q, want %q", appErr.Code, types.ErrCodeValidationInvalidJSON)
			}
		})
	}
}
