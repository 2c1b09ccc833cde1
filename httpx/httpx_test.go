package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pactflow/agreement"
	"pactflow/wallet"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: title required", agreement.ErrInvalidAgreementTerms), http.StatusBadRequest},
		{agreement.ErrConcurrentUpdate, http.StatusBadRequest},
		{wallet.ErrAddressMismatch, http.StatusForbidden},
		{agreement.ErrNotFound, http.StatusNotFound},
		{wallet.ErrSessionExpired, http.StatusUnauthorized},
		{&wallet.ChainCallError{Stage: wallet.StageEstimate, Reason: "incorrect value"}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := Classify(tc.err); got != tc.status {
			t.Errorf("%v: status %d, want %d", tc.err, got, tc.status)
		}
	}
}

func TestWriteDomainError_ChainDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set(RequestIDHeader, "req_fixed")
	WriteDomainError(rec, &wallet.ChainCallError{Stage: wallet.StageExecution, Method: "payRent", Reason: "not active"})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body struct {
		RequestID string `json:"request_id"`
		Error     struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RequestID != "req_fixed" || body.Error.Code != "CHAIN_CALL_FAILED" {
		t.Fatalf("unexpected envelope %+v", body)
	}
	if body.Error.Details["stage"] != "execution" || body.Error.Details["reason"] != "not active" {
		t.Fatalf("unexpected details %+v", body.Error.Details)
	}
}
