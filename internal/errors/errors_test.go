package appErrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderStatusErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{401, ErrProviderAuth},
		{403, ErrProviderAuth},
		{429, ErrProviderTransport},
		{502, ErrProviderTransport},
		{422, ErrProviderRejected},
	}
	for _, tc := range cases {
		err := NewProviderStatusError("postmark", tc.status, "boom")
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestProviderErrorWrapped(t *testing.T) {
	err := fmt.Errorf("send: %w", NewProviderTransportError("ses", errors.New("dial tcp")))

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError in chain")
	}
	if pe.Provider != "ses" {
		t.Errorf("expected provider ses, got %s", pe.Provider)
	}
	if errors.Is(err, ErrProviderAuth) {
		t.Errorf("transport error must not match auth")
	}
}

func TestTypedErrorsAs(t *testing.T) {
	var q *ErrQuotaExceeded
	if !errors.As(NewQuotaExceeded(3, 500), &q) || q.Requested != 500 {
		t.Errorf("expected quota error with 500 requested")
	}

	var ts *ErrTenantScopeViolation
	if !errors.As(NewTenantScopeViolation("campaigns.get", 0), &ts) {
		t.Errorf("expected tenant scope violation")
	}

	if !errors.Is(NewMessageIDResolution("postal"), ErrMessageIDResolution) {
		t.Errorf("expected message id resolution sentinel")
	}
}
