package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInternalAPIKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
	}{
		{"valid key passes", "secret-key", "secret-key", http.StatusOK},
		{"missing key rejected", "secret-key", "", http.StatusUnauthorized},
		{"wrong key rejected", "secret-key", "other-key", http.StatusUnauthorized},
		{"unconfigured key fails closed", "", "anything", http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := InternalAPIKeyMiddleware(tc.configured)(next)

			req := httptest.NewRequest(http.MethodGet, "/clients/abc/transactions", nil)
			if tc.provided != "" {
				req.Header.Set(internalAPIKeyHeader, tc.provided)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
		})
	}
}
