package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyLimit(t *testing.T) {
	cases := []struct {
		name          string
		max           int64
		body          string
		contentLength int64
		wantStatus    int
	}{
		{name: "within limit", max: 10, body: "hello", contentLength: 5, wantStatus: http.StatusOK},
		{name: "exactly at limit", max: 5, body: "hello", contentLength: 5, wantStatus: http.StatusOK},
		{name: "oversized body", max: 5, body: "excessive", contentLength: 9, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "declared oversized", max: 5, body: "ok", contentLength: 100, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "chunked oversized", max: 4, body: `{"addressId":"a"}`, contentLength: -1, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "disabled", max: 0, body: strings.Repeat("x", 64), contentLength: 64, wantStatus: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := BodyLimit{Max: tc.max}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				seen = string(data)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/initiate", strings.NewReader(tc.body))
			req.ContentLength = tc.contentLength
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			require.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				require.Equal(t, tc.body, seen)
				return
			}
			require.Contains(t, rr.Body.String(), `"PAYLOAD_TOO_LARGE"`)
			require.Empty(t, seen)
		})
	}
}
