package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-checkout/internal/common"
)

const testSecret = "test-secret-value"

func signHS256(t *testing.T, subject string, mutate func(jwt.Token)) string {
	t.Helper()
	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.SubjectKey, subject))
	require.NoError(t, tok.Set(jwt.IssuerKey, "https://id.example.com"))
	require.NoError(t, tok.Set(jwt.AudienceKey, []string{"storefront"}))
	require.NoError(t, tok.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	if mutate != nil {
		mutate(tok)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	require.NoError(t, err)
	return string(signed)
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewHMACVerifier(testSecret, TokenValidator{
		Issuer:    "https://id.example.com",
		Audience:  "storefront",
		ClockSkew: time.Second,
	})
	require.NoError(t, err)
	return v
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	v := newTestVerifier(t)
	subject, err := v.ParseAccessToken(signHS256(t, "user-1", nil))
	require.NoError(t, err)
	require.Equal(t, "user-1", subject)
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	v := newTestVerifier(t)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      signHS256(t, "user-1", func(tok jwt.Token) { _ = tok.Set(jwt.ExpirationKey, time.Now().Add(-time.Hour)) }),
		"wrong issuer": signHS256(t, "user-1", func(tok jwt.Token) { _ = tok.Set(jwt.IssuerKey, "https://evil.example.com") }),
		"wrong aud":    signHS256(t, "user-1", func(tok jwt.Token) { _ = tok.Set(jwt.AudienceKey, []string{"admin"}) }),
		"no subject":   signHS256(t, "", nil),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ParseAccessToken(token)
			require.Error(t, err)
			var appErr *common.AppError
			require.True(t, errors.As(err, &appErr))
			require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
		})
	}
}

func TestVerifierRejectsOtherSecret(t *testing.T) {
	other, err := NewHMACVerifier("another-secret", TokenValidator{})
	require.NoError(t, err)
	_, err = other.ParseAccessToken(signHS256(t, "user-1", nil))
	require.Error(t, err)
}

func TestTokenValidatorRejectsUnexpectedAlgorithm(t *testing.T) {
	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.SubjectKey, "user-1"))
	v := TokenValidator{Algorithms: []jwa.SignatureAlgorithm{jwa.RS256}}
	require.Error(t, v.Validate(tok, jwa.HS256, time.Now()))
	require.NoError(t, v.Validate(tok, jwa.RS256, time.Now()))
}

func TestRequireAuthSetsUserID(t *testing.T) {
	mw := Middleware{Tokens: newTestVerifier(t)}
	var seen string
	h := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/quote", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, "user-42", nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "user-42", seen)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	mw := Middleware{Tokens: newTestVerifier(t)}
	h := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/quote", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}
