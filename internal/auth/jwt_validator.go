package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	errNoAlgorithm = errors.New("auth: token missing algorithm")
	errNoSubject   = errors.New("auth: token missing subject")
)

// TokenValidator checks claims on a token whose signature is already verified.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	// Algorithms lists accepted signing algorithms. Empty accepts any.
	Algorithms []jwa.SignatureAlgorithm
}

func (v TokenValidator) Validate(tok jwt.Token, alg jwa.SignatureAlgorithm, now time.Time) error {
	switch {
	case tok == nil:
		return errors.New("auth: token is nil")
	case alg == "":
		return errNoAlgorithm
	case len(v.Algorithms) > 0 && !slices.Contains(v.Algorithms, alg):
		return fmt.Errorf("auth: algorithm %s not accepted", alg)
	case tok.Subject() == "":
		return errNoSubject
	}
	return jwt.Validate(tok, v.claimOptions(now)...)
}

// claimOptions always checks exp and nbf against now; iss and aud only when set.
func (v TokenValidator) claimOptions(now time.Time) []jwt.ValidateOption {
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(v.ClockSkew),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	return opts
}
