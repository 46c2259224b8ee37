package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
)

// AccountHeader names the caller directly when no JWT secret is configured.
const AccountHeader = "X-Rental-Account"

var errBadToken = errors.New("invalid bearer token")

// authenticate attaches the caller to the request context. Requests without
// credentials pass through anonymously; the registry rejects anonymous
// mutations with ErrNoCaller.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.caller(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			return
		}
		if caller != "" {
			r = r.WithContext(rental.WithCaller(r.Context(), caller))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) caller(r *http.Request) (asset.AccountID, error) {
	if len(s.secret) == 0 {
		return asset.AccountID(strings.TrimSpace(r.Header.Get(AccountHeader))), nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errBadToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errBadToken
	}
	if claims.Subject == "" {
		return "", errBadToken
	}
	return asset.AccountID(claims.Subject), nil
}
