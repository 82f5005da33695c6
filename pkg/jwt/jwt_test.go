package jwt_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/jwt"
)

func newService(t *testing.T) *jwt.Service {
	t.Helper()
	s, err := jwt.New(jwt.Config{SigningKey: "test-secret", Issuer: "accounts"})
	require.NoError(t, err)
	return s
}

func claimsFor(sub string, exp time.Time) *jwt.Claims {
	return &jwt.Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "accounts",
			ExpiresAt: gojwt.NewNumericDate(exp),
		},
		Email: "buyer@example.com",
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := jwt.New(jwt.Config{})
	assert.ErrorIs(t, err, jwt.ErrMissingSigningKey)
}

func TestService_Parse(t *testing.T) {
	t.Parallel()

	s := newService(t)
	userID := uuid.New()

	token, err := s.Generate(claimsFor(userID.String(), time.Now().Add(time.Hour)))
	require.NoError(t, err)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", claims.Email)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, id)

	tests := map[string]struct {
		token func() string
		err   error
	}{
		"expired": {
			token: func() string {
				tok, _ := s.Generate(claimsFor(userID.String(), time.Now().Add(-time.Hour)))
				return tok
			},
			err: jwt.ErrExpiredToken,
		},
		"wrong key": {
			token: func() string {
				other, _ := jwt.New(jwt.Config{SigningKey: "other"})
				tok, _ := other.Generate(claimsFor(userID.String(), time.Now().Add(time.Hour)))
				return tok
			},
			err: jwt.ErrInvalidToken,
		},
		"wrong issuer": {
			token: func() string {
				c := claimsFor(userID.String(), time.Now().Add(time.Hour))
				c.Issuer = "elsewhere"
				tok, _ := s.Generate(c)
				return tok
			},
			err: jwt.ErrInvalidToken,
		},
		"no expiry": {
			token: func() string {
				tok, _ := s.Generate(&jwt.Claims{RegisteredClaims: gojwt.RegisteredClaims{Subject: userID.String(), Issuer: "accounts"}})
				return tok
			},
			err: jwt.ErrInvalidToken,
		},
		"subject is not a uuid": {
			token: func() string {
				tok, _ := s.Generate(claimsFor("user-1", time.Now().Add(time.Hour)))
				return tok
			},
			err: jwt.ErrInvalidClaims,
		},
		"garbage": {
			token: func() string { return "not.a.token" },
			err:   jwt.ErrInvalidToken,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Parse(tt.token())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	s := newService(t)
	userID := uuid.New()
	token, err := s.Generate(claimsFor(userID.String(), time.Now().Add(time.Hour)))
	require.NoError(t, err)

	handler := jwt.Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := jwt.UserID(r.Context())
		if !ok || id != userID {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := map[string]struct {
		header string
		code   int
	}{
		"valid bearer":      {header: "Bearer " + token, code: http.StatusNoContent},
		"lowercase scheme":  {header: "bearer " + token, code: http.StatusNoContent},
		"missing header":    {header: "", code: http.StatusUnauthorized},
		"basic auth":        {header: "Basic dXNlcjpwYXNz", code: http.StatusUnauthorized},
		"tampered token":    {header: "Bearer " + token + "x", code: http.StatusUnauthorized},
		"scheme without id": {header: "Bearer ", code: http.StatusUnauthorized},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/billing/usage", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestMiddleware_CustomUnauthorized(t *testing.T) {
	t.Parallel()

	var called bool
	mw := jwt.MiddlewareWithConfig(jwt.MiddlewareConfig{
		Service: newService(t),
		Unauthorized: func(w http.ResponseWriter, _ *http.Request, err error) {
			called = true
			assert.ErrorIs(t, err, jwt.ErrInvalidToken)
			w.WriteHeader(http.StatusTeapot)
		},
	})

	rec := httptest.NewRecorder()
	mw(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGetClaims_Empty(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := jwt.GetClaims(req.Context())
	assert.False(t, ok)
	_, ok = jwt.UserID(req.Context())
	assert.False(t, ok)
}
