package handler_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/handler"
)

type checkoutRequest struct {
	PlanKey string `json:"planKey"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handler.ErrorDetail {
	t.Helper()
	var env handler.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestWrap_JSON(t *testing.T) {
	t.Parallel()

	h := handler.Wrap(func(ctx handler.Context, req checkoutRequest) handler.Response {
		if req.PlanKey == "" {
			verr := handler.ValidationError{}
			verr.Add("planKey", "is required")
			return handler.Error(verr)
		}
		return handler.JSON(map[string]string{"plan": req.PlanKey})
	}, handler.WithBinders[checkoutRequest](handler.BindJSON))

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"planKey":"pro"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"plan":"pro"}`, rec.Body.String())
	})

	t.Run("validation error", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/", nil))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		detail := decodeError(t, rec)
		assert.Equal(t, "validation_error", detail.Code)
		assert.Equal(t, []string{"is required"}, detail.Details["planKey"])
	})

	tests := map[string]struct {
		body        string
		contentType string
		code        int
		key         string
	}{
		"unknown field":   {body: `{"plan":"pro"}`, contentType: "application/json", code: http.StatusBadRequest, key: "bad_request"},
		"malformed":       {body: `{"planKey":`, contentType: "application/json", code: http.StatusBadRequest, key: "bad_request"},
		"trailing data":   {body: `{"planKey":"pro"}{}`, contentType: "application/json", code: http.StatusBadRequest, key: "bad_request"},
		"wrong media":     {body: `planKey=pro`, contentType: "application/x-www-form-urlencoded", code: http.StatusUnsupportedMediaType, key: "unsupported_media_type"},
		"too large":       {body: `{"planKey":"` + strings.Repeat("a", handler.DefaultMaxJSONSize) + `"}`, contentType: "application/json", code: http.StatusRequestEntityTooLarge, key: "request_entity_too_large"},
		"charset allowed": {body: `{"planKey":"pro"}`, contentType: "application/json; charset=utf-8", code: http.StatusOK},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			h(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.key != "" {
				assert.Equal(t, tt.key, decodeError(t, rec).Code)
			}
		})
	}
}

func TestWrap_Errors(t *testing.T) {
	t.Parallel()

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()
		h := handler.Wrap(func(handler.Context, struct{}) handler.Response { return nil })
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal_error", decodeError(t, rec).Code)
	})

	t.Run("internal details are hidden", func(t *testing.T) {
		t.Parallel()
		h := handler.Wrap(func(handler.Context, struct{}) handler.Response {
			return handler.Error(errors.New("pq: password authentication failed"))
		})
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "password")
	})

	t.Run("http error with message", func(t *testing.T) {
		t.Parallel()
		h := handler.Wrap(func(handler.Context, struct{}) handler.Response {
			return handler.Error(errors.Join(errors.New("lookup"), handler.ErrNotFound.WithMessage("no subscription")))
		})
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		detail := decodeError(t, rec)
		assert.Equal(t, "not_found", detail.Code)
		assert.Equal(t, "no subscription", detail.Message)
	})

	t.Run("custom error handler and decorators", func(t *testing.T) {
		t.Parallel()
		var order []string
		deco := func(name string) handler.Decorator[struct{}] {
			return func(next handler.HandlerFunc[struct{}]) handler.HandlerFunc[struct{}] {
				return func(ctx handler.Context, req struct{}) handler.Response {
					order = append(order, name)
					return next(ctx, req)
				}
			}
		}
		bindErr := errors.New("bind failed")
		h := handler.Wrap(func(handler.Context, struct{}) handler.Response {
			return handler.JSON("ok")
		},
			handler.WithDecorators(deco("outer"), deco("inner")),
			handler.WithBinders[struct{}](func(r *http.Request, _ any) error {
				if r.URL.Query().Get("fail") != "" {
					return bindErr
				}
				return nil
			}),
			handler.WithErrorHandler[struct{}](func(ctx handler.Context, err error) {
				assert.ErrorIs(t, err, bindErr)
				ctx.ResponseWriter().WriteHeader(http.StatusTeapot)
			}),
		)

		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"outer", "inner"}, order)

		rec = httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/?fail=1", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})
}
