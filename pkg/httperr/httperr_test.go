package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestKindHelpers(t *testing.T) {
	err := StateConflict("already completed")
	require.True(t, IsKind(err, KindStateConflict))
	require.False(t, IsKind(err, KindNotFound))
	require.False(t, IsKind(errors.New("plain"), KindStateConflict))

	t.Run("wrapped errors still match", func(t *testing.T) {
		wrapped := fmt.Errorf("completing: %w", NotFound("document not found"))
		require.True(t, IsKind(wrapped, KindNotFound))

		e, ok := AsE(wrapped)
		require.True(t, ok)
		require.Equal(t, KindNotFound, e.Kind)
		require.Equal(t, "document not found", e.Message)

		_, ok = AsE(errors.New("plain"))
		require.False(t, ok)
	})
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)

	respond := func(err error) (*httptest.ResponseRecorder, map[string]any) {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		Respond(c, err)
		body := map[string]any{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec, body
	}

	cases := []struct {
		err    error
		status int
	}{
		{Validation("bad input", nil), http.StatusBadRequest},
		{NotFound("gone"), http.StatusNotFound},
		{Forbidden("not yours"), http.StatusForbidden},
		{StateConflict("wrong state"), http.StatusConflict},
		{External("payment rejected"), http.StatusPaymentRequired},
		{Render("pdf backend failed"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec, body := respond(tc.err)
		require.Equal(t, tc.status, rec.Code)
		require.Equal(t, tc.err.(*E).Message, body["error"])
		require.Equal(t, string(tc.err.(*E).Kind), body["code"])
	}

	t.Run("details pass through", func(t *testing.T) {
		_, body := respond(Validation("missing fields", map[string]any{"unsigned_field_ids": []string{"f1"}}))
		details := body["details"].(map[string]any)
		require.Equal(t, []any{"f1"}, details["unsigned_field_ids"])
	})

	t.Run("unknown errors stay opaque", func(t *testing.T) {
		rec, body := respond(errors.New("pq: connection refused"))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, "internal server error", body["error"])
		require.NotContains(t, body, "details")
	})
}
