package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "carebase/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "internal", body["error"])
		assert.NotContains(t, body, "error_description")
	})

	t.Run("uncoded error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, assert.AnError)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "bad_request", body.Error)
		assert.Equal(t, "invalid input", body.ErrorDescription)
	})

	t.Run("status mapping", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, StatusFor(dErrors.CodeNotFound))
		assert.Equal(t, http.StatusConflict, StatusFor(dErrors.CodeConcurrencyConflict))
		assert.Equal(t, http.StatusBadGateway, StatusFor(dErrors.CodeExternalDependency))
		assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(dErrors.CodeProjection))
	})
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Reason string `json:"reason"`
	}

	got, err := DecodeJSON[body](httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"dup"}`)))
	require.NoError(t, err)
	assert.Equal(t, "dup", got.Reason)

	_, err = DecodeJSON[body](httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`)))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = DecodeJSON[body](httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``)))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}
