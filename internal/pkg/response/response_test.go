package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "tariff-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{xerrors.ErrValidation, http.StatusBadRequest},
		{xerrors.ErrMultiCategoryDemo, http.StatusBadRequest},
		{fmt.Errorf("subscription 4: %w", xerrors.ErrNotFound), http.StatusNotFound},
		{xerrors.ErrConflict, http.StatusConflict},
		{xerrors.ErrTrialAlreadyUsed, http.StatusConflict},
		{xerrors.ErrInvalidState, http.StatusUnprocessableEntity},
		{xerrors.ErrUnauthorized, http.StatusUnauthorized},
		{xerrors.ErrForbidden, http.StatusForbidden},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestFromErrorHidesStorageFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	FromError(c, "failed to activate", xerrors.Fail(errors.New("pq: relation missing"), "activate"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "operation_failed", body.Code)
	assert.NotContains(t, body.Error, "relation")
	assert.True(t, c.IsAborted())
}

func TestFromErrorCarriesCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	FromError(c, "failed to request subscription", xerrors.Wrap(xerrors.ErrTrialAlreadyUsed, "user 3"))

	require.Equal(t, http.StatusConflict, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "trial_already_used", body.Code)
}
