package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/omnibus_custody/apperr"
)

func TestStatusOf(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:          http.StatusBadRequest,
		apperr.KindNotFound:            http.StatusNotFound,
		apperr.KindConflict:            http.StatusConflict,
		apperr.KindAuthorization:       http.StatusForbidden,
		apperr.KindInsufficientBalance: http.StatusUnprocessableEntity,
		apperr.KindChainFailure:        http.StatusBadGateway,
		apperr.KindPartialCompletion:   http.StatusAccepted,
		apperr.KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, StatusOf(apperr.New(kind, "x", "x")), kind.String())
	}
	require.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}

func render(t *testing.T, err error, data any) (int, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fail(c, err, data)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestFailCarriesPartialResult(t *testing.T) {
	type result struct {
		MoveID string `json:"moveId"`
	}
	err := apperr.Wrap(apperr.KindPartialCompletion, apperr.CodeSecondApprovalFailed, "second approval failed", errors.New("rpc down"))
	code, body := render(t, err, &result{MoveID: "0x01"})

	require.Equal(t, http.StatusAccepted, code)
	require.Equal(t, "second_approval_failed", body["error"])
	require.Equal(t, "second approval failed", body["message"])
	require.Equal(t, map[string]any{"moveId": "0x01"}, body["data"])
}

func TestFailOmitsNilResult(t *testing.T) {
	var res *struct{}
	code, body := render(t, apperr.Conflict(apperr.CodeAlreadyExecuted, "already executed"), res)
	require.Equal(t, http.StatusConflict, code)
	require.NotContains(t, body, "data")
}

func TestFailHidesInternalCause(t *testing.T) {
	code, body := render(t, apperr.Internal("load user", errors.New("dial tcp 10.0.0.5:5432: refused")), nil)
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "internal", body["error"])
	require.Equal(t, "internal error", body["message"])
}
