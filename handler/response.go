package handler

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"

	"github.com/omnibus_custody/apperr"
)

// StatusOf maps an error's Kind to the HTTP status returned to callers.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case apperr.KindChainFailure:
		return http.StatusBadGateway
	case apperr.KindPartialCompletion:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, gin.H{"message": message, "data": data})
}

// fail writes err; data is included when the workflow returned a partial
// result alongside it.
func fail(c *gin.Context, err error, data any) {
	status := StatusOf(err)
	body := gin.H{"error": apperr.CodeOf(err), "message": err.Error()}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		body["message"] = ae.Message
	}
	if status == http.StatusInternalServerError {
		body["error"] = apperr.CodeInternal
		body["message"] = "internal error"
	}
	if present(data) {
		body["data"] = data
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

// bind decodes the JSON body into dst and reports a validation error on failure.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, apperr.Validation(apperr.CodeInvalidParameter, err.Error()), nil)
		return false
	}
	return true
}

func present(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() != reflect.Pointer || !rv.IsNil()
}
