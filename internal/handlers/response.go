package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/patternos/patternos-backend/internal/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError maps the engine error kinds onto HTTP statuses.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apierr.KindOf(err) {
	case apierr.KindValidation:
		status = http.StatusBadRequest
	case apierr.KindNotFound:
		status = http.StatusNotFound
	case apierr.KindConflict:
		status = http.StatusConflict
	case apierr.KindTransient, apierr.KindUnavailable:
		status = http.StatusServiceUnavailable
	case apierr.KindIntegrity:
		status = http.StatusInternalServerError
	}

	msg := "unknown error"
	code := ""
	if err != nil {
		msg = err.Error()
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		code = ae.Code
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
			Kind:    string(apierr.KindOf(err)),
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
