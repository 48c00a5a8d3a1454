package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/apperr"
)

type errorResponse struct {
	Error string `json:"error"`
}

// httpStatus maps the error taxonomy to a status code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrExternalIntegration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := httpStatus(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Int("status", code).Msg("request failed")
		if code == http.StatusInternalServerError {
			msg = "internal error"
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorResponse{Error: msg})
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to write error response")
	}
}

type requestValidator struct {
	v *validator.Validate
}

// newValidator reports fields by their JSON names.
func newValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

func (rv *requestValidator) Validate(i interface{}) error {
	if err := rv.v.Struct(i); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return apperr.Validation("field %s failed %s", f.Field(), f.Tag())
		}
		return apperr.Validation("%v", err)
	}
	return nil
}

// bind decodes and validates a request body.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("malformed request body")
	}
	return c.Validate(req)
}
