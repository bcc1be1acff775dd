package validation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
)

// BindAndValidate binds JSON body into `out` and runs validation. An empty
// body is accepted when allowEmpty is set, leaving out at its zero value.
// If binding or validation fails, it writes a 400 response and returns an
// error for the handler to short-circuit.
func BindAndValidate(c *gin.Context, out any, v *validatorv10.Validate, allowEmpty bool) error {
	if !(allowEmpty && c.Request.ContentLength == 0) {
		if err := c.ShouldBindJSON(out); err != nil {
			abort(c, apperrors.BadInput("invalid request body: "+err.Error(), nil))
			return err
		}
	}
	return validate(c, out, v)
}

// BindURIAndValidate binds path parameters into `out` and validates them.
func BindURIAndValidate(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := c.ShouldBindUri(out); err != nil {
		abort(c, apperrors.BadInput("invalid path: "+err.Error(), nil))
		return err
	}
	return validate(c, out, v)
}

func validate(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := v.Struct(out); err != nil {
		abort(c, apperrors.BadInput("validation failed", map[string]any{"fields": validationErrorsToMap(err)}))
		return err
	}
	return nil
}

func abort(c *gin.Context, err error) {
	code, body := apperrors.Response(err)
	if code == 0 {
		code = http.StatusBadRequest
	}
	c.AbortWithStatusJSON(code, body)
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
