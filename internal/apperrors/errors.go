// Package apperrors builds the go-errors envelopes returned across package
// boundaries and maps them to HTTP responses.
package apperrors

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextConfigInvalid   = "BRIDGE_CONFIG_INVALID"
	TextRequiredMissing = "BRIDGE_REQUIRED_FIELD_MISSING"
	TextPlatformFailure = "BRIDGE_PLATFORM_FAILURE"
	TextNotFound        = "BRIDGE_NOT_FOUND"
	TextBadInput        = "BRIDGE_BAD_INPUT"
	TextInternal        = "BRIDGE_INTERNAL_ERROR"
)

// Config reports a configuration problem. These abort startup.
func Config(message string, metadata map[string]any) error {
	return build(goerrors.New(message, goerrors.CategoryBadInput), http.StatusInternalServerError, TextConfigInvalid, metadata)
}

// WrapConfig wraps a lower level error (file read, YAML parse) as a configuration error.
func WrapConfig(source error, message string, metadata map[string]any) error {
	if source == nil {
		return Config(message, metadata)
	}
	return build(goerrors.Wrap(source, goerrors.CategoryBadInput, message), http.StatusInternalServerError, TextConfigInvalid, metadata)
}

// RequiredMissing reports that a sync aborted because required destination
// fields could not be produced.
func RequiredMissing(operation string, fields []string) error {
	return build(
		goerrors.New("required fields missing for "+operation+": "+strings.Join(fields, ", "), goerrors.CategoryValidation),
		http.StatusInternalServerError,
		TextRequiredMissing,
		map[string]any{"operation": operation, "fields": fields},
	)
}

// Platform wraps a failed call to ServiceNow or the incident platform.
func Platform(source error, platform, operation string, status int) error {
	metadata := map[string]any{"platform": platform, "operation": operation}
	if status > 0 {
		metadata["upstream_status"] = status
	}
	message := platform + ": " + operation + " failed"
	if source == nil {
		return build(goerrors.New(message, goerrors.CategoryExternal), http.StatusBadGateway, TextPlatformFailure, metadata)
	}
	return build(goerrors.Wrap(source, goerrors.CategoryExternal, message), http.StatusBadGateway, TextPlatformFailure, metadata)
}

// NotFound reports a record missing upstream.
func NotFound(message string, metadata map[string]any) error {
	return build(goerrors.New(message, goerrors.CategoryNotFound), http.StatusNotFound, TextNotFound, metadata)
}

// BadInput reports a malformed inbound request.
func BadInput(message string, metadata map[string]any) error {
	return build(goerrors.New(message, goerrors.CategoryBadInput), http.StatusBadRequest, TextBadInput, metadata)
}

// Internal reports an unexpected failure.
func Internal(source error, message string) error {
	if source == nil {
		return build(goerrors.New(message, goerrors.CategoryInternal), http.StatusInternalServerError, TextInternal, nil)
	}
	return build(goerrors.Wrap(source, goerrors.CategoryInternal, message), http.StatusInternalServerError, TextInternal, nil)
}

func build(err *goerrors.Error, code int, textCode string, metadata map[string]any) error {
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// IsCategory reports whether err carries a go-errors envelope of the category.
func IsCategory(err error, category goerrors.Category) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.Category == category
}

// TextCode returns the envelope's text code, or "" for plain errors.
func TextCode(err error) string {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return ""
	}
	return rich.TextCode
}

// IsNotFound reports whether err is a not-found envelope.
func IsNotFound(err error) bool {
	return IsCategory(err, goerrors.CategoryNotFound)
}

// Response converts any error into the status code and JSON body used by the
// HTTP handlers. Errors without an envelope become internal errors.
func Response(err error) (int, map[string]any) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return http.StatusInternalServerError, map[string]any{
			"error":  TextInternal,
			"detail": err.Error(),
		}
	}
	code := rich.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	textCode := rich.TextCode
	if textCode == "" {
		textCode = TextInternal
	}
	body := map[string]any{
		"error":  textCode,
		"detail": rich.Error(),
	}
	if len(rich.Metadata) > 0 {
		body["metadata"] = rich.Metadata
	}
	return code, body
}
