package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredMissing_Envelope(t *testing.T) {
	err := RequiredMissing("create", []string{"short_description"})

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich), "expected go-errors envelope, got %T", err)
	assert.Equal(t, goerrors.CategoryValidation, rich.Category)
	assert.Equal(t, TextRequiredMissing, rich.TextCode)
	assert.Contains(t, rich.Error(), "short_description")
}

func TestPlatform_WrapsSource(t *testing.T) {
	err := Platform(errors.New("connection reset"), "servicenow", "create", 503)

	code, body := Response(err)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, TextPlatformFailure, body["error"])
	assert.True(t, IsCategory(err, goerrors.CategoryExternal))
}

func TestResponse_PlainErrorIsInternal(t *testing.T) {
	code, body := Response(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, TextInternal, body["error"])
}

func TestIsNotFound_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("fetch incident: %w", NotFound("incident not found", map[string]any{"id": "01H"}))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(BadInput("bad", nil)))

	code, _ := Response(BadInput("bad", nil))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTextCode(t *testing.T) {
	assert.Equal(t, TextConfigInvalid, TextCode(fmt.Errorf("load: %w", Config("bad", nil))))
	assert.Equal(t, "", TextCode(errors.New("plain")))
}
