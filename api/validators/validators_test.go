package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
)

type sampleBody struct {
	Kind    string `json:"kind" validate:"required,oneof=production loss"`
	Bottles *int   `json:"bottles" validate:"omitempty,gte=0"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"kind":"bottling","bottles":-1}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be one of [production loss]", details["kind"])
	assert.Equal(t, "must be greater than or equal to 0", details["bottles"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"kind":"loss","colour":"amber"}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryDate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=2024-02-01&to=02/29/2024", nil)

	from, err := ParseQueryDate(req, "from")
	require.NoError(t, err)
	require.NotNil(t, from)
	assert.Equal(t, "2024-02-01", from.Format("2006-01-02"))

	_, err = ParseQueryDate(req, "to")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	missing, err := ParseQueryDate(req, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRequireQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/?month=2024-03", nil)
	v, err := RequireQuery(req, "month")
	require.NoError(t, err)
	assert.Equal(t, "2024-03", v)

	_, err = RequireQuery(req, "from")
	assert.True(t, pkgerrors.IsInvalidArgument(err))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abcdef ", 3))
	assert.Equal(t, "abcdef", SanitizeString("abcdef", 0))
	assert.Equal(t, "barrel 12", SanitizeString("barrel\x00 12\x07", 0))
	assert.Equal(t, "ñandú", SanitizeString("ñandú proof", 5))
}
