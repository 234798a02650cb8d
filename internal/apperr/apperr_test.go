package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UsesCatalogStatusAndMessage(t *testing.T) {
	e := New(CodeInvalidCredential, "")
	assert.Equal(t, http.StatusUnauthorized, e.Status)
	assert.Equal(t, "invalid credential", e.Message)

	e = New(CodeRateLimited, "slow down")
	assert.Equal(t, http.StatusTooManyRequests, e.Status)
	assert.Equal(t, "slow down", e.Message)
}

func TestNew_UnknownCodeIsInternal(t *testing.T) {
	e := New(Code("nope"), "")
	assert.Equal(t, http.StatusInternalServerError, e.Status)
}

func TestWrap_KeepsCauseOutOfBody(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:5432: connection refused")
	e := Wrap(CodeCredentialLookupFailed, "", cause)

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "connection refused")

	body := e.ToBody()
	assert.Equal(t, CodeCredentialLookupFailed, body.Error.Code)
	assert.NotContains(t, body.Error.Message, "connection refused")
}

func TestIs_MatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", New(CodeInvalidCredential, "token expired"))

	assert.True(t, errors.Is(wrapped, New(CodeInvalidCredential, "")))
	assert.False(t, errors.Is(wrapped, New(CodeCredentialLookupFailed, "")))
	assert.True(t, HasCode(wrapped, CodeInvalidCredential))
}

func TestWithMetadata_DoesNotMutateOriginal(t *testing.T) {
	base := New(CodeRateLimited, "")
	withMeta := base.WithMetadata("retry_after_ms", int64(250))

	require.NotNil(t, withMeta.Metadata)
	assert.Equal(t, int64(250), withMeta.Metadata["retry_after_ms"])
	assert.Nil(t, base.Metadata)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(CodeWriterClosed))
	assert.Equal(t, http.StatusForbidden, StatusOf(CodeOriginNotAllowed))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(Code("unknown")))
}
