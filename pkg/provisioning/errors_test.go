package provisioning

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteError_MatchesItsClassAndCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")
	err := transientError("jobCollections/jc", cause)

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "jobCollections/jc")
}

func TestWireCodes_RoundTrip(t *testing.T) {
	t.Parallel()
	kinds := []error{ErrQuotaExceeded, ErrAuthorization, ErrCollectionNotFound, ErrNotFound, ErrTransient, ErrRemoteValidation}
	for _, kind := range kinds {
		code := CodeForKind(kind)
		require.NotEqual(t, CodeInternalError, code, "kind %v", kind)
		assert.Equal(t, kind, KindForCode(code))
		assert.NotEqual(t, http.StatusOK, StatusForCode(code))
	}

	assert.Nil(t, KindForCode("SomethingNew"))
	assert.Equal(t, http.StatusInternalServerError, StatusForCode("SomethingNew"))
	assert.Equal(t, http.StatusConflict, StatusForCode(CodeQuotaExceeded))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ErrCollectionNotFound, classifyStatus(http.StatusNotFound, true))
	assert.Equal(t, ErrNotFound, classifyStatus(http.StatusNotFound, false))
	assert.Equal(t, ErrAuthorization, classifyStatus(http.StatusUnauthorized, false))
	assert.Equal(t, ErrTransient, classifyStatus(http.StatusBadGateway, false))
	assert.Equal(t, ErrTransient, classifyStatus(http.StatusRequestTimeout, false))
	assert.Equal(t, ErrRemoteValidation, classifyStatus(http.StatusUnprocessableEntity, false))
}
