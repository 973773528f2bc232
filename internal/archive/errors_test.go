package archive

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyHTTPStatus(t *testing.T) {
	require.Equal(t, KindRateLimited, ClassifyHTTPStatus(http.StatusTooManyRequests))
	require.Equal(t, KindPermanent, ClassifyHTTPStatus(http.StatusBadRequest))
	require.Equal(t, KindPermanent, ClassifyHTTPStatus(http.StatusUnprocessableEntity))
	require.Equal(t, KindTransient, ClassifyHTTPStatus(http.StatusInternalServerError))
	require.Equal(t, KindTransient, ClassifyHTTPStatus(http.StatusBadGateway))
}

func TestErrorKindOfUnwrapsCapabilityErrors(t *testing.T) {
	inner := NewCapabilityError("recognition", KindPermanent, errors.New("bad payload"))
	wrapped := fmt.Errorf("recognize: %w", inner)

	require.Equal(t, KindPermanent, ErrorKindOf(wrapped))
	require.True(t, IsPermanent(wrapped))
	require.False(t, IsRateLimited(wrapped))
}

func TestErrorKindOfDefaultsToTransient(t *testing.T) {
	require.Equal(t, KindTransient, ErrorKindOf(errors.New("connection reset")))
}

func TestIsRateLimited(t *testing.T) {
	err := fmt.Errorf("extract: %w", NewCapabilityError("entity-extraction", KindRateLimited, errors.New("quota")))
	require.True(t, IsRateLimited(err))
	require.False(t, IsPermanent(err))
}

func TestCapabilityErrorMessageAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewCapabilityError("sentiment-classification", KindTransient, inner)
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "sentiment-classification")
	require.Contains(t, err.Error(), "transient")
}
