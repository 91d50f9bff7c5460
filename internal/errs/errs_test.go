package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := New(KindInvalidFilter, "filter nationalId is required")

	assert.True(t, errors.Is(err, InvalidFilter))
	assert.False(t, errors.Is(err, UnknownBackend))
	assert.Equal(t, "filter nationalId is required", err.Error())
}

func TestWrapPreservesExistingKind(t *testing.T) {
	inner := New(KindLowQuality, "quality 5 below 40")
	wrapped := Wrap(fmt.Errorf("gate: %w", inner), KindInternal, "quality gate")

	assert.Equal(t, KindLowQuality, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, LowQuality))
}

func TestWrapPlainError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, KindQualityServiceError, "quality service unavailable")

	assert.True(t, Has(err, KindQualityServiceError))
	assert.ErrorIs(t, err, cause)
}

func TestKindOfUntyped(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestIsMissingSample(t *testing.T) {
	assert.True(t, IsMissingSample(New(KindMissingSampleAmputation, "")))
	assert.True(t, IsMissingSample(New(KindMissingSampleUnableToPrint, "")))
	assert.False(t, IsMissingSample(New(KindNoMatch, "")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidFilter, http.StatusBadRequest},
		{KindInvalidImageFormat, http.StatusBadRequest},
		{KindUnknownBackend, http.StatusNotFound},
		{KindMissingSampleAmputation, http.StatusUnprocessableEntity},
		{KindLowQuality, http.StatusUnprocessableEntity},
		{KindNoMatch, http.StatusOK},
		{KindInternal, http.StatusInternalServerError},
		{KindQualityServiceError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}
