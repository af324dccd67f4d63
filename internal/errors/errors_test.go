package errors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	coreerrors "github.com/mandersson1024/intonation-toy-sub003/internal/errors"
)

func TestFatalClassifiesOnlyUnrecoverableKinds(t *testing.T) {
	assert.True(t, coreerrors.ApiUnsupported.Fatal())
	assert.True(t, coreerrors.WorkletModuleLoadFailed.Fatal())
	assert.True(t, coreerrors.WorkletProcessingError.Fatal())
	assert.False(t, coreerrors.MessageDeserializationFailed.Fatal())
	assert.False(t, coreerrors.AnalysisError.Fatal())
}

func TestKindOfExtractsWrappedKind(t *testing.T) {
	cause := errors.New("boom")
	err := coreerrors.Wrap(coreerrors.AnalysisError, "detector failed", cause)

	assert.Equal(t, coreerrors.AnalysisError, coreerrors.KindOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestKindOfReturnsUnknownForPlainError(t *testing.T) {
	assert.Equal(t, coreerrors.Unknown, coreerrors.KindOf(errors.New("plain")))
}

func TestErrorMessageIncludesCauseWhenWrapped(t *testing.T) {
	cause := errors.New("underlying")
	err := coreerrors.Wrap(coreerrors.ConfigurationError, "bad config", cause)
	assert.Contains(t, err.Error(), "bad config")
	assert.Contains(t, err.Error(), "underlying")

	bare := coreerrors.New(coreerrors.ConfigurationError, "bad config")
	assert.NotContains(t, bare.Error(), "underlying")
}
