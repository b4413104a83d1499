package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{ErrCodeMissingInput, CategoryMissingInput, SeverityFatal, false},
		{ErrCodeEmptyArtifact, CategoryMissingInput, SeverityFatal, false},
		{ErrCodeParse, CategoryParse, SeverityError, false},
		{ErrCodeDimensionMismatch, CategoryDimension, SeverityFatal, false},
		{ErrCodeRemoteTimeout, CategoryRemote, SeverityError, true},
		{ErrCodeDatabase, CategoryDatabase, SeverityFatal, true},
		{ErrCodeQualityGate, CategoryQuality, SeverityWarning, false},
		{ErrCodeNoWork, CategoryDatabase, SeverityWarning, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestErrorsIs_MatchesByCode(t *testing.T) {
	base := stderrors.New("disk gone")
	err := fmt.Errorf("enrich failed: %w", Wrap(ErrCodeIO, base))

	assert.True(t, stderrors.Is(err, New(ErrCodeIO, "", nil)))
	assert.False(t, stderrors.Is(err, New(ErrCodeParse, "", nil)))
	assert.True(t, stderrors.Is(err, base))
}

func TestMissingInput_CarriesPath(t *testing.T) {
	err := MissingInput("/runs/r1/normalize/normalized.ndjson")
	require.Equal(t, ErrCodeMissingInput, err.Code)
	assert.Equal(t, "/runs/r1/normalize/normalized.ndjson", err.Details["path"])
	assert.Contains(t, err.Error(), "ERR_201_MISSING_INPUT")
}

func TestDimensionMismatch_Message(t *testing.T) {
	err := DimensionMismatch(1536, 1024)
	assert.Equal(t, ErrCodeDimensionMismatch, err.Code)
	assert.Contains(t, err.Message, "1536")
	assert.Contains(t, err.Message, "1024")
	assert.True(t, IsFatal(err))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeIO, nil))
}

func TestHelpers_NonPipelineError(t *testing.T) {
	plain := stderrors.New("plain")
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.Equal(t, "", CodeOf(plain))
}
