// Package errors provides structured error handling for Trailblazer.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: configuration errors
//   - 2XX: artifact and filesystem errors
//   - 3XX: remote provider errors
//   - 4XX: validation errors
//   - 5XX: database and coordination errors
//   - 6XX: internal errors
package errors

// Category classifies an error by subsystem.
type Category string

const (
	// CategoryConfig indicates invalid or missing configuration.
	CategoryConfig Category = "CONFIG"
	// CategoryMissingInput indicates an expected prior-phase artifact is absent.
	CategoryMissingInput Category = "MISSING_INPUT"
	// CategoryIO indicates artifact filesystem failures.
	CategoryIO Category = "IO"
	// CategoryParse indicates a malformed record that was skipped.
	CategoryParse Category = "PARSE"
	// CategoryRemote indicates an embedding provider call failure.
	CategoryRemote Category = "REMOTE"
	// CategoryDatabase indicates a relational store failure.
	CategoryDatabase Category = "DATABASE"
	// CategoryDimension indicates an embedding dimension conflict.
	CategoryDimension Category = "DIMENSION"
	// CategoryQuality indicates an advisory quality finding, never a blocker.
	CategoryQuality Category = "QUALITY"
	// CategoryInternal indicates an unexpected internal error.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error, the phase must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but processing continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid   = "ERR_101_CONFIG_INVALID"
	ErrCodeUnknownPhase    = "ERR_102_UNKNOWN_PHASE"
	ErrCodeUnknownProvider = "ERR_103_UNKNOWN_PROVIDER"

	// Artifact errors (200-299)
	ErrCodeMissingInput  = "ERR_201_MISSING_INPUT"
	ErrCodeEmptyArtifact = "ERR_202_EMPTY_ARTIFACT"
	ErrCodeIO            = "ERR_203_IO"
	ErrCodePhaseLocked   = "ERR_204_PHASE_LOCKED"

	// Remote errors (300-399)
	ErrCodeRemoteTimeout   = "ERR_301_REMOTE_TIMEOUT"
	ErrCodeRemoteFailed    = "ERR_302_REMOTE_FAILED"
	ErrCodeRemoteExhausted = "ERR_303_REMOTE_EXHAUSTED"

	// Validation errors (400-499)
	ErrCodeParse             = "ERR_401_PARSE"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeQualityGate       = "ERR_404_QUALITY_GATE"

	// Database errors (500-599)
	ErrCodeDatabase     = "ERR_501_DATABASE"
	ErrCodeClaimTimeout = "ERR_502_CLAIM_TIMEOUT"
	ErrCodeNoWork       = "ERR_503_NO_WORK"

	// Internal errors (600-699)
	ErrCodeInternal = "ERR_601_INTERNAL"
)

// categoryFromCode derives the category from the numeric portion of a code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		if code == ErrCodeMissingInput || code == ErrCodeEmptyArtifact {
			return CategoryMissingInput
		}
		return CategoryIO
	case '3':
		return CategoryRemote
	case '4':
		switch code {
		case ErrCodeParse:
			return CategoryParse
		case ErrCodeDimensionMismatch:
			return CategoryDimension
		case ErrCodeQualityGate:
			return CategoryQuality
		default:
			return CategoryConfig
		}
	case '5':
		return CategoryDatabase
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from the code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeParse, ErrCodeRemoteFailed, ErrCodeRemoteTimeout:
		return SeverityError
	case ErrCodeQualityGate, ErrCodeNoWork:
		return SeverityWarning
	default:
		return SeverityFatal
	}
}

// isRetryableCode reports whether operations failing with this code may be
// retried.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRemoteTimeout, ErrCodeRemoteFailed, ErrCodeDatabase:
		return true
	default:
		return false
	}
}
