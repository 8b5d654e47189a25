package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Aliases for backward compatibility
const (
	CodeInternal       = ErrCodeInternal
	CodeInvalidParam   = ErrCodeBadRequest
	CodeNotFound       = ErrCodeNotFound
	CodeConflict       = ErrCodeConflict
	CodeRateLimit      = ErrCodeTooManyRequests
	CodeNotImplemented = ErrCodeNotImplemented
	CodeOK             = ErrorCode("OK")
	CodeUnknown        = ErrorCode("UNKNOWN")
)

// Oracle Error Codes
const (
	ErrCodeOracleTransient           ErrorCode = "ORC_001"
	ErrCodeOracleContractViolation   ErrorCode = "ORC_002"
	ErrCodeInvalidDegreeValue        ErrorCode = "ORC_003"
	ErrCodeInconsistentConfusionType ErrorCode = "ORC_004"
	ErrCodeSimilarityUnavailable     ErrorCode = "ORC_005"
	ErrCodeEmbeddingUnavailable      ErrorCode = "ORC_006"
)

// Ingestion and Storage Error Codes
const (
	ErrCodeInvalidInput       ErrorCode = "ING_001"
	ErrCodeStorageError       ErrorCode = "ING_002"
	ErrCodeIndexError         ErrorCode = "ING_003"
	ErrCodeTextExtraction     ErrorCode = "ING_004"
	ErrCodeSuperseded         ErrorCode = "ING_005"
	ErrCodeInvalidTransition  ErrorCode = "ING_006"
	ErrCodeCaseNotFound       ErrorCode = "ING_007"
	ErrCodeMessagingError     ErrorCode = "ING_008"
	ErrCodeUnsupportedObject  ErrorCode = "ING_009"
	ErrCodeGraphError         ErrorCode = "ING_010"
	ErrCodeSearchEngineError  ErrorCode = "ING_011"
	ErrCodeIngestionFailed    ErrorCode = "ING_012"
	ErrCodeConfigurationError ErrorCode = "ING_013"
)

// Kind is the coarse classification that drives retry and HTTP mapping.
type Kind string

const (
	KindTransient         Kind = "transient"
	KindContractViolation Kind = "contract_violation"
	KindInputValidation   Kind = "input_validation"
	KindUnavailable       Kind = "unavailable"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// ErrorCodeKind assigns each code its Kind. Codes not listed are KindInternal.
var ErrorCodeKind = map[ErrorCode]Kind{
	ErrCodeTooManyRequests:    KindTransient,
	ErrCodeServiceUnavailable: KindTransient,
	ErrCodeTimeout:            KindTransient,
	ErrCodeDatabaseError:      KindTransient,
	ErrCodeCacheError:         KindTransient,
	ErrCodeExternalService:    KindTransient,
	ErrCodeOracleTransient:    KindTransient,
	ErrCodeStorageError:       KindTransient,
	ErrCodeIndexError:         KindTransient,
	ErrCodeMessagingError:     KindTransient,

	ErrCodeOracleContractViolation:   KindContractViolation,
	ErrCodeInvalidDegreeValue:        KindContractViolation,
	ErrCodeInconsistentConfusionType: KindContractViolation,

	ErrCodeBadRequest:        KindInputValidation,
	ErrCodeValidation:        KindInputValidation,
	ErrCodeInvalidInput:      KindInputValidation,
	ErrCodeUnsupportedObject: KindInputValidation,

	ErrCodeSimilarityUnavailable: KindUnavailable,
	ErrCodeEmbeddingUnavailable:  KindUnavailable,

	ErrCodeNotFound:     KindNotFound,
	ErrCodeCaseNotFound: KindNotFound,
}

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeOracleTransient:           http.StatusServiceUnavailable,
	ErrCodeOracleContractViolation:   http.StatusBadGateway,
	ErrCodeInvalidDegreeValue:        http.StatusBadGateway,
	ErrCodeInconsistentConfusionType: http.StatusBadGateway,
	ErrCodeSimilarityUnavailable:     http.StatusServiceUnavailable,
	ErrCodeEmbeddingUnavailable:      http.StatusServiceUnavailable,

	ErrCodeInvalidInput:       http.StatusBadRequest,
	ErrCodeStorageError:       http.StatusInternalServerError,
	ErrCodeIndexError:         http.StatusInternalServerError,
	ErrCodeTextExtraction:     http.StatusUnprocessableEntity,
	ErrCodeSuperseded:         http.StatusConflict,
	ErrCodeInvalidTransition:  http.StatusConflict,
	ErrCodeCaseNotFound:       http.StatusNotFound,
	ErrCodeMessagingError:     http.StatusInternalServerError,
	ErrCodeUnsupportedObject:  http.StatusBadRequest,
	ErrCodeGraphError:         http.StatusInternalServerError,
	ErrCodeSearchEngineError:  http.StatusInternalServerError,
	ErrCodeIngestionFailed:    http.StatusInternalServerError,
	ErrCodeConfigurationError: http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization error",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeOracleTransient:           "oracle temporarily unavailable",
	ErrCodeOracleContractViolation:   "oracle returned a value outside its contract",
	ErrCodeInvalidDegreeValue:        "oracle returned an invalid similarity degree",
	ErrCodeInconsistentConfusionType: "confusion type set without likelihood of confusion",
	ErrCodeSimilarityUnavailable:     "similarity assessment unavailable",
	ErrCodeEmbeddingUnavailable:      "embedding unavailable",

	ErrCodeInvalidInput:       "invalid input",
	ErrCodeStorageError:       "object storage error",
	ErrCodeIndexError:         "vector index error",
	ErrCodeTextExtraction:     "failed to extract document text",
	ErrCodeSuperseded:         "ingestion superseded by a newer run",
	ErrCodeInvalidTransition:  "invalid document state transition",
	ErrCodeCaseNotFound:       "case not found",
	ErrCodeMessagingError:     "messaging error",
	ErrCodeUnsupportedObject:  "unsupported object type",
	ErrCodeGraphError:         "citation graph error",
	ErrCodeSearchEngineError:  "keyword search error",
	ErrCodeIngestionFailed:    "ingestion failed",
	ErrCodeConfigurationError: "configuration error",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// KindForCode returns the Kind of an ErrorCode.
func KindForCode(code ErrorCode) Kind {
	if k, ok := ErrorCodeKind[code]; ok {
		return k
	}
	return KindInternal
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
