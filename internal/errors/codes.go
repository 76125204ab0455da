package errors

import "net/http"

// Code is a machine-readable error classification.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Command validation
	CodeValidation Code = "VALIDATION"
	CodeNotFound   Code = "NOT_FOUND"

	// Economy
	CodeInsufficientResources    Code = "INSUFFICIENT_RESOURCES"
	CodeInsufficientTimeCurrency Code = "INSUFFICIENT_TIME_CURRENCY"
	CodeAlreadyPurchased         Code = "ALREADY_PURCHASED"

	// Prestige
	CodeNotEligible Code = "NOT_ELIGIBLE"

	// Snapshots
	CodeCorruptSnapshot    Code = "CORRUPT_SNAPSHOT"
	CodeVersionUnsupported Code = "VERSION_UNSUPPORTED"

	// Arithmetic
	CodeArithmeticOverflow Code = "ARITHMETIC_OVERFLOW"
	CodeDivisionByZero     Code = "DIVISION_BY_ZERO"

	// Catch-up interrupted between chunks
	CodeCatchUpCancelled Code = "CATCH_UP_CANCELLED"
)

// HTTPStatus maps a code to the status the control API responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeCorruptSnapshot, CodeVersionUnsupported:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientResources, CodeInsufficientTimeCurrency,
		CodeAlreadyPurchased, CodeNotEligible:
		return http.StatusConflict
	case CodeArithmeticOverflow, CodeDivisionByZero:
		return http.StatusUnprocessableEntity
	case CodeCatchUpCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
