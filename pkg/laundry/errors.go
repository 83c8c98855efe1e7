package laundry

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the laundry service.
var (
	ErrInsufficientBalance        = errors.New("insufficient balance")
	ErrInvalidMachineDescriptor   = errors.New("invalid machine descriptor")
	ErrUnknownMachine             = errors.New("unknown machine")
	ErrUnknownStore               = errors.New("unknown laundry store")
	ErrMachineUnavailable         = errors.New("machine unavailable")
	ErrUnknownReservation         = errors.New("unknown reservation")
	ErrReservationExists          = errors.New("reservation already exists")
	ErrReservationClosed          = errors.New("reservation closed")
	ErrDuplicateIdempotencyKey    = errors.New("duplicate idempotency key")
	ErrInvalidUserID              = errors.New("invalid user id")
	ErrInvalidStoreID             = errors.New("invalid store id")
	ErrInvalidMachineID           = errors.New("invalid machine id")
	ErrInvalidReservationID       = errors.New("invalid reservation id")
	ErrInvalidIdempotencyKey      = errors.New("invalid idempotency key")
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrInvalidMachineType         = errors.New("invalid machine type")
	ErrInvalidMachineStatus       = errors.New("invalid machine status")
	ErrInvalidReservationStatus   = errors.New("invalid reservation status")
	ErrInvalidPaymentStatus       = errors.New("invalid payment status")
	ErrInvalidPaymentMethod       = errors.New("invalid payment method")
	ErrInvalidEntryType           = errors.New("invalid wallet entry type")
	ErrInvalidMetadataJSON        = errors.New("invalid metadata json")
	ErrInvalidNotificationSetting = errors.New("invalid notification setting")
	ErrInvalidSearchParams        = errors.New("invalid search params")
	ErrInvalidServiceConfig       = errors.New("invalid service config")
)

// Stable error codes surfaced to clients.
const (
	CodeInsufficientBalance      = "INSUFFICIENT_BALANCE"
	CodeInvalidMachineDescriptor = "INVALID_MACHINE_DESCRIPTOR"
	CodeUnknownMachine           = "UNKNOWN_MACHINE"
	CodeUnknownStore             = "UNKNOWN_STORE"
	CodeMachineUnavailable       = "MACHINE_UNAVAILABLE"
	CodeUnknownReservation       = "UNKNOWN_RESERVATION"
	CodeDuplicateIdempotencyKey  = "DUPLICATE_IDEMPOTENCY_KEY"
	CodeInvalidArgument          = "INVALID_ARGUMENT"
	CodeInternal                 = "INTERNAL"
)

var invalidArgumentErrors = []error{
	ErrInvalidUserID,
	ErrInvalidStoreID,
	ErrInvalidMachineID,
	ErrInvalidReservationID,
	ErrInvalidIdempotencyKey,
	ErrInvalidAmount,
	ErrInvalidMachineType,
	ErrInvalidMachineStatus,
	ErrInvalidReservationStatus,
	ErrInvalidPaymentStatus,
	ErrInvalidPaymentMethod,
	ErrInvalidEntryType,
	ErrInvalidMetadataJSON,
	ErrInvalidNotificationSetting,
	ErrInvalidSearchParams,
}

// ErrorCode classifies an error into one of the stable client-facing codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrInvalidMachineDescriptor):
		return CodeInvalidMachineDescriptor
	case errors.Is(err, ErrUnknownMachine):
		return CodeUnknownMachine
	case errors.Is(err, ErrUnknownStore):
		return CodeUnknownStore
	case errors.Is(err, ErrMachineUnavailable):
		return CodeMachineUnavailable
	case errors.Is(err, ErrUnknownReservation):
		return CodeUnknownReservation
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return CodeDuplicateIdempotencyKey
	}
	for _, candidate := range invalidArgumentErrors {
		if errors.Is(err, candidate) {
			return CodeInvalidArgument
		}
	}
	return CodeInternal
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
