package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func conflictError(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

// alreadyAcknowledgedError is returned when a user acknowledges a document
// while holding a still-valid acknowledgment for it.
func alreadyAcknowledgedError() *DomainError {
	return domainError(http.StatusConflict, "ALREADY_ACKNOWLEDGED",
		"document already acknowledged and acknowledgment is still valid", nil)
}

func storageError(message string, err error) *DomainError {
	var details any
	if err != nil {
		details = err.Error()
	}
	return domainError(http.StatusInternalServerError, "STORAGE_ERROR", message, details)
}
