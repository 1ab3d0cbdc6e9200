package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("invalid api key")
	ErrNavigation        = errors.New("navigation failed")
	ErrExtraction        = errors.New("extraction failed")
	ErrProxyUnavailable  = errors.New("proxy unavailable")
	ErrPersistence       = errors.New("persistence failed")
	ErrNoStores          = errors.New("store catalog is empty")
	ErrRequestNotFound   = errors.New("request not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ScrapeError ties a failure to the store it happened on. Kind is one of the
// sentinel errors above so callers can branch with errors.Is.
type ScrapeError struct {
	Kind    error
	Store   string
	Message string
	Err     error
}

func (e *ScrapeError) Error() string {
	msg := e.Kind.Error()
	if e.Store != "" {
		msg = e.Store + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScrapeError) Is(target error) bool {
	return target == e.Kind
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

func NewScrapeError(kind error, store, message string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Store: store, Message: message, Err: err}
}

// Validationf builds an ErrValidation-wrapped error with a caller facing message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
