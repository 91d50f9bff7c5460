// Package errs holds the verification error taxonomy shared by every layer.
// Kinds are stable codes that upstream systems map to user-facing messages.
package errs

import (
	"errors"
	"net/http"
)

// Kind is a stable, transport-independent error code.
type Kind string

const (
	KindInvalidImageFormat          Kind = "invalid_image_format"
	KindInvalidFilter               Kind = "invalid_filter"
	KindUnknownBackend              Kind = "unknown_backend"
	KindUnsupportedBackendOperation Kind = "unsupported_backend_operation"
	KindNoCandidateFound            Kind = "no_candidate_found"
	KindMissingSampleNotCaptured    Kind = "missing_sample_not_captured"
	KindMissingSampleAmputation     Kind = "missing_sample_amputation"
	KindMissingSampleUnableToPrint  Kind = "missing_sample_unable_to_print"
	KindTemplateVersionMismatch     Kind = "template_version_mismatch"
	KindLowQuality                  Kind = "low_quality"
	KindNoMatch                     Kind = "no_match"
	KindQualityServiceError         Kind = "quality_service_error"
	KindConfiguration               Kind = "configuration_error"
	KindInternal                    Kind = "internal_error"
)

// Error carries a Kind plus an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, errs.NoMatch) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons.
var (
	InvalidImageFormat          = &Error{Kind: KindInvalidImageFormat}
	InvalidFilter               = &Error{Kind: KindInvalidFilter}
	UnknownBackend              = &Error{Kind: KindUnknownBackend}
	UnsupportedBackendOperation = &Error{Kind: KindUnsupportedBackendOperation}
	NoCandidateFound            = &Error{Kind: KindNoCandidateFound}
	TemplateVersionMismatch     = &Error{Kind: KindTemplateVersionMismatch}
	LowQuality                  = &Error{Kind: KindLowQuality}
	NoMatch                     = &Error{Kind: KindNoMatch}
	QualityServiceError         = &Error{Kind: KindQualityServiceError}
	Configuration               = &Error{Kind: KindConfiguration}
)

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches kind to err. An err that already carries a kind keeps it.
func Wrap(err error, kind Kind, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: existing.Kind, Message: msg, Err: err}
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Has reports whether err carries kind.
func Has(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsMissingSample reports whether err is any of the missing-sample kinds.
func IsMissingSample(err error) bool {
	switch KindOf(err) {
	case KindMissingSampleNotCaptured, KindMissingSampleAmputation, KindMissingSampleUnableToPrint:
		return true
	}
	return false
}

// Public reports whether the message of an error of this kind may reach the caller verbatim.
func Public(kind Kind) bool {
	return kind != KindInternal && kind != KindQualityServiceError
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidImageFormat, KindInvalidFilter, KindUnsupportedBackendOperation:
		return http.StatusBadRequest
	case KindUnknownBackend, KindNoCandidateFound:
		return http.StatusNotFound
	case KindMissingSampleNotCaptured, KindMissingSampleAmputation, KindMissingSampleUnableToPrint,
		KindLowQuality, KindTemplateVersionMismatch:
		return http.StatusUnprocessableEntity
	case KindNoMatch:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
