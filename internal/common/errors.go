// Package common defines shared constants and errors used across the
// m-market backend. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Error kinds. Every DomainError unwraps to exactly one of these; the
	// kind text doubles as the error name reported to HTTP clients.
	ErrCredentials    = errors.New("CredentialsError")
	ErrAuthService    = errors.New("AuthServiceError")
	ErrProhibited     = errors.New("ProhibitedError")
	ErrBanned         = errors.New("BannedError")
	ErrApplication    = errors.New("ApplicationError")
	ErrTooManyRetries = errors.New("TooManyRetriesError")
	ErrRemoteService  = errors.New("RemoteServiceError")
	ErrPasswordLength = errors.New("PasswordLengthError")
	ErrValidation     = errors.New("ValidationError")
	ErrAuthorization  = errors.New("AuthorizationError")
	ErrSession        = errors.New("SessionError")
	ErrTokenExpired   = errors.New("TokenExpiredError")
)

// DomainError carries a user-facing message together with its kind and an
// optional underlying cause.
type DomainError struct {
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

// Name returns the kind name, e.g. "CredentialsError".
func (e *DomainError) Name() string { return e.Kind.Error() }

func (e *DomainError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newDomainError(kind error, msg string) error {
	return &DomainError{Kind: kind, Message: msg}
}

func NewCredentialsError(msg string) error    { return newDomainError(ErrCredentials, msg) }
func NewAuthServiceError(msg string) error    { return newDomainError(ErrAuthService, msg) }
func NewProhibitedError(msg string) error     { return newDomainError(ErrProhibited, msg) }
func NewBannedError(msg string) error         { return newDomainError(ErrBanned, msg) }
func NewApplicationError(msg string) error    { return newDomainError(ErrApplication, msg) }
func NewTooManyRetriesError(msg string) error { return newDomainError(ErrTooManyRetries, msg) }
func NewPasswordLengthError(msg string) error { return newDomainError(ErrPasswordLength, msg) }
func NewValidationError(msg string) error     { return newDomainError(ErrValidation, msg) }
func NewAuthorizationError(msg string) error  { return newDomainError(ErrAuthorization, msg) }
func NewSessionError(msg string) error        { return newDomainError(ErrSession, msg) }
func NewTokenExpiredError(msg string) error   { return newDomainError(ErrTokenExpired, msg) }

// NewRemoteServiceError reports a failure talking to an external service.
// The message of cause, when present, becomes the error message.
func NewRemoteServiceError(msg string, cause error) error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &DomainError{Kind: ErrRemoteService, Message: msg, Err: cause}
}

// AsDomainError extracts a *DomainError from err's chain.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
